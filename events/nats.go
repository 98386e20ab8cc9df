package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every published event name.
const SubjectPrefix = "dailyplan.event."

// Publisher is the subset of *nats.Conn used by the bridge.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSBridge republishes bus events as JSON on NATS so the native layer and
// other processes can observe them.
type NATSBridge struct {
	pub    Publisher
	logger *slog.Logger
}

// NewNATSBridge creates a bridge publishing through pub.
func NewNATSBridge(pub Publisher, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{pub: pub, logger: logger}
}

// Subject returns the subject an event name is published on.
func Subject(name Name) string {
	return SubjectPrefix + strings.ToLower(string(name))
}

// Attach subscribes the bridge to bus.
func (n *NATSBridge) Attach(bus *Bus) func() {
	return bus.Subscribe(n.Handle)
}

// Handle publishes e.
func (n *NATSBridge) Handle(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		n.logger.Warn("Failed to marshal event", "event", e.Name, "error", err)
		return
	}
	if err := n.pub.Publish(Subject(e.Name), data); err != nil {
		n.logger.Warn("Failed to publish event", "event", e.Name, "error", err)
	}
}
