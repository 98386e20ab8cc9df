// Package envcontext gathers the environmental signals (weather, location,
// health data, nutrition logs) merged into a generation request. The payload
// is opaque to the pipeline.
package envcontext

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
)

// Snapshot is an opaque bag of context values.
type Snapshot map[string]any

// Source produces a snapshot.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Static returns the same snapshot every time.
type Static Snapshot

// Snapshot returns a copy of s.
func (s Static) Snapshot(context.Context) (Snapshot, error) {
	return maps.Clone(Snapshot(s)), nil
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (Snapshot, error)

// Snapshot calls f.
func (f Func) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Composite merges several named sources. Later sources overwrite earlier
// keys. A failing source is logged and skipped.
type Composite struct {
	sources []named
	logger  *slog.Logger
}

type named struct {
	name string
	src  Source
}

// NewComposite creates an empty Composite.
func NewComposite(logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{logger: logger}
}

// Add appends a source.
func (c *Composite) Add(name string, src Source) *Composite {
	c.sources = append(c.sources, named{name, src})
	return c
}

// Snapshot merges every source.
func (c *Composite) Snapshot(ctx context.Context) (Snapshot, error) {
	out := Snapshot{}
	for _, s := range c.sources {
		snap, err := safeSnapshot(ctx, s.src)
		if err != nil {
			c.logger.Warn("Context source failed", "source", s.name, "error", err)
			continue
		}
		maps.Copy(out, snap)
	}
	return out, nil
}

func safeSnapshot(ctx context.Context, src Source) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return src.Snapshot(ctx)
}

// Merge overlays fresh onto frozen without mutating either.
func Merge(frozen, fresh Snapshot) Snapshot {
	out := make(Snapshot, len(frozen)+len(fresh))
	maps.Copy(out, frozen)
	maps.Copy(out, fresh)
	return out
}
