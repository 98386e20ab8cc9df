package breaker

import (
	"context"
	"errors"

	"github.com/viperdam/body-mode-sub006/storage"
)

// StateStore persists breaker state.
type StateStore interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context, name string) (*State, error)
	Save(ctx context.Context, st *State) error
}

// KeyedStore keeps each breaker under circuit_breaker_<name>.
type KeyedStore struct {
	Store storage.Store
}

// Load reads the state for name.
func (k KeyedStore) Load(ctx context.Context, name string) (*State, error) {
	var st State
	if err := storage.GetJSON(ctx, k.Store, storage.BreakerKey(name), &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// Save writes st.
func (k KeyedStore) Save(ctx context.Context, st *State) error {
	return storage.SetJSON(ctx, k.Store, storage.BreakerKey(st.Name), st)
}
