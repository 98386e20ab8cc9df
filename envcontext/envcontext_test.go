package envcontext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposite(t *testing.T) {
	c := NewComposite(nil).
		Add("weather", Static{"weather": "rain", "temp_c": 12}).
		Add("broken", Func(func(context.Context) (Snapshot, error) { return nil, errors.New("no gps") })).
		Add("panicky", Func(func(context.Context) (Snapshot, error) { panic("boom") })).
		Add("override", Static{"temp_c": 14})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rain", snap["weather"])
	assert.Equal(t, 14, snap["temp_c"])
	assert.Len(t, snap, 2)
}

func TestMerge(t *testing.T) {
	frozen := Snapshot{"a": 1, "b": 2}
	fresh := Snapshot{"b": 3}
	out := Merge(frozen, fresh)
	assert.Equal(t, Snapshot{"a": 1, "b": 3}, out)
	assert.Equal(t, 2, frozen["b"])
}
