package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresTimersInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	stopped := c.AfterFunc(90*time.Second, func() { order = append(order, "stopped") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, c.Pending())

	c.Advance(time.Minute)
	assert.Equal(t, []string{"a"}, order)

	c.Set(start.Add(time.Hour))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Zero(t, c.Pending())
	assert.Equal(t, start.Add(time.Hour), c.Now())
}

func TestFakeCallbackMayRearm(t *testing.T) {
	c := NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	fired := 0
	var tick func()
	tick = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(0, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(time.Second)
	assert.Equal(t, 3, fired)
}

func TestFakeImmediateTimer(t *testing.T) {
	c := NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	fired := false
	timer := c.AfterFunc(0, func() { fired = true })
	assert.True(t, fired)
	assert.False(t, timer.Stop())
}
