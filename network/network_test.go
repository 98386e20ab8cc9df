package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorFiresOnlyOnRestore(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(true)
	m := NewMonitor(s, time.Hour)

	fired := 0
	m.OnRestored(func(context.Context) { fired++ })

	assert.True(t, m.Check(ctx))
	assert.Equal(t, 0, fired, "first observation is not a transition")

	s.Set(false)
	assert.False(t, m.Check(ctx))
	assert.False(t, m.Check(ctx))
	assert.Equal(t, 0, fired)

	s.Set(true)
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))
	assert.Equal(t, 1, fired)
}

func TestMonitorStartStop(t *testing.T) {
	m := NewMonitor(NewStatic(true), 10*time.Millisecond)
	m.Start(context.Background())
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}

func TestProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	up := &Probe{Hosts: []string{ln.Addr().String()}, Timeout: time.Second}
	assert.True(t, up.IsConnected(context.Background()))

	// grab a free port then close it so nothing listens there
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := dead.Addr().String()
	dead.Close()

	down := &Probe{Hosts: []string{addr}, Timeout: 200 * time.Millisecond}
	assert.False(t, down.IsConnected(context.Background()))
}
