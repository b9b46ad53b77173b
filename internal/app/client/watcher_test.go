package client

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/notify"
)

type fakePinger struct {
	down atomic.Bool
}

func (p *fakePinger) HealthCheck(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestWatcher_Transitions(t *testing.T) {
	pinger := &fakePinger{}
	bus := notify.NewBus(16)
	events, cancel := bus.Subscribe()
	defer cancel()

	w := NewWatcher(pinger, bus, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var changes []bool
	var triggered int
	w.OnChange(func(online bool) { changes = append(changes, online) })
	w.OnOnline(func() { triggered++ })

	assert.False(t, w.Online())

	ctx := context.Background()
	assert.True(t, w.Check(ctx))
	assert.True(t, w.Check(ctx))

	pinger.down.Store(true)
	assert.False(t, w.Check(ctx))
	assert.False(t, w.Check(ctx))

	pinger.down.Store(false)
	assert.True(t, w.Check(ctx))

	assert.Equal(t, []bool{true, false, true}, changes)
	assert.Equal(t, 2, triggered)

	var got []notify.Type
	for len(got) < 3 {
		got = append(got, (<-events).Type)
	}
	assert.Equal(t, []notify.Type{notify.Online, notify.Offline, notify.Online}, got)
}

func TestWatcher_CancelledCheckKeepsState(t *testing.T) {
	pinger := &fakePinger{}
	w := NewWatcher(pinger, nil, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.True(t, w.Check(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pinger.down.Store(true)
	assert.True(t, w.Check(ctx))
}

func TestWatcher_StartsOffline(t *testing.T) {
	pinger := &fakePinger{}
	pinger.down.Store(true)
	bus := notify.NewBus(16)
	events, cancel := bus.Subscribe()
	defer cancel()

	w := NewWatcher(pinger, bus, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var changes []bool
	w.OnChange(func(online bool) { changes = append(changes, online) })

	ctx := context.Background()
	assert.False(t, w.Check(ctx))
	assert.False(t, w.Check(ctx))

	assert.Equal(t, []bool{false}, changes)
	e := <-events
	assert.Equal(t, notify.Offline, e.Type)
	assert.Equal(t, "connection refused", e.Error)
	assert.Empty(t, events)
}
