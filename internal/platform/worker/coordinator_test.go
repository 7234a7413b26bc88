package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHeartbeater struct {
	calls atomic.Int32
}

func (f *fakeHeartbeater) Heartbeat(_ context.Context, _, _, _ string, _ []byte) error {
	f.calls.Add(1)
	return nil
}

func TestCoordinator_WritesHeartbeats(t *testing.T) {
	store := &fakeHeartbeater{}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	c := NewCoordinator(CoordinatorConfig{
		Loop: Config{
			Name:         "test",
			PollInterval: 10 * time.Millisecond,
			Process:      func(context.Context) error { return nil },
		},
		Store:              store,
		ServiceType:        "crawler",
		Hostname:           "host-1",
		HeartbeatInterval:  20 * time.Millisecond,
	})

	_ = c.Run(ctx)

	if store.calls.Load() == 0 {
		t.Fatalf("expected at least one heartbeat write")
	}
}

func TestCoordinator_StopProcessReloadReturnsErrReloadStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c := NewCoordinator(CoordinatorConfig{
		Loop: Config{
			Name:         "test",
			PollInterval: 5 * time.Millisecond,
			Process:      func(context.Context) error { return nil },
		},
		ReloadMode: ReloadStopProcess,
		CheckReload: func(context.Context) (bool, error) {
			return true, nil
		},
	})

	err := c.Run(ctx)
	if !errors.Is(err, ErrReloadStop) {
		t.Fatalf("expected ErrReloadStop, got %v", err)
	}
}

func TestCoordinator_InPlaceReloadInvokesOnReload(t *testing.T) {
	var applied atomic.Bool

	checked := false

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := NewCoordinator(CoordinatorConfig{
		Loop: Config{
			Name:         "test",
			PollInterval: 5 * time.Millisecond,
			Process:      func(context.Context) error { return nil },
		},
		ReloadMode: ReloadInPlace,
		CheckReload: func(context.Context) (bool, error) {
			if checked {
				return false, nil
			}

			checked = true

			return true, nil
		},
		OnReload: func(context.Context) error {
			applied.Store(true)
			return nil
		},
	})

	_ = c.Run(ctx)

	if !applied.Load() {
		t.Fatalf("expected OnReload to have been invoked")
	}
}
