package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_ReserveEnforcesSpacing(t *testing.T) {
	g := New(NewMemoryBackend(), 10*time.Millisecond, nil)
	ctx := context.Background()

	_, err := g.Reserve(ctx, "example.gov")
	require.NoError(t, err)

	require.NoError(t, g.Report(ctx, "example.gov", OutcomeSuccess))

	start := time.Now()
	_, err = g.Reserve(ctx, "example.gov")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), DefaultDelay-5*time.Millisecond)
}

// TestGovernor_BackoffOnRateLimit exercises S3: after two consecutive 429s
// the delay must at least double and in_backoff must be set; after ten
// subsequent successes, backoff clears and the delay decays below its peak.
func TestGovernor_BackoffOnRateLimit(t *testing.T) {
	backend := NewMemoryBackend()
	g := New(backend, DefaultFloor, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Report(ctx, "slow.gov", OutcomeSuccess))
	}

	before, err := backend.Load(ctx, "slow.gov")
	require.NoError(t, err)

	require.NoError(t, g.Report(ctx, "slow.gov", OutcomeRateLimited))
	require.NoError(t, g.Report(ctx, "slow.gov", OutcomeRateLimited))

	after, err := backend.Load(ctx, "slow.gov")
	require.NoError(t, err)

	assert.True(t, after.InBackoff)
	assert.GreaterOrEqual(t, after.CurrentDelay, before.CurrentDelay*2)

	peak := after.CurrentDelay

	for i := 0; i < successesToClearBackoff; i++ {
		require.NoError(t, g.Report(ctx, "slow.gov", OutcomeSuccess))
	}

	final, err := backend.Load(ctx, "slow.gov")
	require.NoError(t, err)

	assert.False(t, final.InBackoff)
	assert.Less(t, final.CurrentDelay, peak)
}

func TestGovernor_TransportErrorGrowsDelayCapped(t *testing.T) {
	backend := NewMemoryBackend()
	g := New(backend, DefaultFloor, nil)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		require.NoError(t, g.Report(ctx, "flaky.gov", OutcomeTransportError))
	}

	state, err := backend.Load(ctx, "flaky.gov")
	require.NoError(t, err)
	assert.LessOrEqual(t, state.CurrentDelay, MaxTransportDelay)
}

func TestGovernor_DomainsAreIndependent(t *testing.T) {
	backend := NewMemoryBackend()
	g := New(backend, DefaultFloor, nil)
	ctx := context.Background()

	require.NoError(t, g.Report(ctx, "a.gov", OutcomeRateLimited))

	bState, err := backend.Load(ctx, "b.gov")
	require.NoError(t, err)
	assert.False(t, bState.InBackoff)
	assert.Equal(t, DefaultDelay, bState.CurrentDelay)
}

func TestMemoryBackend_TryAcquireSlotSpaces(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	ok, err := b.TryAcquireSlot(ctx, "example.gov", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquireSlot(ctx, "example.gov", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire within the delay window must fail")
}
