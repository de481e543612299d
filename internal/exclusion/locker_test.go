package exclusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	l := NewInMemoryLocker()
	ctx := context.Background()

	release, acquired, err := l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Held lock is not re-acquirable.
	_, again, err := l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	// A different name is independent.
	r2, other, err := l.Acquire(ctx, "case-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
	r2()

	release()
	_, reacquired, err := l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewInMemoryLocker()
	ctx := context.Background()

	release, acquired, err := l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	release()

	// Re-acquire, then fire the stale release again: the new hold must
	// survive.
	_, acquired, err = l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	release()

	_, stolen, err := l.Acquire(ctx, "case-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, stolen)
}

func TestTTLExpiry(t *testing.T) {
	l := NewInMemoryLocker()
	ctx := context.Background()

	now := time.Now()
	l.SetClock(func() time.Time { return now })

	_, acquired, err := l.Acquire(ctx, "case-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// Before expiry: still held.
	now = now.Add(29 * time.Second)
	_, early, err := l.Acquire(ctx, "case-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, early)

	// After expiry: claimable, as if the crashed holder never released.
	now = now.Add(2 * time.Second)
	_, late, err := l.Acquire(ctx, "case-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, late)
}
