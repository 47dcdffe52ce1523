package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/internal/schema"
)

func TestGuarded_RateLimitsActions(t *testing.T) {
	fake := NewFakeRuntime()
	fake.AddContainer(InspectInfo{ID: "c1", Name: "svc-a", Status: schema.StatusRunning})

	g := NewGuarded(fake, NewBreaker(5, 30*time.Second), NewRateLimiter(2))
	ctx := context.Background()

	require.NoError(t, g.Restart(ctx, "svc-a", 10))
	require.NoError(t, g.Restart(ctx, "svc-a", 10))

	err := g.Restart(ctx, "svc-a", 10)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))

	// Reads bypass the action budget.
	_, err = g.Inspect(ctx, "svc-a")
	require.NoError(t, err)
}

func TestGuarded_BreakerTripsOnDaemonFailures(t *testing.T) {
	fake := NewFakeRuntime()
	fake.StatsErr = errors.New("daemon connection reset")

	g := NewGuarded(fake, NewBreaker(3, 30*time.Second), NewRateLimiter(60))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Stats(ctx, "c1")
		require.Error(t, err)
	}

	_, err := g.Stats(ctx, "c1")
	var openErr *BreakerOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestGuarded_NotFoundDoesNotTrip(t *testing.T) {
	fake := NewFakeRuntime()

	g := NewGuarded(fake, NewBreaker(2, 30*time.Second), NewRateLimiter(60))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Inspect(ctx, "missing")
		require.Error(t, err)
	}

	assert.Equal(t, BreakerClosed, g.Breaker().State())
}

func TestGuarded_SuccessResetsBreaker(t *testing.T) {
	fake := NewFakeRuntime()
	fake.AddContainer(InspectInfo{ID: "c1", Name: "svc-a", Status: schema.StatusRunning})
	fake.StatsErr = errors.New("daemon connection reset")

	g := NewGuarded(fake, NewBreaker(3, 30*time.Second), NewRateLimiter(60))
	ctx := context.Background()

	_, _ = g.Stats(ctx, "c1")
	_, _ = g.Stats(ctx, "c1")

	_, err := g.Inspect(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, g.Breaker().State())
}
