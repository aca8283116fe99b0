package downstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyim/access-node/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

// TestCallWithBudgetSucceedsFirstTry covers the common case: one attempt,
// no retries burned.
func TestCallWithBudgetSucceedsFirstTry(t *testing.T) {
	cfg := newTestConfig(t)
	calls := 0
	err := callWithBudget(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestCallWithBudgetRetriesUpToMaxRetry covers max_retry (C10): a call
// that always fails is attempted max_retry+1 times total, then gives up
// with the last error.
func TestCallWithBudgetRetriesUpToMaxRetry(t *testing.T) {
	cfg := newTestConfig(t)
	wantErr := errors.New("downstream unavailable")
	calls := 0
	err := callWithBudget(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.EqualValues(t, cfg.MaxRetry()+1, calls)
}

// TestCallWithBudgetStopsOnCallerCancellation covers the case where the
// caller's own context is already done: no point burning the retry
// budget against a request nobody is waiting on anymore.
func TestCallWithBudgetStopsOnCallerCancellation(t *testing.T) {
	cfg := newTestConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := callWithBudget(ctx, cfg, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a cancelled caller context must not be retried")
}
