package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/store"
)

type failingAdvisoryQueue struct{}

func (failingAdvisoryQueue) PollClaimQueue(_ context.Context, _ string, _ int64) ([]*queue.AdvisoryMessage, error) {
	return nil, errors.New("poll boom")
}

func TestDriver_StartTerminate_RunsAtLeastOneIteration(t *testing.T) {
	s := store.NewMemoryTaskStore()
	advisory := queue.NewMemoryAdvisoryQueue()

	r, _, _, _ := newTestResolver(advisory, s, 1, 32)
	r.driver.pollingDelay = 10 * time.Millisecond

	r.Driver().Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Driver().Terminate()

	stats := r.Driver().Stats()
	assert.GreaterOrEqual(t, stats.Iterations, int64(1))
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

func TestDriver_EscalatesAfterMaxFailures(t *testing.T) {
	s := store.NewMemoryTaskStore()

	cfg := &config.ResolverConfig{
		PollingDelay:     5 * time.Millisecond,
		Parallelism:      1,
		BatchSize:        32,
		MaxFailures:      3,
		MaxIterationTime: time.Second,
	}

	r, _, _, tel := newTestResolver(failingAdvisoryQueue{}, s, cfg.Parallelism, cfg.BatchSize)
	r.driver.pollingDelay = cfg.PollingDelay
	r.driver.maxFailures = cfg.MaxFailures

	var fatalCalls int32
	r.driver.Fatal = func(_ string) {
		atomic.AddInt32(&fatalCalls, 1)
	}

	r.Driver().Start(context.Background())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fatalCalls) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, len(tel.Alerts))
	r.Driver().Terminate()
}
