package resolver

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/maumercado/claim-resolver/internal/logger"
)

// fanOutResult is one iteration's tally, rolled up by poll() into the
// telemetry record spec.md §4.B.5 describes. received/failed count
// individual advisory messages (failed = handler errors, not acked);
// pollErrors counts poll loops that could not even fetch a batch, a
// distinct iteration-level failure mode the Driver escalates on.
type fanOutResult struct {
	received   int
	failed     int
	pollErrors int
}

// fanOut runs parallelism concurrent poll loops for one iteration, each
// pulling a batch of up to batchSize advisory messages and dispatching them
// to the handler concurrently. Grounded on the teacher's worker.Pool
// goroutine-per-slot loop and its concurrencySem buffered-channel
// semaphore, here bounding per-batch handler concurrency instead of
// per-pool task concurrency.
func (r *Resolver) fanOut(ctx context.Context) fanOutResult {
	var (
		wg           sync.WaitGroup
		received     int64
		failed       int64
		pollErrors   int64
		consumerBase = r.consumerID
	)

	wg.Add(r.parallelism)
	for i := 0; i < r.parallelism; i++ {
		go func(loopNum int) {
			defer wg.Done()

			consumerID := consumerBase
			if r.parallelism > 1 {
				consumerID = consumerBase + "-" + strconv.Itoa(loopNum)
			}

			messages, err := r.advisory.PollClaimQueue(ctx, consumerID, r.batchSize)
			if err != nil {
				logger.Error().Err(err).Str("consumer_id", consumerID).Msg("failed to poll claim-expiry queue")
				atomic.AddInt64(&pollErrors, 1)
				return
			}
			if len(messages) == 0 {
				return
			}

			atomic.AddInt64(&received, int64(len(messages)))

			sem := make(chan struct{}, r.batchSize)
			var handlerWG sync.WaitGroup
			for _, msg := range messages {
				msg := msg
				sem <- struct{}{}
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() { <-sem }()

					if err := r.handler.Handle(ctx, msg); err != nil {
						logger.Error().
							Err(err).
							Str("task_id", msg.TaskID).
							Int("run_id", msg.RunID).
							Msg("claim-expiry handler failed")
						atomic.AddInt64(&failed, 1)
					}
				}()
			}
			handlerWG.Wait()
		}(i)
	}
	wg.Wait()

	return fanOutResult{received: int(received), failed: int(failed), pollErrors: int(pollErrors)}
}
