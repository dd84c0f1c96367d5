package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/logger"
)

// ClaimExpiryScheduler is the concrete realization of the "advisory queue
// with visibility delay" design note: claims are registered in a ZSET
// scored by their TakenUntil, and a promotion loop moves due entries into
// the claim-expiry consumer-group stream, adapted from the teacher's
// tasks:scheduled ZSET-poll-and-promote pattern.
type ClaimExpiryScheduler struct {
	client       *redis.Client
	advisory     *RedisAdvisoryQueue
	setName      string
	pollInterval time.Duration
	lockKey      string
	lockTTL      time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

const (
	defaultSchedulerPollInterval = 1 * time.Second
	defaultSchedulerLockTTL      = 5 * time.Second
)

// NewClaimExpiryScheduler builds a scheduler over setName (the ZSET of
// pending claims) that promotes due entries into advisory's stream.
func NewClaimExpiryScheduler(client *redis.Client, advisory *RedisAdvisoryQueue, setName string) *ClaimExpiryScheduler {
	return &ClaimExpiryScheduler{
		client:       client,
		advisory:     advisory,
		setName:      setName,
		pollInterval: defaultSchedulerPollInterval,
		lockKey:      setName + ":lock",
		lockTTL:      defaultSchedulerLockTTL,
		stopCh:       make(chan struct{}),
	}
}

// ScheduleClaim registers a claim whose expiration should become visible
// to the resolver at takenUntil. Called by the claimant when it starts a
// run.
func (s *ClaimExpiryScheduler) ScheduleClaim(ctx context.Context, taskID string, runID int, takenUntil time.Time) error {
	member := encodeClaimMember(taskID, runID, takenUntil)
	return s.client.ZAdd(ctx, s.setName, redis.Z{
		Score:  float64(takenUntil.Unix()),
		Member: member,
	}).Err()
}

// CancelClaim removes a previously scheduled claim, used when a claim is
// reclaimed or resolved before its original TakenUntil arrives so a stale
// advisory message is never produced for the old deadline.
func (s *ClaimExpiryScheduler) CancelClaim(ctx context.Context, taskID string, runID int, takenUntil time.Time) error {
	member := encodeClaimMember(taskID, runID, takenUntil)
	return s.client.ZRem(ctx, s.setName, member).Err()
}

// Start begins the promotion loop.
func (s *ClaimExpiryScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Info().Dur("poll_interval", s.pollInterval).Msg("claim expiry scheduler started")
}

// Stop requests the promotion loop to exit and waits for it.
func (s *ClaimExpiryScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Info().Msg("claim expiry scheduler stopped")
}

func (s *ClaimExpiryScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.promoteDue(ctx)
		}
	}
}

func (s *ClaimExpiryScheduler) promoteDue(ctx context.Context) {
	locked, err := s.client.SetNX(ctx, s.lockKey, "1", s.lockTTL).Result()
	if err != nil || !locked {
		return // another scheduler instance owns this round
	}
	defer s.client.Del(ctx, s.lockKey)

	now := time.Now().UTC()

	members, err := s.client.ZRangeByScore(ctx, s.setName, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		logger.Error().Err(err).Msg("failed to scan due claims")
		return
	}
	if len(members) == 0 {
		return
	}

	for _, member := range members {
		taskID, runID, takenUntil, ok := decodeClaimMember(member)
		if !ok {
			s.client.ZRem(ctx, s.setName, member)
			continue
		}
		if takenUntil.After(now) {
			continue // scores are whole seconds; this claim is due later in the current second
		}

		if err := s.advisory.EnqueueClaimExpiry(ctx, taskID, runID, takenUntil); err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Int("run_id", runID).Msg("failed to promote due claim")
			continue
		}
		s.client.ZRem(ctx, s.setName, member)
	}
}

func encodeClaimMember(taskID string, runID int, takenUntil time.Time) string {
	return fmt.Sprintf("%s|%d|%d", taskID, runID, takenUntil.UnixNano())
}

func decodeClaimMember(member string) (taskID string, runID int, takenUntil time.Time, ok bool) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return "", 0, time.Time{}, false
	}
	runID, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, false
	}
	return parts[0], runID, time.Unix(0, nanos).UTC(), true
}
