package claimant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/logger"
)

const (
	claimantKeyPrefix     = "claimant:"
	claimantSetKey        = "claimants:active"
	heartbeatKeySuffix    = ":heartbeat"
	claimantInfoKeySuffix = ":info"
)

// Info is a liveness/activity snapshot for one claimant process, adapted
// from the teacher's WorkerInfo (ActiveTasks renamed ActiveRuns; no
// Concurrency field since the simulator's concurrency is a local dial, not
// something an operator tunes at runtime).
type Info struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ActiveRuns    int       `json:"active_runs"`
}

// Heartbeat reports claimant liveness into Redis, adapted near-verbatim
// from worker.Heartbeat (same register/deregister/SAdd/Set-with-TTL
// mechanics), used only by the observability API to list active
// claimants, never by anything that claims or reclaims runs.
type Heartbeat struct {
	client     *redis.Client
	claimantID string
	interval   time.Duration
	timeout    time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	info       *Info
	infoMu     sync.RWMutex
}

// NewHeartbeat creates a new heartbeat reporter.
func NewHeartbeat(client *redis.Client, claimantID string, interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		client:     client,
		claimantID: claimantID,
		interval:   interval,
		timeout:    timeout,
		stopCh:     make(chan struct{}),
		info: &Info{
			ID:        claimantID,
			State:     "idle",
			StartedAt: time.Now().UTC(),
		},
	}
}

// Start begins sending heartbeats.
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.heartbeatLoop(ctx)
	h.register(ctx)
	logger.Info().Str("claimant_id", h.claimantID).Dur("interval", h.interval).Msg("claimant heartbeat started")
}

// Stop stops sending heartbeats and deregisters the claimant.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.deregister(ctx)

	logger.Info().Str("claimant_id", h.claimantID).Msg("claimant heartbeat stopped")
}

// UpdateState records the claimant's current operational state.
func (h *Heartbeat) UpdateState(state string) {
	h.infoMu.Lock()
	h.info.State = state
	h.infoMu.Unlock()
}

// UpdateActiveRuns records the current in-flight run count.
func (h *Heartbeat) UpdateActiveRuns(count int) {
	h.infoMu.Lock()
	h.info.ActiveRuns = count
	h.infoMu.Unlock()
}

func (h *Heartbeat) heartbeatLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sendHeartbeat(ctx)
		}
	}
}

func (h *Heartbeat) sendHeartbeat(ctx context.Context) {
	now := time.Now().UTC()

	if err := h.client.Set(ctx, h.heartbeatKey(), now.Unix(), h.timeout).Err(); err != nil {
		logger.Error().Err(err).Str("claimant_id", h.claimantID).Msg("failed to send claimant heartbeat")
		return
	}

	h.infoMu.Lock()
	h.info.LastHeartbeat = now
	infoData, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	if err := h.client.Set(ctx, h.infoKey(), infoData, h.timeout*2).Err(); err != nil {
		logger.Error().Err(err).Str("claimant_id", h.claimantID).Msg("failed to update claimant info")
	}

	h.client.SAdd(ctx, claimantSetKey, h.claimantID)
}

func (h *Heartbeat) register(ctx context.Context) {
	h.client.SAdd(ctx, claimantSetKey, h.claimantID)

	h.infoMu.Lock()
	h.info.StartedAt = time.Now().UTC()
	infoData, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	h.client.Set(ctx, h.infoKey(), infoData, h.timeout*2)
}

func (h *Heartbeat) deregister(ctx context.Context) {
	h.client.SRem(ctx, claimantSetKey, h.claimantID)
	h.client.Del(ctx, h.heartbeatKey(), h.infoKey())
}

func (h *Heartbeat) heartbeatKey() string {
	return fmt.Sprintf("%s%s%s", claimantKeyPrefix, h.claimantID, heartbeatKeySuffix)
}

func (h *Heartbeat) infoKey() string {
	return fmt.Sprintf("%s%s%s", claimantKeyPrefix, h.claimantID, claimantInfoKeySuffix)
}

// ActiveClaimants returns a liveness snapshot for every registered claimant.
func ActiveClaimants(ctx context.Context, client *redis.Client) ([]Info, error) {
	ids, err := client.SMembers(ctx, claimantSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active claimants: %w", err)
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		infoKey := fmt.Sprintf("%s%s%s", claimantKeyPrefix, id, claimantInfoKeySuffix)
		data, err := client.Get(ctx, infoKey).Bytes()
		if err == redis.Nil {
			client.SRem(ctx, claimantSetKey, id)
			continue
		}
		if err != nil {
			continue
		}

		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}
