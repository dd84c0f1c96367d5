package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/dependency"
	"github.com/maumercado/claim-resolver/internal/events"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/telemetry"
)

// Resolver wires the Iteration Driver, Poll Fan-out, and Message Handler
// over one set of adapters. One process runs one Resolver; Parallelism
// controls how many poll loops it runs per iteration, not how many
// Resolvers exist.
type Resolver struct {
	handler  *Handler
	advisory queue.AdvisoryQueue
	tel      telemetry.Telemetry

	consumerID  string
	parallelism int
	batchSize   int64

	driver *Driver
}

// Stats is a point-in-time snapshot of resolver activity, surfaced by the
// observability API's /admin/resolver/stats endpoint.
type Stats struct {
	Iterations          int64
	LastIterationMillis int64
	ConsecutiveFailures int
	MessagesReceived    int64
	MessagesFailed      int64
}

// New builds a Resolver from its adapters and configuration.
func New(
	s store.TaskStore,
	advisory queue.AdvisoryQueue,
	pending queue.PendingQueue,
	publisher events.Publisher,
	tracker dependency.Tracker,
	tel telemetry.Telemetry,
	archive queue.ExceptionArchiver,
	cfg *config.ResolverConfig,
) *Resolver {
	r := &Resolver{
		handler:     NewHandler(s, pending, publisher, tracker, tel, archive),
		advisory:    advisory,
		tel:         tel,
		consumerID:  fmt.Sprintf("resolver-%s", uuid.New().String()[:8]),
		parallelism: cfg.Parallelism,
		batchSize:   cfg.BatchSize,
	}
	r.driver = NewDriver(r, cfg)
	return r
}

// Driver returns the Resolver's Iteration Driver, for Start/Terminate and
// Stats reads by cmd/resolver and the observability API.
func (r *Resolver) Driver() *Driver {
	return r.driver
}

// Telemetry returns the Resolver's telemetry sink, for the observability
// API's retry-appended/claim-expired counts.
func (r *Resolver) Telemetry() telemetry.Telemetry {
	return r.tel
}

// poll runs one iteration: the Poll Fan-out, then one telemetry record.
func (r *Resolver) poll(ctx context.Context) fanOutResult {
	result := r.fanOut(ctx)
	r.tel.PollRecorded(result.received, result.failed, "claim")
	return result
}
