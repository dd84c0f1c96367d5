// Package handlers implements the observability API's HTTP handlers: a
// liveness probe, a resolver-stats snapshot, the exception-archive listing,
// and the active-claimant listing. Task submission, worker
// pause/resume, and DLQ management are the teacher's API surface for a
// worker-facing queue; none of it survives here (see DESIGN.md "Dropped
// teacher code").
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/claimant"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/resolver"
)

// AdminHandler serves the resolver's observability endpoints.
type AdminHandler struct {
	redis    *redis.Client
	resolver *resolver.Resolver
	archive  *queue.ExceptionArchive
}

// NewAdminHandler builds an AdminHandler. redisClient is used for the
// health check's connectivity probe; res is nil-checked, so an API server
// started without a local resolver (e.g. fronting a resolver running in a
// different process) still serves /admin/health and /metrics.
func NewAdminHandler(redisClient *redis.Client, res *resolver.Resolver, archive *queue.ExceptionArchive) *AdminHandler {
	return &AdminHandler{redis: redisClient, resolver: res, archive: archive}
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.redis.Ping(r.Context()).Err(); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"redis":  "disconnected",
			"error":  err.Error(),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"redis":  "connected",
	})
}

// ResolverStats handles GET /admin/resolver/stats: iteration count, last
// iteration duration, consecutive failures, claim-expired count, and
// retry-appended count.
func (h *AdminHandler) ResolverStats(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		h.respondError(w, http.StatusNotFound, "no resolver running in this process")
		return
	}

	driverStats := h.resolver.Driver().Stats()
	counts := h.resolver.Telemetry().Counts()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"iterations":            driverStats.Iterations,
		"last_iteration_millis": driverStats.LastIterationMillis,
		"consecutive_failures":  driverStats.ConsecutiveFailures,
		"messages_received":     driverStats.MessagesReceived,
		"messages_failed":       driverStats.MessagesFailed,
		"retry_appended_count":  counts.TaskPending,
		"claim_expired_count":   counts.TaskException,
	})
}

// ListExceptions handles GET /admin/exceptions: the runs that exhausted
// their retries and were archived rather than requeued. Accepts an
// optional ?count= (default 100) and ?offset= (a stream ID cursor, "-"
// for oldest), mirroring the teacher's ListDLQ.
func (h *AdminHandler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.respondError(w, http.StatusNotFound, "no exception archive configured in this process")
		return
	}

	count := int64(100)
	if raw := r.URL.Query().Get("count"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	entries, err := h.archive.List(r.Context(), count, r.URL.Query().Get("offset"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to list exception archive")
		h.respondError(w, http.StatusInternalServerError, "failed to list exception archive")
		return
	}

	size, err := h.archive.Size(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to size exception archive")
		h.respondError(w, http.StatusInternalServerError, "failed to size exception archive")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"size":    size,
	})
}

// ListClaimants handles GET /admin/claimants: a liveness snapshot of every
// registered claimant process, mirroring the teacher's ListWorkers/
// worker.GetActiveWorkers.
func (h *AdminHandler) ListClaimants(w http.ResponseWriter, r *http.Request) {
	claimants, err := claimant.ActiveClaimants(r.Context(), h.redis)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list active claimants")
		h.respondError(w, http.StatusInternalServerError, "failed to list active claimants")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"claimants": claimants,
		"count":     len(claimants),
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
