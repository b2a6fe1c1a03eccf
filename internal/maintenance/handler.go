package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	defaultRetention = 400 * 24 * time.Hour
	defaultBatchSize = 500
	maxBatches       = 100
)

// UsageStore is the slice of the quota repository the cron job needs.
// DeleteUsageBefore removes at most batchSize records older than cutoff;
// ResetMonthlyUsage zeroes counters not yet reset in now's calendar month.
type UsageStore interface {
	DeleteUsageBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	ResetMonthlyUsage(ctx context.Context, now time.Time) (int64, error)
}

type CleanupResult struct {
	ResetAccounts       int64     `json:"reset_accounts"`
	DeletedUsageRecords int64     `json:"deleted_usage_records"`
	Cutoff              time.Time `json:"cutoff"`
	Batches             int       `json:"batches"`
}

type CleanupHandler struct {
	usage      UsageStore
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(
	usage UsageStore,
	logger *observability.Logger,
	cronSecret string,
	retention time.Duration,
	batchSize int,
) *CleanupHandler {
	if retention <= 0 {
		retention = defaultRetention
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &CleanupHandler{
		usage:      usage,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.purge(r.Context())
	if err != nil {
		h.logger.Error("usage_cleanup_failed", map[string]any{
			"error":   err.Error(),
			"deleted": result.DeletedUsageRecords,
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("usage_cleanup_completed", map[string]any{
		"reset_accounts":        result.ResetAccounts,
		"deleted_usage_records": result.DeletedUsageRecords,
		"batches":               result.Batches,
		"cutoff":                result.Cutoff.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// purge rolls monthly counters over, then deletes expired usage in batches
// until a short batch so one run never holds a long lock on the table.
func (h *CleanupHandler) purge(ctx context.Context) (CleanupResult, error) {
	now := h.now().UTC()
	result := CleanupResult{Cutoff: now.Add(-h.retention)}

	reset, err := h.usage.ResetMonthlyUsage(ctx, now)
	if err != nil {
		return result, err
	}
	result.ResetAccounts = reset

	for result.Batches < maxBatches {
		deleted, err := h.usage.DeleteUsageBefore(ctx, result.Cutoff, h.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.DeletedUsageRecords += deleted
		if deleted < int64(h.batchSize) {
			break
		}
	}

	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
