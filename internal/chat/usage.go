package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Tietve/AI-saas-sub007/internal/auth"
	"github.com/Tietve/AI-saas-sub007/internal/quota"
)

const maxUsageRows = 200

type UsageLister interface {
	ListUsage(ctx context.Context, userID string, limit int) ([]quota.UsageRecord, error)
}

// UsageHandler reports the caller's remaining budget and recent ledger rows.
type UsageHandler struct {
	ledger *quota.Ledger
	lister UsageLister
}

func NewUsageHandler(ledger *quota.Ledger, lister UsageLister) *UsageHandler {
	return &UsageHandler{ledger: ledger, lister: lister}
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxUsageRows {
		limit = 50
	}

	budget := h.ledger.CanSpend(r.Context(), principal.UserID, 0)
	switch budget.Reason {
	case quota.ReasonNoUser:
		writeError(w, http.StatusNotFound, "user not found")
		return
	case quota.ReasonStoreUnavailable:
		writeError(w, http.StatusServiceUnavailable, "quota temporarily unavailable")
		return
	}

	records, err := h.lister.ListUsage(r.Context(), principal.UserID, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "usage temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plan_tier":           budget.PlanTier,
		"monthly_token_limit": budget.Limit,
		"monthly_token_used":  budget.Used,
		"remaining":           budget.Remaining,
		"records":             records,
	})
}
