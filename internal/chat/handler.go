// Package chat serves the spend-bearing completion endpoint. Every request
// is priced before it runs and recorded after it finishes.
package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Tietve/AI-saas-sub007/internal/auth"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
	"github.com/Tietve/AI-saas-sub007/internal/quota"
)

const (
	DefaultMaxTokens     = 512
	IdempotencyKeyHeader = "Idempotency-Key"
	maxJSONBodyBytes     = 1 << 20
	maxMessages          = 200
)

type Handler struct {
	ledger           *quota.Ledger
	completer        Completer
	estimator        Estimator
	logger           *observability.Logger
	defaultMaxTokens int64
}

func NewHandler(ledger *quota.Ledger, completer Completer, estimator Estimator, logger *observability.Logger) *Handler {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &Handler{
		ledger:           ledger,
		completer:        completer,
		estimator:        estimator,
		logger:           logger,
		defaultMaxTokens: DefaultMaxTokens,
	}
}

type completionRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	MaxTokens      int64     `json:"max_tokens"`
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id"`
}

type usageBody struct {
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
	CostUSD   string `json:"cost_usd"`
}

type completionResponse struct {
	Message           Message        `json:"message"`
	Model             string         `json:"model"`
	Usage             usageBody      `json:"usage"`
	PlanTier          quota.PlanTier `json:"plan_tier"`
	MonthlyTokenUsed  int64          `json:"monthly_token_used"`
	MonthlyTokenLimit int64          `json:"monthly_token_limit"`
	Remaining         int64          `json:"remaining"`
	NearLimit         bool           `json:"near_limit"`
	Duplicate         bool           `json:"duplicate"`
	UsageRecorded     bool           `json:"usage_recorded"`
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body completionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Model = strings.TrimSpace(body.Model)
	if body.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(body.Messages) == 0 || len(body.Messages) > maxMessages {
		writeError(w, http.StatusBadRequest, "messages must contain between 1 and 200 entries")
		return
	}
	if body.MaxTokens < 0 {
		writeError(w, http.StatusBadRequest, "max_tokens must not be negative")
		return
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = h.defaultMaxTokens
	}
	if body.RequestID == "" {
		body.RequestID = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	}

	estimate := h.estimator.CountMessages(body.Messages) + body.MaxTokens
	check := h.ledger.CanSpend(r.Context(), principal.UserID, estimate)
	if !check.OK {
		writeQuotaRejection(w, check)
		return
	}

	completion, err := h.completer.Complete(r.Context(), CompletionRequest{
		Model:     body.Model,
		Messages:  body.Messages,
		MaxTokens: body.MaxTokens,
	})
	if err != nil {
		h.logger.Error("chat_completion_failed", map[string]any{
			"user_id": principal.UserID,
			"model":   body.Model,
			"error":   err.Error(),
		})
		observability.CaptureError(err, map[string]string{"component": "chat", "model": body.Model})
		writeError(w, http.StatusBadGateway, "completion failed")
		return
	}

	resp := completionResponse{
		Message: Message{Role: "assistant", Content: completion.Content},
		Model:   body.Model,
		Usage: usageBody{
			TokensIn:  completion.TokensIn,
			TokensOut: completion.TokensOut,
		},
		PlanTier: check.PlanTier,
	}

	recorded, err := h.ledger.RecordUsage(r.Context(), quota.UsageInput{
		UserID:    principal.UserID,
		Model:     body.Model,
		TokensIn:  completion.TokensIn,
		TokensOut: completion.TokensOut,
		Meta: quota.Meta{
			RequestID:      body.RequestID,
			Provider:       completion.Provider,
			ConversationID: body.ConversationID,
		},
	})
	if err != nil {
		// The completion already ran; answer it and leave reconciliation to
		// the error report.
		observability.CaptureError(err, map[string]string{"component": "quota", "user_id": principal.UserID})
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Usage.CostUSD = recorded.CostUSD.String()
	resp.PlanTier = recorded.PlanTier
	resp.MonthlyTokenUsed = recorded.MonthlyTokenUsed
	resp.MonthlyTokenLimit = recorded.MonthlyTokenLimit
	resp.Remaining = recorded.Remaining
	resp.NearLimit = recorded.NearLimit
	resp.Duplicate = recorded.Skipped
	resp.UsageRecorded = true

	if recorded.NearLimit {
		w.Header().Set("X-Quota-Warning", "near_limit")
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeQuotaRejection(w http.ResponseWriter, check quota.CanSpendResult) {
	switch check.Reason {
	case quota.ReasonNoUser:
		writeError(w, http.StatusNotFound, "user not found")
	case quota.ReasonStoreUnavailable:
		writeError(w, http.StatusServiceUnavailable, "quota temporarily unavailable")
	default:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":           "quota exceeded",
			"reason":          check.Reason,
			"plan_tier":       check.PlanTier,
			"limit":           check.Limit,
			"used":            check.Used,
			"remaining":       check.Remaining,
			"would_exceed_by": check.WouldExceedBy,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
