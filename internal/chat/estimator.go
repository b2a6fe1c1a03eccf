package chat

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	defaultEncoding  = "cl100k_base"
	tokensPerMessage = 3
	replyPriming     = 3
)

// Estimator counts the prompt tokens a request will be billed for.
type Estimator interface {
	CountMessages(messages []Message) int64
}

// TokenEstimator counts with a BPE encoding and falls back to a
// characters-per-token heuristic when the encoding could not be loaded.
type TokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

func NewTokenEstimator(logger *observability.Logger) *TokenEstimator {
	encoding, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		logger.Warn("token_encoding_unavailable", map[string]any{
			"encoding": defaultEncoding,
			"error":    err.Error(),
		})
		return &TokenEstimator{}
	}
	return &TokenEstimator{encoding: encoding}
}

func (e *TokenEstimator) CountMessages(messages []Message) int64 {
	if e == nil || e.encoding == nil {
		return HeuristicEstimator{}.CountMessages(messages)
	}

	total := replyPriming
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(e.encoding.Encode(msg.Role, nil, nil))
		total += len(e.encoding.Encode(msg.Content, nil, nil))
	}
	return int64(total)
}

// HeuristicEstimator assumes four characters per token, rounded up.
type HeuristicEstimator struct{}

func (HeuristicEstimator) CountMessages(messages []Message) int64 {
	total := int64(replyPriming)
	for _, msg := range messages {
		total += tokensPerMessage + approxTokens(msg.Role) + approxTokens(msg.Content)
	}
	return total
}

func approxTokens(text string) int64 {
	return int64((utf8.RuneCountInString(text) + 3) / 4)
}
