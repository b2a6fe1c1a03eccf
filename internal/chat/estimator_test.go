package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicEstimator(t *testing.T) {
	est := HeuristicEstimator{}

	assert.Equal(t, int64(replyPriming), est.CountMessages(nil))
	// role "user" = 1, "hello world" (11 runes) = 3, plus overheads.
	got := est.CountMessages([]Message{{Role: "user", Content: "hello world"}})
	assert.Equal(t, int64(replyPriming+tokensPerMessage+1+3), got)

	assert.Equal(t, int64(1), approxTokens("héé"), "counts runes, not bytes")
}

func TestTokenEstimatorWithoutEncodingFallsBack(t *testing.T) {
	msgs := []Message{{Role: "user", Content: strings.Repeat("a", 40)}}

	var nilEstimator *TokenEstimator
	assert.Equal(t, HeuristicEstimator{}.CountMessages(msgs), nilEstimator.CountMessages(msgs))
	assert.Equal(t, HeuristicEstimator{}.CountMessages(msgs), (&TokenEstimator{}).CountMessages(msgs))
}

func TestEchoCompleter(t *testing.T) {
	c := EchoCompleter{}

	out, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "ping"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ping", out.Content)
	assert.Equal(t, "echo", out.Provider)
	assert.Equal(t, int64(1), out.TokensOut)
	assert.Positive(t, out.TokensIn)

	out, err = c.Complete(context.Background(), CompletionRequest{
		Messages:  []Message{{Role: "user", Content: strings.Repeat("x", 100)}},
		MaxTokens: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.TokensOut)
	assert.Len(t, out.Content, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
