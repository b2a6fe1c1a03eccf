package chat

import (
	"context"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int64
}

type Completion struct {
	Content   string
	Provider  string
	TokensIn  int64
	TokensOut int64
}

// Completer is the AI provider behind the chat endpoint.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// EchoCompleter answers with the last user message. It stands in for a
// provider in local runs and tests.
type EchoCompleter struct {
	Estimator Estimator
}

func (e EchoCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}

	estimator := e.Estimator
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			last = req.Messages[i].Content
			break
		}
	}

	reply := last
	out := approxTokens(reply)
	if req.MaxTokens > 0 && out > req.MaxTokens {
		reply = string([]rune(reply)[:req.MaxTokens*4])
		out = req.MaxTokens
	}

	return Completion{
		Content:   reply,
		Provider:  "echo",
		TokensIn:  estimator.CountMessages(req.Messages),
		TokensOut: out,
	}, nil
}
