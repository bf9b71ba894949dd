// Package ai generates reply suggestions and the subtext analysis through a
// remote LLM.
package ai

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when the model produced no content at all.
	ErrEmptyResponse = errors.New("ai: empty model response")
	// ErrMalformedResponse marks content that could not be parsed as the
	// expected JSON. ReplyService degrades instead of returning it.
	ErrMalformedResponse = errors.New("ai: malformed model response")
)

// CompletionRequest is a single-turn prompt with an optional image.
type CompletionRequest struct {
	Model       string
	Prompt      string
	ImageURL    string
	Temperature float64
	MaxTokens   int
}

// ChatCompleter is an LLM backend able to answer one prompt.
type ChatCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
