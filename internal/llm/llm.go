// Package llm talks to the external generative-text provider.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable is returned when no provider is configured or
	// the provider cannot be reached.
	ErrProviderUnavailable = errors.New("generative-text provider unavailable")
	// ErrEmptyReply is returned when the provider answers with no text.
	ErrEmptyReply = errors.New("provider returned an empty reply")
)

// Generator produces a free-form reply for a prompt. Any error is a hard
// failure for the caller.
type Generator interface {
	GenerateReply(ctx context.Context, prompt string) (string, error)
}

// Unavailable is the Generator used when no provider address is configured.
type Unavailable struct{}

var _ Generator = Unavailable{}

// GenerateReply always fails with ErrProviderUnavailable.
func (Unavailable) GenerateReply(context.Context, string) (string, error) {
	return "", ErrProviderUnavailable
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// GenerateReply calls f.
func (f GeneratorFunc) GenerateReply(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
