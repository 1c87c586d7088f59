// Package ai wraps the generative text endpoints used to enrich posts: free
// text location extraction and image authenticity scoring. Answers are
// memoized through the response cache.
package ai

import (
	"context"
	"errors"
)

// ErrNoResult is returned when the model answered without any usable text.
// It is never cached.
var ErrNoResult = errors.New("ai: empty answer")

// TextGenerator sends a single prompt and returns the raw answer text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Unconfigured stands in for a provider that could not be built. Every call
// fails with Err, usually a *upstream.ConfigurationError.
type Unconfigured struct {
	Err error
}

func (u Unconfigured) Generate(ctx context.Context, prompt string) (string, error) {
	return "", u.Err
}

func (u Unconfigured) Name() string { return "unconfigured" }
