// Package insight asks a generative model about scheme records. It never
// writes to the record store; callers persist what it returns.
package insight

import (
	"context"
	"errors"
	"fmt"
)

// Request is one inference call.
type Request struct {
	Prompt string
	// Structured asks for JSON conforming to the analysis schema.
	Structured bool
}

// Model is the inference endpoint.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var (
	ErrMalformedResponse = errors.New("malformed analysis response")
	ErrEmptyResponse     = errors.New("model returned no text")
	ErrNoRecords         = errors.New("no records to analyze")
)

// InferenceError wraps any failed analysis: endpoint failure, timeout or a
// response that could not be parsed.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
