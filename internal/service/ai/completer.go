// Package ai wraps the text-completion backends used by the bot.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyCompletion is returned when the backend answered without any choice.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Completer produces one reply for a system prompt and a user message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (string, error)
}

// StatusError reports a completion API answer with a non-success status.
// Detail carries the extracted "error" field; Decoded is false when the
// response body could not be parsed.
type StatusError struct {
	StatusCode int
	Detail     string
	Decoded    bool
	Err        error
}

func (e *StatusError) Error() string {
	if !e.Decoded {
		return fmt.Sprintf("completion api status %d: undecodable body", e.StatusCode)
	}
	if e.Detail == "" {
		return fmt.Sprintf("completion api status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion api status %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// AsStatusError reports whether err carries a completion API status.
// Any other error is a transport failure.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
