// internal/dispatch/dispatch.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies provider failures so the delivery worker knows whether to
// retry or fail immediately.
type Kind string

const (
	KindUnregisteredRecipient Kind = "unregistered_recipient"
	KindRateLimited           Kind = "rate_limited"
	KindTransient             Kind = "transient"
	KindPermanent             Kind = "permanent"
)

// Error is a classified dispatch failure.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch failed (%s): %s", e.Kind, e.Reason)
}

// Retryable reports whether the worker should apply the retry policy.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// Classify extracts the taxonomy from an error. Unclassified errors (network
// failures, timeouts) count as transient.
func Classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindTransient, Reason: err.Error()}
}

// Client abstracts the outbound messaging channel. The orchestration core
// never branches on provider identity; one implementation is selected at
// configuration time.
type Client interface {
	// Send delivers content to the recipient address and returns the
	// provider-assigned message id.
	Send(ctx context.Context, to, content string) (string, error)
}
