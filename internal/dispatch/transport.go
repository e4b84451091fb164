// Package dispatch implements the Dispatcher (spec.md §4.6): transmits a
// built artifact via a pluggable Transport and records Delivery state
// transitions.
package dispatch

import (
	"context"
	"fmt"
)

// Transport is opaque to the core: Dispatcher only knows it sends a body to
// a recipient address and gets back the transport's own message id.
type Transport interface {
	Name() string
	Send(ctx context.Context, recipientAddress, body string) (messageID string, err error)
}

// ErrTransientTransportFailure marks a Send error as retryable; anything
// else is treated as terminal.
type ErrTransientTransportFailure struct {
	Cause error
}

func (e *ErrTransientTransportFailure) Error() string {
	return fmt.Sprintf("dispatch: transient transport failure: %v", e.Cause)
}

func (e *ErrTransientTransportFailure) Unwrap() error { return e.Cause }
