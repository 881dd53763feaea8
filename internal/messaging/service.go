// Package messaging provides the delivery boundary and the inbound message
// pipeline that applies the engine's guardrails before anything is sent.
package messaging

import (
	"context"
	"errors"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is the message-delivery collaborator. The engine hands it validated
// plain-text replies; delivery internals are out of core scope.
type Service interface {
	// SendMessage delivers one outbound text to a recipient.
	SendMessage(ctx context.Context, to, body string) error

	// ValidateAndCanonicalizeRecipient normalizes a recipient identifier
	// (e.g. a phone number) and rejects invalid ones.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Stop shuts the service down; subsequent sends fail with ErrServiceStopped.
	Stop() error
}
