package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/motorline/dealerflow/internal/twilio"
)

// phoneNumberRegex strips every non-digit character during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// MinPhoneDigits is the minimum digit count for a valid recipient.
const MinPhoneDigits = 6

// TwilioService implements Service on top of the Twilio REST wrapper.
type TwilioService struct {
	sender twilio.Sender

	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a messaging Service backed by a Twilio sender.
func NewTwilioService(sender twilio.Sender) *TwilioService {
	return &TwilioService{sender: sender}
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits and
// validates the result.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage delivers one message after canonicalizing the recipient.
func (s *TwilioService) SendMessage(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.sender.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Stop marks the service stopped; further sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
