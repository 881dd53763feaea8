// Package store provides storage backends for DealerFlow.
//
// It includes an in-memory store for tests and single-process use, plus
// SQLite and PostgreSQL backends with embedded migrations.
package store

import (
	"sync"

	"github.com/motorline/dealerflow/internal/models"
)

// Store is the persistence boundary for conversation state, the message
// audit log, and the verified price book.
//
// GetConversationState returns (nil, nil) when no row exists: absence is a
// normal case, not an error. SaveConversationState is an idempotent full-row
// upsert keyed by (conversation_id, workflow_id).
type Store interface {
	GetConversationState(conversationID, workflowID string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error

	LogMessage(m models.MessageLog) error
	ListMessages(conversationID string) ([]models.MessageLog, error)

	AddVerifiedPrice(p models.VerifiedPrice) error
	GetVerifiedPrices(vehicleModel string) ([]string, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a mutex-guarded map-backed Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ConversationState
	messages []models.MessageLog
	prices   map[string][]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]models.ConversationState),
		prices: make(map[string][]string),
	}
}

func stateKey(conversationID, workflowID string) string {
	return conversationID + "|" + workflowID
}

// GetConversationState returns the stored state or (nil, nil) when absent.
func (s *InMemoryStore) GetConversationState(conversationID, workflowID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey(conversationID, workflowID)]
	if !ok {
		return nil, nil
	}
	// Copy the variables map so callers cannot mutate stored state.
	copied := state
	copied.Variables = make(map[string]string, len(state.Variables))
	for k, v := range state.Variables {
		copied.Variables[k] = v
	}
	return &copied, nil
}

// SaveConversationState upserts the full state row.
func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := state
	stored.Variables = make(map[string]string, len(state.Variables))
	for k, v := range state.Variables {
		stored.Variables[k] = v
	}
	s.states[stateKey(state.ConversationID, state.WorkflowID)] = stored
	return nil
}

// LogMessage appends a message to the audit log.
func (s *InMemoryStore) LogMessage(m models.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// ListMessages returns the audit log for a conversation in insertion order.
func (s *InMemoryStore) ListMessages(conversationID string) ([]models.MessageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageLog
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

// AddVerifiedPrice records a safe-to-echo amount for a vehicle model.
func (s *InMemoryStore) AddVerifiedPrice(p models.VerifiedPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[p.VehicleModel] = append(s.prices[p.VehicleModel], p.Amount)
	return nil
}

// GetVerifiedPrices returns the verified amounts for a vehicle model.
func (s *InMemoryStore) GetVerifiedPrices(vehicleModel string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.prices[vehicleModel]...), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
