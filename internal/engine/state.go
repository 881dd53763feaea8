// Package engine implements the workflow execution and response-guardrail
// core: conversation-scoped state, step selection, step execution, directive
// derivation, and the outbound text validator.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/motorline/dealerflow/internal/models"
	"github.com/motorline/dealerflow/internal/store"
)

// StateStore loads and saves per-(conversation, workflow) execution state on
// top of a Store backend. Absence of a row is a normal case: Load returns the
// default state (step 1, no variables, not completed) instead of an error.
type StateStore struct {
	store store.Store
}

// NewStateStore creates a StateStore backed by the given Store.
func NewStateStore(st store.Store) *StateStore {
	slog.Debug("Creating StateStore")
	return &StateStore{store: st}
}

// Load returns the persisted state for the key, or the default state when no
// row exists. Any other storage failure is propagated: proceeding with
// default state on a real error would silently restart the script.
func (s *StateStore) Load(ctx context.Context, conversationID, workflowID string) (models.ConversationState, error) {
	slog.Debug("StateStore Load", "conversationID", conversationID, "workflowID", workflowID)

	state, err := s.store.GetConversationState(conversationID, workflowID)
	if err != nil {
		slog.Error("StateStore Load error", "error", err, "conversationID", conversationID, "workflowID", workflowID)
		return models.ConversationState{}, err
	}
	if state == nil {
		slog.Debug("StateStore Load not found, using default state", "conversationID", conversationID, "workflowID", workflowID)
		return models.NewConversationState(conversationID, workflowID), nil
	}
	if state.Variables == nil {
		state.Variables = make(map[string]string)
	}
	return *state, nil
}

// Save upserts the full state row for the key (last write wins at the store
// layer; the Runner serializes writers per key).
func (s *StateStore) Save(ctx context.Context, state models.ConversationState) error {
	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	if err := s.store.SaveConversationState(state); err != nil {
		slog.Error("StateStore Save error", "error", err, "conversationID", state.ConversationID, "workflowID", state.WorkflowID)
		return err
	}
	slog.Debug("StateStore Save succeeded", "conversationID", state.ConversationID, "workflowID", state.WorkflowID,
		"currentStep", state.CurrentStep, "completed", state.Completed)
	return nil
}
