package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/motorline/dealerflow/internal/models"
)

// ErrConversationCompleted is returned by Run when the conversation's workflow
// has already finished. It is detected under the per-key lock so a rapid
// double-send cannot slip one extra turn past a just-completed conversation.
var ErrConversationCompleted = errors.New("conversation already completed its workflow")

// Runner orchestrates one turn: load state, select a step, execute it, and
// persist the next state. It returns nil (and no error) when no step matches
// the conversation's position — the caller must send nothing for that turn.
//
// Turns for the same (conversation, workflow) key are serialized with a keyed
// mutex held across the whole load-execute-save sequence, so a rapid
// double-send cannot silently discard a state transition.
type Runner struct {
	states   *StateStore
	selector *StepSelector

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a Runner over the given state store and selector.
func NewRunner(states *StateStore, selector *StepSelector) *Runner {
	return &Runner{
		states:   states,
		selector: selector,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Runner) lockFor(conversationID, workflowID string) *sync.Mutex {
	key := conversationID + "|" + workflowID
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Run processes one inbound message against a workflow. A save failure is
// returned as an error and the caller must not send a reply: a reply whose
// state transition was never recorded would desynchronize the script.
func (r *Runner) Run(ctx context.Context, workflow models.Workflow, steps []models.Step, conversationID, userMessage string) (*models.StepResult, error) {
	lock := r.lockFor(conversationID, workflow.ID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.states.Load(ctx, conversationID, workflow.ID)
	if err != nil {
		return nil, err
	}
	if state.Completed {
		slog.Info("Runner refusing turn for completed conversation", "conversationID", conversationID, "workflowID", workflow.ID)
		return nil, ErrConversationCompleted
	}

	step, selectionReason, err := r.selector.Select(ctx, workflow, steps, state, userMessage)
	if err != nil {
		return nil, err
	}
	if step == nil {
		slog.Info("Runner found no step for turn", "conversationID", conversationID, "workflowID", workflow.ID, "currentStep", state.CurrentStep)
		return nil, nil
	}
	if selectionReason != "" {
		slog.Debug("Runner adaptive selection", "conversationID", conversationID, "stepOrder", step.Order, "selectionReason", selectionReason)
	}

	result := ExecuteStep(*step, state, userMessage)

	state.CurrentStep = result.NextStep
	state.Variables = result.Variables
	state.Completed = result.Completed
	state.LastStepReason = result.Reason
	if err := r.states.Save(ctx, state); err != nil {
		return nil, err
	}

	return &result, nil
}
