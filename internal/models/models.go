// Package models defines the core data structures for DealerFlow.
//
// It includes workflow and step definitions, per-conversation execution state,
// and the request/response envelopes shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// WorkflowMode selects how the next step is chosen for a turn.
type WorkflowMode string

const (
	// WorkflowModeStrict selects steps by exact sequential position.
	WorkflowModeStrict WorkflowMode = "strict"
	// WorkflowModeSmart selects steps adaptively via the GenAI collaborator.
	WorkflowModeSmart WorkflowMode = "smart"
)

// IsValidWorkflowMode checks if the given mode is supported.
func IsValidWorkflowMode(m WorkflowMode) bool {
	switch m {
	case WorkflowModeStrict, WorkflowModeSmart:
		return true
	default:
		return false
	}
}

// ActionKind is the closed set of step action semantics. Unrecognized values
// parse to ActionUnknown, which behaves as a sequential no-op.
type ActionKind string

const (
	ActionAskQuestion      ActionKind = "ask_question"
	ActionGiveInformation  ActionKind = "give_information"
	ActionSaveUserResponse ActionKind = "save_user_response"
	ActionBranch           ActionKind = "branch"
	ActionEnd              ActionKind = "end"
	ActionUnknown          ActionKind = "unknown"
)

// ParseActionKind maps a raw action string to its ActionKind.
func ParseActionKind(s string) ActionKind {
	switch ActionKind(strings.TrimSpace(s)) {
	case ActionAskQuestion, ActionGiveInformation, ActionSaveUserResponse, ActionBranch, ActionEnd:
		return ActionKind(strings.TrimSpace(s))
	default:
		return ActionUnknown
	}
}

// Validation error variables for better error handling and testability
var (
	ErrEmptyWorkflowID    = errors.New("workflow id cannot be empty")
	ErrInvalidMode        = errors.New("workflow mode must be strict or smart")
	ErrNoSteps            = errors.New("workflow must define at least one step")
	ErrNonPositiveOrder   = errors.New("step_order must be a positive integer")
	ErrDuplicateOrder     = errors.New("step_order values must be unique within a workflow")
	ErrBranchTargetAbsent = errors.New("branch goto_step does not reference an existing step")
	ErrEmptyUserMessage   = errors.New("user_message cannot be empty")
	ErrEmptyConversation  = errors.New("conversation_id cannot be empty")
)

// Workflow is an authored, ordered script driving a scripted conversation.
// It is immutable during a run.
type Workflow struct {
	ID          string       `json:"id" jsonschema:"required"`
	Mode        WorkflowMode `json:"mode" jsonschema:"required"`
	Description string       `json:"description,omitempty"`
}

// BranchRule describes a conditional jump evaluated by the step executor.
// Value is compared with exact string equality against the stored variable;
// When, if set, is an expression evaluated over the variables map instead.
type BranchRule struct {
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	When     string `json:"when,omitempty"`
	GotoStep int    `json:"goto_step"`
}

// StepMetadata carries optional step configuration authored alongside the step.
type StepMetadata struct {
	RequiredEntities []string    `json:"required_entities,omitempty"`
	Rule             *BranchRule `json:"rule,omitempty"`
}

// Step is one unit of a workflow. Steps are authored configuration; the
// engine only reads them.
type Step struct {
	Order         int          `json:"step_order" jsonschema:"required"`
	Action        string       `json:"ai_action" jsonschema:"required"`
	Instruction   string       `json:"instruction_text,omitempty"`
	ExpectedInput string       `json:"expected_user_input,omitempty"`
	Metadata      StepMetadata `json:"metadata,omitempty"`
}

// Kind returns the step's closed action kind.
func (s Step) Kind() ActionKind {
	return ParseActionKind(s.Action)
}

// RequiredEntities returns the entity names an ask step needs: the metadata
// list when non-empty, otherwise expected_user_input split on commas with
// empties dropped.
func (s Step) RequiredEntities() []string {
	if len(s.Metadata.RequiredEntities) > 0 {
		return s.Metadata.RequiredEntities
	}
	var out []string
	for _, part := range strings.Split(s.ExpectedInput, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// WorkflowDefinition bundles a workflow with its steps for registration and
// for the run request contract.
type WorkflowDefinition struct {
	Workflow Workflow `json:"workflow" jsonschema:"required"`
	Steps    []Step   `json:"steps" jsonschema:"required"`
}

// Validate checks the semantic constraints a JSON Schema cannot express.
func (d WorkflowDefinition) Validate() error {
	if strings.TrimSpace(d.Workflow.ID) == "" {
		return ErrEmptyWorkflowID
	}
	if !IsValidWorkflowMode(d.Workflow.Mode) {
		return ErrInvalidMode
	}
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	orders := make(map[int]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.Order <= 0 {
			return ErrNonPositiveOrder
		}
		if orders[step.Order] {
			return ErrDuplicateOrder
		}
		orders[step.Order] = true
	}
	for _, step := range d.Steps {
		rule := step.Metadata.Rule
		if step.Kind() == ActionBranch && rule != nil && rule.GotoStep != 0 && !orders[rule.GotoStep] {
			return ErrBranchTargetAbsent
		}
	}
	return nil
}

// ConversationState is the per-(conversation, workflow) execution state.
// Variables only grow or are overwritten, never silently cleared.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	WorkflowID     string            `json:"workflow_id"`
	CurrentStep    int               `json:"current_step"`
	Variables      map[string]string `json:"variables"`
	Completed      bool              `json:"completed"`
	LastStepReason string            `json:"last_step_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at,omitempty"`
}

// NewConversationState returns the default state for a first message: step 1,
// no variables, not completed.
func NewConversationState(conversationID, workflowID string) ConversationState {
	now := time.Now()
	return ConversationState{
		ConversationID: conversationID,
		WorkflowID:     workflowID,
		CurrentStep:    1,
		Variables:      make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// StepResult is the outcome of executing one step for one inbound message.
// It doubles as the outbound API contract.
type StepResult struct {
	Output    string            `json:"output"`
	NextStep  int               `json:"next_step"`
	Variables map[string]string `json:"variables"`
	Completed bool              `json:"completed"`
	Reason    string            `json:"reason"`

	// Step is the executed step, carried for the directive layer; it is not
	// part of the wire contract.
	Step *Step `json:"-"`
}

// RunRequest is the inbound contract consumed by the run endpoint.
type RunRequest struct {
	Workflow       Workflow `json:"workflow"`
	Steps          []Step   `json:"steps"`
	ConversationID string   `json:"conversation_id"`
	UserMessage    string   `json:"user_message"`
}

// Validate checks the run request's required fields.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return ErrEmptyConversation
	}
	if strings.TrimSpace(r.UserMessage) == "" {
		return ErrEmptyUserMessage
	}
	return WorkflowDefinition{Workflow: r.Workflow, Steps: r.Steps}.Validate()
}

// MessageDirection distinguishes audit-log rows.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "in"
	DirectionOutbound MessageDirection = "out"
)

// MessageLog is one audited chat message.
type MessageLog struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Direction      MessageDirection `json:"direction"`
	Body           string           `json:"body"`
	Time           int64            `json:"time"`
}

// VerifiedPrice is a scripted, safe-to-echo amount for a vehicle.
type VerifiedPrice struct {
	VehicleModel string `json:"vehicle_model"`
	Amount       string `json:"amount"`
}
