package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/motorline/dealerflow/internal/genai"
	"github.com/motorline/dealerflow/internal/models"
)

const selectorSystemPrompt = `You are a step router for a car dealership's scripted chat workflow.
Given the workflow description, its steps, the variables collected so far, and the customer's latest message,
choose the single most relevant step that has not been completed yet. Never pick a step that would repeat a
question whose answer is already present in the variables.
Respond with ONLY a bare JSON object of the form {"next_step": <step_order number>, "reason": "<short explanation>"}.
No markdown, no code fences, no extra text.`

// stepChoice is the shape the GenAI collaborator must return in smart mode.
type stepChoice struct {
	NextStep int    `json:"next_step" jsonschema:"required"`
	Reason   string `json:"reason" jsonschema:"required"`
}

var (
	choiceSchemaOnce sync.Once
	choiceSchema     *jsonschema.Schema
	choiceSchemaErr  error
)

// choiceJSONSchema compiles the JSON Schema for stepChoice, reflected from
// the struct so the schema and the decoder can never drift apart.
func choiceJSONSchema() (*jsonschema.Schema, error) {
	choiceSchemaOnce.Do(func() {
		reflector := invopop.Reflector{RequiredFromJSONSchemaTags: true}
		raw, err := json.Marshal(reflector.Reflect(&stepChoice{}))
		if err != nil {
			choiceSchemaErr = fmt.Errorf("failed to marshal step choice schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema://step_choice", bytes.NewReader(raw)); err != nil {
			choiceSchemaErr = fmt.Errorf("failed to add step choice schema resource: %w", err)
			return
		}
		choiceSchema, choiceSchemaErr = compiler.Compile("schema://step_choice")
	})
	return choiceSchema, choiceSchemaErr
}

// StepSelector chooses the next step to execute: strict deterministic lookup
// by current position, or adaptive selection via the GenAI collaborator.
type StepSelector struct {
	genai genai.ClientInterface
}

// NewStepSelector creates a selector. The GenAI client may be nil when only
// strict workflows are served.
func NewStepSelector(client genai.ClientInterface) *StepSelector {
	return &StepSelector{genai: client}
}

// Select returns the step to execute for this turn plus a selection reason,
// or (nil, "", nil) when no step matches — the caller must treat that as a
// no-op turn. Malformed collaborator output is a propagated error; retry
// policy belongs to the caller.
func (s *StepSelector) Select(ctx context.Context, workflow models.Workflow, steps []models.Step, state models.ConversationState, userMessage string) (*models.Step, string, error) {
	if workflow.Mode != models.WorkflowModeSmart {
		step := FindStep(steps, state.CurrentStep)
		if step == nil {
			slog.Warn("StepSelector strict lookup found no step", "workflowID", workflow.ID, "currentStep", state.CurrentStep)
		}
		return step, "", nil
	}

	if s.genai == nil {
		return nil, "", fmt.Errorf("smart workflow %s requires a GenAI client", workflow.ID)
	}

	choice, err := s.selectAdaptive(ctx, workflow, steps, state, userMessage)
	if err != nil {
		return nil, "", err
	}

	step := FindStep(steps, choice.NextStep)
	if step == nil {
		slog.Warn("StepSelector adaptive choice matched no step", "workflowID", workflow.ID, "nextStep", choice.NextStep, "reason", choice.Reason)
		return nil, "", nil
	}
	slog.Debug("StepSelector adaptive choice", "workflowID", workflow.ID, "nextStep", choice.NextStep, "reason", choice.Reason)
	return step, choice.Reason, nil
}

func (s *StepSelector) selectAdaptive(ctx context.Context, workflow models.Workflow, steps []models.Step, state models.ConversationState, userMessage string) (*stepChoice, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow: %s\n", workflow.Description)
	sb.WriteString("Steps:\n")
	for _, step := range steps {
		fmt.Fprintf(&sb, "  %d. [%s] %s\n", step.Order, step.Kind(), step.Instruction)
	}
	variablesJSON, err := json.Marshal(state.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}
	fmt.Fprintf(&sb, "Known variables: %s\n", variablesJSON)
	fmt.Fprintf(&sb, "Customer message: %s\n", userMessage)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(selectorSystemPrompt),
		openai.UserMessage(sb.String()),
	}

	raw, err := s.genai.GenerateDeterministic(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("adaptive step selection failed: %w", err)
	}

	cleaned := stripCodeFences(raw)

	// Validate the shape before trusting next_step: the collaborator's
	// output is an untrusted external boundary.
	schema, err := choiceJSONSchema()
	if err != nil {
		return nil, err
	}
	var shape interface{}
	if err := json.Unmarshal([]byte(cleaned), &shape); err != nil {
		return nil, fmt.Errorf("adaptive selection returned malformed JSON: %w", err)
	}
	if err := schema.Validate(shape); err != nil {
		return nil, fmt.Errorf("adaptive selection returned unexpected shape: %w", err)
	}

	var choice stepChoice
	if err := json.Unmarshal([]byte(cleaned), &choice); err != nil {
		return nil, fmt.Errorf("adaptive selection returned malformed JSON: %w", err)
	}
	return &choice, nil
}

// stripCodeFences removes a surrounding markdown code fence when the
// collaborator ignores the bare-JSON instruction.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
