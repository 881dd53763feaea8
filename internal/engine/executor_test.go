package engine

import (
	"strings"
	"testing"

	"github.com/motorline/dealerflow/internal/models"
)

func stateWithVars(vars map[string]string) models.ConversationState {
	state := models.NewConversationState("conv-1", "wf-1")
	for k, v := range vars {
		state.Variables[k] = v
	}
	return state
}

func TestExecuteStep_SequentialDefaults(t *testing.T) {
	step := models.Step{Order: 2, Action: "give_information", Instruction: "We are open till 8pm."}
	result := ExecuteStep(step, stateWithVars(nil), "ok")

	if result.Output != "We are open till 8pm." {
		t.Errorf("unexpected output: %q", result.Output)
	}
	if result.NextStep != 3 {
		t.Errorf("expected next step 3, got %d", result.NextStep)
	}
	if result.Completed {
		t.Error("sequential step should not complete the workflow")
	}
	if result.Reason != SequentialReason {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestExecuteStep_SaveUserResponse(t *testing.T) {
	step := models.Step{Order: 3, Action: "save_user_response", ExpectedInput: "city"}
	result := ExecuteStep(step, stateWithVars(nil), "Pune")

	if result.Variables["city"] != "Pune" {
		t.Errorf("expected saved variable, got %v", result.Variables)
	}
	if result.Reason != "Saved variable city" {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestExecuteStep_SaveWithoutExpectedInput(t *testing.T) {
	step := models.Step{Order: 3, Action: "save_user_response"}
	result := ExecuteStep(step, stateWithVars(nil), "Pune")

	if len(result.Variables) != 0 {
		t.Errorf("expected no variables saved, got %v", result.Variables)
	}
	if result.Reason != SequentialReason {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestExecuteStep_BranchRuleMatch(t *testing.T) {
	step := models.Step{
		Order:  4,
		Action: "branch",
		Metadata: models.StepMetadata{
			Rule: &models.BranchRule{Field: "city", Value: "Pune", GotoStep: 5},
		},
	}
	result := ExecuteStep(step, stateWithVars(map[string]string{"city": "Pune"}), "")

	if result.NextStep != 5 {
		t.Errorf("expected branch to step 5, got %d", result.NextStep)
	}
	if !strings.Contains(result.Reason, "city=Pune") {
		t.Errorf("reason should mention the matched rule, got %q", result.Reason)
	}
}

func TestExecuteStep_BranchRuleNoMatch(t *testing.T) {
	step := models.Step{
		Order:  4,
		Action: "branch",
		Metadata: models.StepMetadata{
			Rule: &models.BranchRule{Field: "city", Value: "Pune", GotoStep: 5},
		},
	}
	result := ExecuteStep(step, stateWithVars(map[string]string{"city": "Mumbai"}), "")

	if result.NextStep != step.Order+1 {
		t.Errorf("expected sequential advance to %d, got %d", step.Order+1, result.NextStep)
	}
	if result.Reason != SequentialReason {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestExecuteStep_BranchExpression(t *testing.T) {
	step := models.Step{
		Order:  4,
		Action: "branch",
		Metadata: models.StepMetadata{
			Rule: &models.BranchRule{When: `variables["city"] == "Pune"`, GotoStep: 7},
		},
	}
	result := ExecuteStep(step, stateWithVars(map[string]string{"city": "Pune"}), "")
	if result.NextStep != 7 {
		t.Errorf("expected expression branch to step 7, got %d", result.NextStep)
	}
}

func TestExecuteStep_BranchExpressionErrorIsNoMatch(t *testing.T) {
	step := models.Step{
		Order:  4,
		Action: "branch",
		Metadata: models.StepMetadata{
			Rule: &models.BranchRule{When: `this is not an expression`, GotoStep: 7},
		},
	}
	result := ExecuteStep(step, stateWithVars(nil), "")
	if result.NextStep != 5 {
		t.Errorf("broken expression should advance sequentially, got %d", result.NextStep)
	}
}

func TestExecuteStep_End(t *testing.T) {
	step := models.Step{Order: 6, Action: "end", Instruction: "Thanks for visiting!"}
	result := ExecuteStep(step, stateWithVars(nil), "")

	if !result.Completed {
		t.Error("end step should complete the workflow")
	}
	if result.Reason != "Workflow ended" {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
	if result.Output != "Thanks for visiting!" {
		t.Errorf("unexpected output: %q", result.Output)
	}
}

func TestExecuteStep_UnknownActionIsSequential(t *testing.T) {
	step := models.Step{Order: 2, Action: "do_a_dance"}
	result := ExecuteStep(step, stateWithVars(nil), "hi")

	if result.NextStep != 3 || result.Completed {
		t.Errorf("unknown action should be a sequential no-op, got next=%d completed=%v", result.NextStep, result.Completed)
	}
}

func TestExecuteStep_DoesNotMutateCallerState(t *testing.T) {
	state := stateWithVars(map[string]string{"model": "XUV700"})
	step := models.Step{Order: 3, Action: "save_user_response", ExpectedInput: "city"}

	ExecuteStep(step, state, "Pune")

	if _, exists := state.Variables["city"]; exists {
		t.Error("executor mutated the caller's variables map")
	}
}

func TestFindStep(t *testing.T) {
	steps := []models.Step{{Order: 1}, {Order: 3}}
	if FindStep(steps, 3) == nil {
		t.Error("expected to find step 3")
	}
	if FindStep(steps, 2) != nil {
		t.Error("expected nil for missing step 2")
	}
}
