package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseActionKind(t *testing.T) {
	cases := map[string]ActionKind{
		"ask_question":       ActionAskQuestion,
		"give_information":   ActionGiveInformation,
		"save_user_response": ActionSaveUserResponse,
		"branch":             ActionBranch,
		"end":                ActionEnd,
		" end ":              ActionEnd,
		"ASK_QUESTION":       ActionUnknown,
		"do_a_dance":         ActionUnknown,
		"":                   ActionUnknown,
	}
	for input, want := range cases {
		if got := ParseActionKind(input); got != want {
			t.Errorf("ParseActionKind(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestStepRequiredEntities_MetadataWins(t *testing.T) {
	step := Step{
		ExpectedInput: "a,b",
		Metadata:      StepMetadata{RequiredEntities: []string{"model", "city"}},
	}
	if got := step.RequiredEntities(); !reflect.DeepEqual(got, []string{"model", "city"}) {
		t.Errorf("metadata list should win, got %v", got)
	}
}

func TestStepRequiredEntities_CommaFallback(t *testing.T) {
	step := Step{ExpectedInput: " model , city ,,"}
	if got := step.RequiredEntities(); !reflect.DeepEqual(got, []string{"model", "city"}) {
		t.Errorf("expected trimmed comma split, got %v", got)
	}
}

func TestStepRequiredEntities_Empty(t *testing.T) {
	if got := (Step{}).RequiredEntities(); len(got) != 0 {
		t.Errorf("expected no entities, got %v", got)
	}
}

func TestWorkflowDefinitionValidate(t *testing.T) {
	valid := WorkflowDefinition{
		Workflow: Workflow{ID: "wf", Mode: WorkflowModeStrict},
		Steps: []Step{
			{Order: 1, Action: "ask_question"},
			{Order: 2, Action: "branch", Metadata: StepMetadata{Rule: &BranchRule{Field: "city", Value: "Pune", GotoStep: 1}}},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*WorkflowDefinition)
		want   error
	}{
		{"empty id", func(d *WorkflowDefinition) { d.Workflow.ID = "" }, ErrEmptyWorkflowID},
		{"bad mode", func(d *WorkflowDefinition) { d.Workflow.Mode = "loose" }, ErrInvalidMode},
		{"no steps", func(d *WorkflowDefinition) { d.Steps = nil }, ErrNoSteps},
		{"zero order", func(d *WorkflowDefinition) { d.Steps[0].Order = 0 }, ErrNonPositiveOrder},
		{"duplicate order", func(d *WorkflowDefinition) { d.Steps[1].Order = 1 }, ErrDuplicateOrder},
		{"dangling branch", func(d *WorkflowDefinition) { d.Steps[1].Metadata.Rule.GotoStep = 42 }, ErrBranchTargetAbsent},
	}
	for _, tc := range cases {
		def := WorkflowDefinition{
			Workflow: valid.Workflow,
			Steps: []Step{
				{Order: 1, Action: "ask_question"},
				{Order: 2, Action: "branch", Metadata: StepMetadata{Rule: &BranchRule{Field: "city", Value: "Pune", GotoStep: 1}}},
			},
		}
		tc.mutate(&def)
		if err := def.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestNewConversationState(t *testing.T) {
	state := NewConversationState("conv-1", "wf-1")
	if state.CurrentStep != 1 {
		t.Errorf("expected step 1, got %d", state.CurrentStep)
	}
	if state.Completed {
		t.Error("new state must not be completed")
	}
	if state.Variables == nil || len(state.Variables) != 0 {
		t.Errorf("expected empty variables map, got %v", state.Variables)
	}
}

func TestRunRequestValidate(t *testing.T) {
	valid := RunRequest{
		Workflow:       Workflow{ID: "wf", Mode: WorkflowModeStrict},
		Steps:          []Step{{Order: 1, Action: "end"}},
		ConversationID: "conv-1",
		UserMessage:    "hi",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	noConv := valid
	noConv.ConversationID = " "
	if err := noConv.Validate(); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("expected %v, got %v", ErrEmptyConversation, err)
	}

	noMsg := valid
	noMsg.UserMessage = ""
	if err := noMsg.Validate(); !errors.Is(err, ErrEmptyUserMessage) {
		t.Errorf("expected %v, got %v", ErrEmptyUserMessage, err)
	}

	noSteps := valid
	noSteps.Steps = nil
	if err := noSteps.Validate(); !errors.Is(err, ErrNoSteps) {
		t.Errorf("expected %v, got %v", ErrNoSteps, err)
	}
}
