package messaging

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/motorline/dealerflow/internal/engine"
	"github.com/motorline/dealerflow/internal/models"
	"github.com/motorline/dealerflow/internal/store"
)

// mockService records sent messages instead of delivering them.
type mockService struct {
	sent    []string
	sendErr error
}

func (m *mockService) SendMessage(ctx context.Context, to, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimPrefix(recipient, "+")
	if canonical == "" {
		return "", fmt.Errorf("empty recipient")
	}
	return canonical, nil
}

func (m *mockService) Stop() error { return nil }

func testDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Workflow: models.Workflow{ID: "booking", Mode: models.WorkflowModeStrict, Description: "Test drive booking"},
		Steps: []models.Step{
			{Order: 1, Action: "ask_question", Instruction: "Which model are you interested in?",
				Metadata: models.StepMetadata{RequiredEntities: []string{"model"}}},
			{Order: 2, Action: "save_user_response", ExpectedInput: "model"},
			{Order: 3, Action: "give_information", Instruction: "We have test drives daily from 10am."},
			{Order: 4, Action: "end", Instruction: "See you at the showroom!"},
		},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *mockService, *engine.StateStore, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	states := engine.NewStateStore(st)
	runner := engine.NewRunner(states, engine.NewStepSelector(nil))
	registry := engine.NewRegistry()
	if err := registry.Register(testDefinition()); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	validator := engine.NewValidator("Motorline Pune")
	svc := &mockService{}
	pipeline := NewPipeline(runner, states, registry, validator, st, svc, "booking")
	return pipeline, svc, states, st
}

func TestHandleMessage_AsksTheScriptedQuestion(t *testing.T) {
	pipeline, svc, _, _ := newTestPipeline(t)

	if err := pipeline.HandleMessage(context.Background(), "+911234567890", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 1 {
		t.Fatalf("expected one outbound message, got %v", svc.sent)
	}
	if svc.sent[0] != "Which model are you interested in?" {
		t.Errorf("unexpected reply: %q", svc.sent[0])
	}
}

func TestHandleMessage_SatisfiedAskAdvancesSilently(t *testing.T) {
	pipeline, svc, states, _ := newTestPipeline(t)

	ctx := context.Background()
	state := models.NewConversationState("911234567890", "booking")
	state.Variables["model"] = "XUV700"
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	// Step 1 asks for "model", which is already captured: the customer must
	// not be re-asked, and the position still advances.
	if err := pipeline.HandleMessage(ctx, "+911234567890", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 0 {
		t.Fatalf("expected no outbound message, got %v", svc.sent)
	}

	reloaded, err := states.Load(ctx, "911234567890", "booking")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.CurrentStep != 2 {
		t.Errorf("expected silent advance to step 2, got %d", reloaded.CurrentStep)
	}
}

func TestHandleMessage_SaveTurnSendsNothing(t *testing.T) {
	pipeline, svc, _, _ := newTestPipeline(t)

	ctx := context.Background()
	if err := pipeline.HandleMessage(ctx, "+911234567890", "hi"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	// Turn 2 hits the save step, which has no instruction text: the customer
	// hears nothing rather than an empty message.
	if err := pipeline.HandleMessage(ctx, "+911234567890", "XUV700"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if len(svc.sent) != 1 {
		t.Fatalf("save turn must not send, got %v", svc.sent)
	}
}

func TestHandleMessage_NoMatchingStepSendsNothing(t *testing.T) {
	pipeline, svc, states, _ := newTestPipeline(t)

	ctx := context.Background()
	state := models.NewConversationState("911234567890", "booking")
	state.CurrentStep = 99
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	if err := pipeline.HandleMessage(ctx, "+911234567890", "hello?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 0 {
		t.Errorf("no-op turn must not send, got %v", svc.sent)
	}
}

func TestHandleMessage_CompletedConversationEscalates(t *testing.T) {
	pipeline, svc, states, _ := newTestPipeline(t)

	ctx := context.Background()
	state := models.NewConversationState("911234567890", "booking")
	state.Completed = true
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	if err := pipeline.HandleMessage(ctx, "+911234567890", "one more thing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 1 {
		t.Fatalf("expected the hand-off message, got %v", svc.sent)
	}
	if svc.sent[0] != engine.HandoffMessage {
		t.Errorf("unexpected hand-off text: %q", svc.sent[0])
	}

	// The position must not advance for escalation turns.
	reloaded, err := states.Load(ctx, "911234567890", "booking")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.CurrentStep != 1 {
		t.Errorf("escalation turn moved the position to %d", reloaded.CurrentStep)
	}
}

func TestHandleMessage_UnverifiedPricingGetsFallback(t *testing.T) {
	pipeline, svc, states, _ := newTestPipeline(t)

	ctx := context.Background()
	state := models.NewConversationState("911234567890", "booking")
	state.CurrentStep = 3
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	// Rewire the info step to a reply that leaks a number.
	def := testDefinition()
	def.Steps[2].Instruction = "The on-road price is ₹12,34,567."
	if err := pipeline.registry.Register(def); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if err := pipeline.HandleMessage(ctx, "+911234567890", "what's the price?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 1 {
		t.Fatalf("expected the clarifying fallback, got %v", svc.sent)
	}
	if svc.sent[0] != engine.ClarifyingFallback {
		t.Errorf("unexpected reply: %q", svc.sent[0])
	}
	if strings.ContainsAny(svc.sent[0], "0123456789") {
		t.Errorf("fallback leaks digits: %q", svc.sent[0])
	}
}

func TestHandleMessage_VerifiedPricePassesThrough(t *testing.T) {
	pipeline, svc, states, st := newTestPipeline(t)

	ctx := context.Background()
	state := models.NewConversationState("911234567890", "booking")
	state.CurrentStep = 3
	state.Variables["model"] = "XUV700"
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	if err := st.AddVerifiedPrice(models.VerifiedPrice{VehicleModel: "XUV700", Amount: "₹12,34,567"}); err != nil {
		t.Fatalf("add price: %v", err)
	}

	def := testDefinition()
	def.Steps[2].Instruction = "The on-road price of the XUV700 is ₹12,34,567."
	if err := pipeline.registry.Register(def); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if err := pipeline.HandleMessage(ctx, "+911234567890", "what's the price?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.sent) != 1 {
		t.Fatalf("expected one outbound message, got %v", svc.sent)
	}
	if !strings.Contains(svc.sent[0], "₹12,34,567") {
		t.Errorf("verified amount should survive validation, got %q", svc.sent[0])
	}
}

func TestHandleMessage_UnregisteredWorkflowIsError(t *testing.T) {
	st := store.NewInMemoryStore()
	states := engine.NewStateStore(st)
	runner := engine.NewRunner(states, engine.NewStepSelector(nil))
	pipeline := NewPipeline(runner, states, engine.NewRegistry(), engine.NewValidator("Motorline Pune"), st, &mockService{}, "absent")

	if err := pipeline.HandleMessage(context.Background(), "+911234567890", "hi"); err == nil {
		t.Fatal("expected an error for an unregistered workflow")
	}
}

func TestHandleMessage_SendFailureSurfaces(t *testing.T) {
	pipeline, svc, _, _ := newTestPipeline(t)
	svc.sendErr = fmt.Errorf("carrier rejected")

	err := pipeline.HandleMessage(context.Background(), "+911234567890", "hi")
	if err == nil || !strings.Contains(err.Error(), "carrier rejected") {
		t.Fatalf("expected the send error to surface, got %v", err)
	}
}

func TestHandleMessage_AuditsBothDirections(t *testing.T) {
	pipeline, _, _, st := newTestPipeline(t)

	if err := pipeline.HandleMessage(context.Background(), "+911234567890", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logged, err := st.ListMessages("911234567890")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("expected inbound and outbound rows, got %+v", logged)
	}
	if logged[0].Direction != models.DirectionInbound || logged[1].Direction != models.DirectionOutbound {
		t.Errorf("unexpected directions: %+v", logged)
	}
}
