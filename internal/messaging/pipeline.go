package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/motorline/dealerflow/internal/engine"
	"github.com/motorline/dealerflow/internal/models"
	"github.com/motorline/dealerflow/internal/store"
)

// Pipeline is the calling layer around the workflow Runner for the chat
// channel: it runs the turn, derives the directive, guards the candidate
// reply with the validator, and only then hands text to the delivery Service.
// A customer either receives exactly one validated message or nothing.
type Pipeline struct {
	runner     *engine.Runner
	states     *engine.StateStore
	registry   *engine.Registry
	validator  *engine.Validator
	st         store.Store
	msg        Service
	workflowID string
}

// NewPipeline wires the inbound pipeline for one default workflow.
func NewPipeline(runner *engine.Runner, states *engine.StateStore, registry *engine.Registry,
	validator *engine.Validator, st store.Store, msg Service, workflowID string) *Pipeline {
	return &Pipeline{
		runner:     runner,
		states:     states,
		registry:   registry,
		validator:  validator,
		st:         st,
		msg:        msg,
		workflowID: workflowID,
	}
}

// HandleMessage processes one inbound customer message. The canonicalized
// sender identifier doubles as the conversation ID.
func (p *Pipeline) HandleMessage(ctx context.Context, from, body string) error {
	conversationID, err := p.msg.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	slog.Debug("Pipeline handling message", "conversationID", conversationID, "body_length", len(body))

	p.logMessage(conversationID, models.DirectionInbound, body)

	def, ok := p.registry.Get(p.workflowID)
	if !ok {
		return fmt.Errorf("workflow %s is not registered", p.workflowID)
	}

	result, err := p.runner.Run(ctx, def.Workflow, def.Steps, conversationID, body)
	if errors.Is(err, engine.ErrConversationCompleted) {
		// A finished script gets a human hand-off instead of another turn.
		directive := models.EscalateDirective{Reason: err.Error()}
		slog.Info("Pipeline escalating completed conversation", "conversationID", conversationID, "reason", directive.Reason)
		return p.deliver(ctx, conversationID, engine.RenderDirective(directive), body, "")
	}
	if err != nil {
		// Nothing is sent on a failed turn; the operator sees the error.
		return err
	}
	if result == nil {
		slog.Info("Pipeline no-op turn, no matching step", "conversationID", conversationID, "workflowID", def.Workflow.ID)
		return nil
	}

	directive := engine.BuildDirective(*result.Step, result.Variables)
	candidate := engine.RenderDirective(directive)
	if candidate == "" {
		// An empty render for an ask step means every required entity is
		// already captured: advance silently rather than re-ask.
		if result.Step.Kind() == models.ActionAskQuestion {
			slog.Debug("Pipeline entities already captured, advancing without re-asking",
				"conversationID", conversationID, "stepOrder", result.Step.Order)
			return nil
		}
		candidate = result.Output
	}

	return p.deliver(ctx, conversationID, candidate, body, result.Output)
}

// deliver validates a candidate reply and sends it when non-empty.
func (p *Pipeline) deliver(ctx context.Context, conversationID, candidate, userMessage, sayMessage string) error {
	vctx := engine.ValidationContext{
		Intent:             engine.ClassifyIntent(userMessage),
		WorkflowSayMessage: sayMessage,
	}
	vctx.VerifiedNumbersAvailable, vctx.AllowedNumbers = p.allowedNumbersFor(ctx, conversationID)

	vres := p.validator.ValidateAndRepair(candidate, vctx)
	if !vres.OK {
		slog.Warn("Pipeline validator repaired reply", "conversationID", conversationID,
			"violations", vres.Violations, "usedFallback", vres.UsedFallback)
	}
	if vres.Text == "" {
		slog.Debug("Pipeline empty reply after validation, sending nothing", "conversationID", conversationID)
		return nil
	}

	if err := p.msg.SendMessage(ctx, conversationID, vres.Text); err != nil {
		slog.Error("Pipeline send failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	p.logMessage(conversationID, models.DirectionOutbound, vres.Text)
	return nil
}

// allowedNumbersFor builds the validator allow-list from the verified price
// book, keyed by the vehicle model captured in the conversation's variables.
func (p *Pipeline) allowedNumbersFor(ctx context.Context, conversationID string) (bool, map[string]bool) {
	state, err := p.states.Load(ctx, conversationID, p.workflowID)
	if err != nil {
		slog.Warn("Pipeline could not load state for price lookup", "error", err, "conversationID", conversationID)
		return false, nil
	}

	model := state.Variables["model"]
	if model == "" {
		model = state.Variables["vehicle_model"]
	}
	if model == "" {
		return false, nil
	}

	amounts, err := p.st.GetVerifiedPrices(model)
	if err != nil {
		slog.Warn("Pipeline verified price lookup failed", "error", err, "vehicleModel", model)
		return false, nil
	}
	if len(amounts) == 0 {
		return false, nil
	}

	allowed := make(map[string]bool, len(amounts)*2)
	for _, amount := range amounts {
		normalized := engine.NormalizeNumber(amount)
		allowed[normalized] = true
		// Replies may echo the amount without its currency prefix.
		allowed[strings.TrimPrefix(normalized, "₹")] = true
	}
	return true, allowed
}

func (p *Pipeline) logMessage(conversationID string, direction models.MessageDirection, body string) {
	entry := models.MessageLog{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Direction:      direction,
		Body:           body,
		Time:           time.Now().Unix(),
	}
	if err := p.st.LogMessage(entry); err != nil {
		// Audit logging never blocks delivery.
		slog.Warn("Pipeline message log failed", "error", err, "conversationID", conversationID, "direction", direction)
	}
}
