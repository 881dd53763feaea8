package engine

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/motorline/dealerflow/internal/models"
)

// SequentialReason is the default diagnostic for a plain advance.
const SequentialReason = "Sequential step"

// ExecuteStep applies a step's action semantics to the current state and
// produces the next state plus a human-readable reason. It never calls the
// GenAI collaborator and never mutates the caller's state: variables are
// copied before any write.
func ExecuteStep(step models.Step, state models.ConversationState, userMessage string) models.StepResult {
	variables := make(map[string]string, len(state.Variables)+1)
	for k, v := range state.Variables {
		variables[k] = v
	}

	result := models.StepResult{
		Output:    step.Instruction,
		NextStep:  step.Order + 1,
		Variables: variables,
		Completed: state.Completed,
		Reason:    SequentialReason,
		Step:      &step,
	}

	switch step.Kind() {
	case models.ActionAskQuestion, models.ActionGiveInformation:
		// No state change beyond the sequential defaults.

	case models.ActionSaveUserResponse:
		if step.ExpectedInput != "" {
			variables[step.ExpectedInput] = userMessage
			result.Reason = fmt.Sprintf("Saved variable %s", step.ExpectedInput)
		}

	case models.ActionBranch:
		rule := step.Metadata.Rule
		if rule != nil && rule.GotoStep != 0 && branchRuleMatches(*rule, variables) {
			result.NextStep = rule.GotoStep
			result.Reason = branchReason(*rule)
		}

	case models.ActionEnd:
		result.Completed = true
		result.Reason = "Workflow ended"

	case models.ActionUnknown:
		// Unrecognized actions behave as a sequential no-op.
	}

	slog.Debug("ExecuteStep", "stepOrder", step.Order, "action", step.Action,
		"nextStep", result.NextStep, "completed", result.Completed, "reason", result.Reason)
	return result
}

// branchRuleMatches evaluates a branch rule against the variables map. The
// exact-match form compares the stored string verbatim; the expression form
// evaluates rule.When over the variables and treats any evaluation error or
// non-boolean result as no-match rather than failing the turn.
func branchRuleMatches(rule models.BranchRule, variables map[string]string) bool {
	if rule.When != "" {
		env := map[string]interface{}{"variables": variables}
		out, err := expr.Eval(rule.When, env)
		if err != nil {
			slog.Warn("Branch expression evaluation failed, treating as no-match", "error", err, "when", rule.When)
			return false
		}
		matched, ok := out.(bool)
		if !ok {
			slog.Warn("Branch expression did not return a boolean, treating as no-match", "when", rule.When)
			return false
		}
		return matched
	}
	if rule.Field == "" {
		return false
	}
	value, exists := variables[rule.Field]
	return exists && value == rule.Value
}

func branchReason(rule models.BranchRule) string {
	if rule.When != "" {
		return fmt.Sprintf("Branch rule matched: %s -> step %d", rule.When, rule.GotoStep)
	}
	return fmt.Sprintf("Branch rule matched: %s=%s -> step %d", rule.Field, rule.Value, rule.GotoStep)
}

// FindStep returns the step whose step_order equals order, or nil when the
// workflow has no matching step.
func FindStep(steps []models.Step, order int) *models.Step {
	for i := range steps {
		if steps[i].Order == order {
			return &steps[i]
		}
	}
	return nil
}
