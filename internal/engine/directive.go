package engine

import (
	"strings"

	"github.com/motorline/dealerflow/internal/models"
)

// GenericAskPrompt is used when an ask step carries no instruction text.
const GenericAskPrompt = "Could you share a few more details so I can help you better?"

// HandoffMessage is the fixed text rendered for an escalation. The
// directive's reason is for logging only and is never shown to the customer.
const HandoffMessage = "I'm looping in a member of our team to help you personally. Please share your name and the best number to reach you."

// BuildDirective turns a step definition plus the currently-known entities
// into a deterministic directive. It is policy-only: no state, no storage.
// An entity counts as present only when its value is non-empty.
func BuildDirective(step models.Step, entities map[string]string) models.Directive {
	if step.Kind() == models.ActionAskQuestion {
		required := step.RequiredEntities()
		var missing []string
		for _, name := range required {
			if strings.TrimSpace(entities[name]) == "" {
				missing = append(missing, name)
			}
		}

		// A step with no required entities is an intentionally generic ask.
		if len(missing) > 0 || len(required) == 0 {
			question := step.Instruction
			if strings.TrimSpace(question) == "" {
				question = GenericAskPrompt
			}
			listed := missing
			if len(listed) == 0 {
				listed = required
			}
			return models.AskDirective{Question: question, RequiredEntities: listed, StepOrder: step.Order}
		}

		// Every required entity is already known: advance without re-asking.
		return models.SayDirective{Message: "", StepOrder: step.Order}
	}

	// Branching is resolved by the executor, and end/give_information steps
	// speak their instruction text; all of them fall through to say.
	return models.SayDirective{Message: step.Instruction, StepOrder: step.Order}
}

// RenderDirective produces the final deterministic text for a directive.
// An empty result means "no deterministic override; defer to other sources".
// It is a pure function: rendering the same directive twice yields the same text.
func RenderDirective(d models.Directive) string {
	switch dir := d.(type) {
	case models.AskDirective:
		return dir.Question
	case models.EscalateDirective:
		return HandoffMessage
	case models.SayDirective:
		return strings.TrimSpace(dir.Message)
	default:
		return ""
	}
}
