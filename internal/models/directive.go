package models

// Directive is the engine's deterministic decision about how a turn must be
// answered. It is a sealed sum type: callers handle all three variants via a
// type switch instead of inspecting string discriminants.
type Directive interface {
	directive()
}

// AskDirective means the customer must supply more information before the
// script can proceed. RequiredEntities lists the subset still missing.
type AskDirective struct {
	Question         string
	RequiredEntities []string
	StepOrder        int
}

// SayDirective is a deterministic statement. An empty Message signals
// "no deterministic override; defer to other text sources".
type SayDirective struct {
	Message   string
	StepOrder int
}

// EscalateDirective hands the conversation off to a human. Reason is for
// audit logging only and is never rendered to the customer.
type EscalateDirective struct {
	Reason    string
	StepOrder int
}

func (AskDirective) directive()      {}
func (SayDirective) directive()      {}
func (EscalateDirective) directive() {}
