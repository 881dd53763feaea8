package engine

import (
	"log/slog"
	"regexp"
	"strings"
)

// Intent classifies what the customer is asking about. Pricing and offer
// intents put numeric claims under the strict verification gate.
type Intent string

const (
	IntentPricing  Intent = "pricing"
	IntentOffer    Intent = "offer"
	IntentFeatures Intent = "features"
	IntentService  Intent = "service"
	IntentOther    Intent = "other"
)

// Violation tags recorded by the validator, in rule order.
const (
	ViolationDealerReference            = "dealer_reference"
	ViolationMultipleQuestions          = "multiple_questions"
	ViolationNumbersWithoutVerification = "numbers_without_verification"
	ViolationUnverifiedNumber           = "unverified_number"
	ViolationTooShort                   = "too_short"
)

// ClarifyingFallback replaces any reply carrying unverified numeric claims.
// It must never contain a digit or currency symbol.
const ClarifyingFallback = "I want to be sure I share the exact figures with you. Could you confirm the exact variant, fuel type, and transmission you're considering?"

// ValidationContext carries the facts the validator needs about this turn.
type ValidationContext struct {
	Intent                   Intent
	VerifiedNumbersAvailable bool
	AllowedNumbers           map[string]bool
	WorkflowSayMessage       string
}

// ValidationResult is the outcome of validating one candidate reply.
type ValidationResult struct {
	Text         string   `json:"text"`
	OK           bool     `json:"ok"`
	Violations   []string `json:"violations"`
	UsedFallback bool     `json:"used_fallback"`
}

var (
	contactDealerRe   = regexp.MustCompile(`(?i)contact\s+(?:the\s+)?dealer(?:ship)?`)
	dealerRe          = regexp.MustCompile(`(?i)\bdealer(?:ship)?\b`)
	digitOrCurrencyRe = regexp.MustCompile(`[0-9]|₹`)
	numericTokenRe    = regexp.MustCompile(`(?:₹|Rs\.?|INR)\s*[0-9]+(?:,[0-9]+)*(?:\.[0-9]+)?|\b[0-9]+(?:,[0-9]+)*(?:\.[0-9]+)?`)
	currencyPrefixRe  = regexp.MustCompile(`(?i)^(?:rs\.?|inr)`)
)

// Validator guardrails every candidate outbound text, whether directive-
// rendered or model-generated, before it may reach the customer.
type Validator struct {
	businessName string
}

// NewValidator creates a validator that rewrites generic dealer references to
// the given business name.
func NewValidator(businessName string) *Validator {
	return &Validator{businessName: businessName}
}

// ValidateAndRepair applies the guardrail rules in order. Phrasing and
// question-count issues are repaired in place; unverified numeric claims and
// empty replies are replaced wholesale by a safe fallback. OK is true only
// when no rule fired at all.
func (v *Validator) ValidateAndRepair(text string, vc ValidationContext) ValidationResult {
	res := ValidationResult{Text: text}

	// Rule 1: never point the customer at "the dealer" — name the business.
	if contactDealerRe.MatchString(res.Text) || dealerRe.MatchString(res.Text) {
		res.Text = contactDealerRe.ReplaceAllString(res.Text, "contact "+v.businessName)
		res.Text = dealerRe.ReplaceAllString(res.Text, v.businessName)
		res.Violations = append(res.Violations, ViolationDealerReference)
	}

	// Rule 2: at most one question per reply; truncate at the first.
	if strings.Count(res.Text, "?") > 1 {
		res.Text = res.Text[:strings.Index(res.Text, "?")+1]
		res.Violations = append(res.Violations, ViolationMultipleQuestions)
	}

	// Rule 3: price/offer talk with no verified numbers available may not
	// carry any digit or currency symbol. Hard stop.
	if (vc.Intent == IntentPricing || vc.Intent == IntentOffer) &&
		!vc.VerifiedNumbersAvailable && digitOrCurrencyRe.MatchString(res.Text) {
		res.Violations = append(res.Violations, ViolationNumbersWithoutVerification)
		return v.fallback(res, ClarifyingFallback)
	}

	// Rule 4: with verified numbers available, every numeric token must be
	// on the allow-list. Hard stop on the first stranger.
	if vc.VerifiedNumbersAvailable {
		for _, token := range ExtractNumericTokens(res.Text) {
			if !vc.AllowedNumbers[NormalizeNumber(token)] {
				slog.Warn("Validator rejected unverified numeric token", "token", token)
				res.Violations = append(res.Violations, ViolationUnverifiedNumber)
				return v.fallback(res, ClarifyingFallback)
			}
		}
	}

	// Rule 5: a near-empty reply falls back to the workflow's deterministic
	// message when one was supplied.
	if len([]rune(strings.TrimSpace(res.Text))) < 5 && vc.WorkflowSayMessage != "" {
		res.Violations = append(res.Violations, ViolationTooShort)
		return v.fallback(res, vc.WorkflowSayMessage)
	}

	res.OK = len(res.Violations) == 0
	return res
}

func (v *Validator) fallback(res ValidationResult, text string) ValidationResult {
	res.Text = text
	res.UsedFallback = true
	res.OK = false
	return res
}

// ExtractNumericTokens returns every numeric token in the text: currency-
// prefixed grouped numbers and bare integers/decimals. Digits embedded in an
// alphanumeric word (a model name like XUV700) are not numeric claims.
func ExtractNumericTokens(text string) []string {
	return numericTokenRe.FindAllString(text, -1)
}

// NormalizeNumber strips whitespace and maps Rs/INR prefixes to the currency
// symbol so tokens compare consistently against the allow-list.
func NormalizeNumber(token string) string {
	out := strings.Join(strings.Fields(token), "")
	return currencyPrefixRe.ReplaceAllString(out, "₹")
}

// Keyword groups for intent classification, checked in priority order.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentPricing, []string{"price", "cost", "on-road", "on road", "emi", "how much", "quote", "₹"}},
	{IntentOffer, []string{"offer", "discount", "exchange", "scheme", "deal", "cashback"}},
	{IntentService, []string{"service", "repair", "maintenance", "warranty", "insurance"}},
	{IntentFeatures, []string{"feature", "spec", "variant", "mileage", "engine", "colour", "color", "sunroof", "transmission"}},
}

// ClassifyIntent assigns an intent to an inbound customer message by keyword.
func ClassifyIntent(message string) Intent {
	lowered := strings.ToLower(message)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lowered, kw) {
				return group.intent
			}
		}
	}
	return IntentOther
}
