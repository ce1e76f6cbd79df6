package model

// DecisionLabel is the engine's qualitative deductibility judgment.
type DecisionLabel string

// Decision labels. LabelUnknown is the safe default every unrecognized
// value from the model service collapses to.
const (
	LabelLikely   DecisionLabel = "likely"
	LabelPossibly DecisionLabel = "possibly"
	LabelUnlikely DecisionLabel = "unlikely"
	LabelIncome   DecisionLabel = "income"
	LabelUnknown  DecisionLabel = "unknown"
)

// ParseDecisionLabel maps arbitrary input to a valid label.
func ParseDecisionLabel(s string) DecisionLabel {
	switch DecisionLabel(s) {
	case LabelLikely, LabelPossibly, LabelUnlikely, LabelIncome, LabelUnknown:
		return DecisionLabel(s)
	default:
		return LabelUnknown
	}
}

// ClassificationDecision is the engine's structured output for one
// transaction. It is a pure value object: it is never persisted on its own
// but folded into the TransactionRecord it describes.
type ClassificationDecision struct {
	Deductible        *bool
	Confidence        *float64
	Label             DecisionLabel
	Reasoning         string
	CategoryHint      string
	References        []string
	RequiredDocuments []string
	RiskFlags         []string
}

// Normalize clamps and defaults every field so an untrusted model response
// can never push inconsistent state downstream.
func (d *ClassificationDecision) Normalize() {
	d.Label = ParseDecisionLabel(string(d.Label))
	if d.Confidence != nil {
		c := *d.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		d.Confidence = &c
	}
	if d.Label == LabelUnknown {
		d.Deductible = nil
	}
}

// IncomeDecision is the deterministic rule-based result for income
// transactions. It involves no network call and no side effects.
func IncomeDecision() ClassificationDecision {
	confidence := 1.0
	return ClassificationDecision{
		Label:      LabelIncome,
		Confidence: &confidence,
		Reasoning:  "Negative amount indicates income; income is not a deductible expense.",
	}
}

// UnknownDecision is the safe fallback for a malformed model response.
func UnknownDecision(reason string) ClassificationDecision {
	return ClassificationDecision{
		Label:     LabelUnknown,
		Reasoning: reason,
	}
}
