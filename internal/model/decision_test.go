package model

import "testing"

func TestNormalizeClampsConfidence(t *testing.T) {
	high := 1.7
	d := ClassificationDecision{Label: LabelLikely, Deductible: boolPtr(true), Confidence: &high}
	d.Normalize()
	if *d.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", *d.Confidence)
	}

	low := -0.3
	d = ClassificationDecision{Label: LabelUnlikely, Deductible: boolPtr(false), Confidence: &low}
	d.Normalize()
	if *d.Confidence != 0.0 {
		t.Errorf("confidence = %v, want clamped to 0.0", *d.Confidence)
	}
}

func TestNormalizeUnknownClearsVerdict(t *testing.T) {
	d := ClassificationDecision{Label: LabelUnknown, Deductible: boolPtr(true)}
	d.Normalize()
	if d.Deductible != nil {
		t.Error("unknown label must not carry a verdict")
	}
}

func TestParseDecisionLabel(t *testing.T) {
	tests := []struct {
		in   string
		want DecisionLabel
	}{
		{"likely", LabelLikely},
		{"possibly", LabelPossibly},
		{"unlikely", LabelUnlikely},
		{"income", LabelIncome},
		{"", LabelUnknown},
		{"gibberish", LabelUnknown},
	}
	for _, tt := range tests {
		if got := ParseDecisionLabel(tt.in); got != tt.want {
			t.Errorf("ParseDecisionLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIncomeDecision(t *testing.T) {
	d := IncomeDecision()
	if d.Label != LabelIncome {
		t.Errorf("label = %q, want income", d.Label)
	}
	if d.Confidence == nil || *d.Confidence != 1.0 {
		t.Error("income shortcut carries full confidence")
	}
}
