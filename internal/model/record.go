// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// AnalysisStatus tracks where a transaction sits in the classification pipeline.
type AnalysisStatus string

// Per-transaction analysis states.
const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Terminal reports whether the status permits no further engine transition.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// ClassificationSource records which writer last decided deductibility.
type ClassificationSource string

// Classification source constants. SourceUser is terminal: once a human
// reviews a record the engine must not overwrite it without an explicit
// reanalysis request.
const (
	SourceEngine ClassificationSource = "engine"
	SourceUser   ClassificationSource = "user"
)

// TransactionRecord is one imported financial transaction together with its
// deductibility classification state. Nullable classification fields are
// pointers: nil means undecided.
type TransactionRecord struct {
	OccurredAt        time.Time            `json:"occurredAt"`
	Deductible        *bool                `json:"deductible,omitempty"`
	Confidence        *float64             `json:"confidence,omitempty"`
	ID                string               `json:"id"`
	OwnerID           string               `json:"ownerId"`
	AccountID         string               `json:"accountId"`
	Merchant          string               `json:"merchant"`
	Category          string               `json:"category,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	Reasoning         string               `json:"reasoning,omitempty"`
	CategoryHint      string               `json:"categoryHint,omitempty"`
	LastError         string               `json:"lastError,omitempty"`
	Label             DecisionLabel        `json:"label,omitempty"`
	Source            ClassificationSource `json:"source,omitempty"`
	Status            AnalysisStatus       `json:"status"`
	References        []string             `json:"references,omitempty"`
	RequiredDocuments []string             `json:"requiredDocuments,omitempty"`
	RiskFlags         []string             `json:"riskFlags,omitempty"`
	// Amount is signed; negative amounts are income.
	Amount  float64 `json:"amount"`
	Version int64   `json:"version"`
}

// ContentKey identifies the logical record regardless of which physical
// layout it was found in, used to de-duplicate fallback lookup results.
func (r *TransactionRecord) ContentKey() string {
	data := fmt.Sprintf("%s:%s:%s", r.OwnerID, r.AccountID, r.ID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Income reports whether the transaction is unambiguously income.
func (r *TransactionRecord) Income() bool {
	return r.Amount < 0
}

// ApplyDecision folds an engine decision into the record. It returns false
// without modifying anything when a human reviewer already owns the record,
// so an idempotent redelivery of an engine result never clobbers a review.
func (r *TransactionRecord) ApplyDecision(d ClassificationDecision) bool {
	if r.Source == SourceUser {
		return false
	}

	r.Label = d.Label
	r.Confidence = d.Confidence
	r.Reasoning = d.Reasoning
	r.CategoryHint = d.CategoryHint
	r.References = d.References
	r.RequiredDocuments = d.RequiredDocuments
	r.RiskFlags = d.RiskFlags
	r.Source = SourceEngine
	r.LastError = ""

	switch {
	case d.Label == LabelIncome:
		// Income is never a deductible expense.
		deductible := false
		r.Deductible = &deductible
		r.Status = AnalysisCompleted
	case d.Deductible == nil:
		// No usable decision; leave the record in an explicit
		// needs-reanalysis state rather than completed-but-undecided.
		r.Deductible = nil
		r.Status = AnalysisFailed
		r.LastError = "classification produced no decision"
	default:
		r.Deductible = d.Deductible
		r.Status = AnalysisCompleted
	}

	return true
}

// MarkFailed records a per-transaction classification failure.
func (r *TransactionRecord) MarkFailed(err error) {
	r.Status = AnalysisFailed
	if err != nil {
		r.LastError = err.Error()
	}
}

// ResetAnalysis clears engine-owned classification state so the record is
// picked up by the next analysis run. User-reviewed records are only reset
// when includeReviewed is set.
func (r *TransactionRecord) ResetAnalysis(includeReviewed bool) bool {
	if r.Source == SourceUser && !includeReviewed {
		return false
	}
	r.Deductible = nil
	r.Confidence = nil
	r.Label = ""
	r.Reasoning = ""
	r.CategoryHint = ""
	r.References = nil
	r.RequiredDocuments = nil
	r.RiskFlags = nil
	r.Source = ""
	r.LastError = ""
	r.Status = AnalysisPending
	return true
}

// ReviewPatch is a partial update produced by the review UI. Nil fields are
// left untouched.
type ReviewPatch struct {
	Deductible *bool
	Category   *string
	Notes      *string
	Reasoning  *string
}

// Apply merges the patch into the record. Setting Deductible marks the
// record as user-owned and completed with full confidence.
func (p ReviewPatch) Apply(r *TransactionRecord) {
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	if p.Reasoning != nil {
		r.Reasoning = *p.Reasoning
	}
	if p.Deductible != nil {
		deductible := *p.Deductible
		confidence := 1.0
		r.Deductible = &deductible
		r.Confidence = &confidence
		r.Source = SourceUser
		r.Status = AnalysisCompleted
		if deductible {
			r.Label = LabelLikely
		} else {
			r.Label = LabelUnlikely
		}
	}
}

// Empty reports whether the patch would change nothing.
func (p ReviewPatch) Empty() bool {
	return p.Deductible == nil && p.Category == nil && p.Notes == nil && p.Reasoning == nil
}
