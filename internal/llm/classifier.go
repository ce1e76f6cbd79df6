package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/writeoff/internal/model"
)

// Classifier implements the service.Classifier interface using hosted LLM
// APIs. It performs exactly one request per call; retry policy belongs to
// the caller, which knows the job-level budget.
type Classifier struct {
	client      Client
	logger      *slog.Logger
	rateLimiter *rateLimiter
}

// NewClassifier creates a new LLM-based deduction classifier.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return newClassifierWithClient(client, cfg, logger), nil
}

func newClassifierWithClient(client Client, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:      client,
		logger:      logger,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// Classify produces a deductibility decision for one transaction.
//
// Income transactions (negative amounts) short-circuit to a fixed
// rule-based decision without touching the network or the rate limiter;
// the shortcut is pure and deterministic. A malformed model response is
// normalized to an unknown decision, not an error. Transport failures
// propagate to the caller, which owns retry policy.
func (c *Classifier) Classify(ctx context.Context, record model.TransactionRecord, profile *model.UserProfile) (model.ClassificationDecision, error) {
	if record.Income() {
		c.logger.Debug("income shortcut applied",
			"record_id", record.ID,
			"amount", record.Amount)
		return model.IncomeDecision(), nil
	}

	if err := c.rateLimiter.wait(ctx); err != nil {
		return model.ClassificationDecision{}, fmt.Errorf("rate limit error: %w", err)
	}

	prompt := buildDeductionPrompt(record, profile)

	resp, err := c.client.ClassifyDeduction(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			c.logger.Warn("malformed classification response, defaulting to unknown",
				"record_id", record.ID,
				"error", err)
			return model.UnknownDecision("model response could not be parsed"), nil
		}
		return model.ClassificationDecision{}, fmt.Errorf("classification request failed: %w", err)
	}

	decision := decisionFromResponse(resp)
	decision.Normalize()

	c.logger.Info("transaction classified",
		"record_id", record.ID,
		"merchant", record.Merchant,
		"label", decision.Label,
		"prompt_version", promptVersion)

	return decision, nil
}

// decisionFromResponse converts the raw wire document into the domain
// value object. Normalization happens afterwards; this is a plain mapping.
func decisionFromResponse(resp DeductionResponse) model.ClassificationDecision {
	return model.ClassificationDecision{
		Deductible:        resp.Deductible,
		Confidence:        resp.Confidence,
		Label:             model.ParseDecisionLabel(resp.Status),
		Reasoning:         resp.Reasoning,
		CategoryHint:      resp.CategoryHint,
		References:        resp.References,
		RequiredDocuments: resp.RequiredDocuments,
		RiskFlags:         resp.RiskFlags,
	}
}

// Close stops background goroutines and cleans up resources.
func (c *Classifier) Close() error {
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
	return nil
}
