package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/writeoff/internal/model"
)

// countingClient records how many requests reach the provider.
type countingClient struct {
	resp  DeductionResponse
	err   error
	calls atomic.Int64
}

func (c *countingClient) ClassifyDeduction(_ context.Context, _ string) (DeductionResponse, error) {
	c.calls.Add(1)
	if c.err != nil {
		return DeductionResponse{}, c.err
	}
	return c.resp, nil
}

func testConfig() Config {
	return Config{Provider: "openai", APIKey: "test", RateLimit: 600, Timeout: time.Second}
}

func TestClassifyIncomeShortcutSkipsProvider(t *testing.T) {
	client := &countingClient{}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	record := model.TransactionRecord{ID: "txn-1", OwnerID: "user-1", Amount: -500.00, Merchant: "ACME Payroll"}

	decision, err := classifier.Classify(context.Background(), record, nil)
	require.NoError(t, err)
	assert.Equal(t, model.LabelIncome, decision.Label)
	require.NotNil(t, decision.Confidence)
	assert.Equal(t, 1.0, *decision.Confidence)
	assert.Equal(t, int64(0), client.calls.Load(), "income shortcut must not touch the provider")
}

func TestClassifyIncomeShortcutDeterministic(t *testing.T) {
	client := &countingClient{}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	record := model.TransactionRecord{ID: "txn-1", Amount: -0.01}

	first, err := classifier.Classify(context.Background(), record, nil)
	require.NoError(t, err)
	second, err := classifier.Classify(context.Background(), record, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, *first.Confidence, *second.Confidence)
}

func TestClassifyMapsResponse(t *testing.T) {
	deductible := true
	confidence := 0.85
	client := &countingClient{resp: DeductionResponse{
		Deductible:   &deductible,
		Confidence:   &confidence,
		Status:       "likely",
		Reasoning:    "Business software subscription.",
		CategoryHint: "Software",
		RiskFlags:    []string{"recurring-personal-use"},
	}}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	record := model.TransactionRecord{ID: "txn-2", Amount: 42.10, Merchant: "Cloud Host"}

	decision, err := classifier.Classify(context.Background(), record, nil)
	require.NoError(t, err)
	assert.Equal(t, model.LabelLikely, decision.Label)
	require.NotNil(t, decision.Deductible)
	assert.True(t, *decision.Deductible)
	assert.Equal(t, "Software", decision.CategoryHint)
	assert.Equal(t, int64(1), client.calls.Load())
}

func TestClassifyMalformedResponseBecomesUnknown(t *testing.T) {
	client := &countingClient{err: ErrMalformedResponse}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	record := model.TransactionRecord{ID: "txn-3", Amount: 8.99, Merchant: "Corner Store"}

	decision, err := classifier.Classify(context.Background(), record, nil)
	require.NoError(t, err, "malformed output is a decision, not a failure")
	assert.Equal(t, model.LabelUnknown, decision.Label)
	assert.Nil(t, decision.Deductible)
	assert.Nil(t, decision.Confidence)
}

func TestClassifyTransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("connection reset")
	client := &countingClient{err: transportErr}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	record := model.TransactionRecord{ID: "txn-4", Amount: 100.00}

	_, err := classifier.Classify(context.Background(), record, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transportErr))
}

func TestClassifyClampsConfidence(t *testing.T) {
	deductible := true
	confidence := 3.5
	client := &countingClient{resp: DeductionResponse{
		Deductible: &deductible,
		Confidence: &confidence,
		Status:     "likely",
	}}
	classifier := newClassifierWithClient(client, testConfig(), nil)
	defer func() { _ = classifier.Close() }()

	decision, err := classifier.Classify(context.Background(), model.TransactionRecord{ID: "txn-5", Amount: 10}, nil)
	require.NoError(t, err)
	require.NotNil(t, decision.Confidence)
	assert.Equal(t, 1.0, *decision.Confidence)
}

func TestBuildDeductionPromptIncludesProfile(t *testing.T) {
	record := model.TransactionRecord{
		Merchant:   "Camera Shop",
		Amount:     899.00,
		OccurredAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	profile := &model.UserProfile{Profession: "photographer", FilingStatus: "single"}

	prompt := buildDeductionPrompt(record, profile)
	assert.Contains(t, prompt, "Camera Shop")
	assert.Contains(t, prompt, "photographer")
	assert.Contains(t, prompt, "2024-03-15")

	noProfile := buildDeductionPrompt(record, nil)
	assert.Contains(t, noProfile, "No taxpayer profile")
}
