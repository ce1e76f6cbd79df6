package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedResponse indicates the model returned something that could
// not be parsed into a deduction decision. It is a validation failure, not
// a transport failure, and callers normalize it to an unknown decision.
var ErrMalformedResponse = errors.New("malformed model response")

// Client defines the interface for hosted LLM providers.
type Client interface {
	ClassifyDeduction(ctx context.Context, prompt string) (DeductionResponse, error)
}

// DeductionResponse is the raw structured document returned by the model
// service. Every field is untrusted input until normalized.
type DeductionResponse struct {
	Deductible        *bool    `json:"deductible"`
	Confidence        *float64 `json:"confidence"`
	Status            string   `json:"status"`
	Reasoning         string   `json:"reasoning"`
	CategoryHint      string   `json:"categoryHint,omitempty"`
	References        []string `json:"references,omitempty"`
	RequiredDocuments []string `json:"requiredDocuments,omitempty"`
	RiskFlags         []string `json:"riskFlags,omitempty"`
}

// Config holds configuration for the LLM classifier.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	RateLimit   int
	Timeout     time.Duration
}

// newClient creates a provider-specific client.
func newClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
