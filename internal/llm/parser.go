package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// cleanMarkdownWrapper strips markdown code fences that models sometimes
// wrap around JSON despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}

// parseDeduction decodes the model's message content into a structured
// deduction response. Any decode failure is reported as ErrMalformedResponse
// so callers can distinguish it from transport errors.
func parseDeduction(content string) (DeductionResponse, error) {
	content = cleanMarkdownWrapper(content)

	var resp DeductionResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return DeductionResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if resp.Status == "" && resp.Deductible == nil {
		return DeductionResponse{}, fmt.Errorf("%w: no status or decision present", ErrMalformedResponse)
	}

	return resp, nil
}
