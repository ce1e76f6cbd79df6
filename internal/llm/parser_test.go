package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeduction(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantErr     bool
		wantStatus  string
		wantVerdict *bool
	}{
		{
			name:       "plain json",
			content:    `{"deductible": true, "confidence": 0.8, "status": "likely", "reasoning": "Business software subscription."}`,
			wantStatus: "likely",
			wantVerdict: func() *bool {
				v := true
				return &v
			}(),
		},
		{
			name: "json fenced in markdown",
			content: "```json\n" +
				`{"deductible": false, "confidence": 0.9, "status": "unlikely", "reasoning": "Personal grocery purchase."}` +
				"\n```",
			wantStatus: "unlikely",
			wantVerdict: func() *bool {
				v := false
				return &v
			}(),
		},
		{
			name:       "bare fence",
			content:    "```\n{\"status\": \"possibly\", \"deductible\": true, \"reasoning\": \"Depends on usage.\"}\n```",
			wantStatus: "possibly",
		},
		{
			name:    "not json",
			content: "I think this is probably deductible because...",
			wantErr: true,
		},
		{
			name:    "empty object",
			content: "{}",
			wantErr: true,
		},
		{
			name:    "empty string",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseDeduction(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedResponse), "parse failures must be ErrMalformedResponse")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantVerdict != nil {
				require.NotNil(t, resp.Deductible)
				assert.Equal(t, *tt.wantVerdict, *resp.Deductible)
			}
		})
	}
}

func TestCleanMarkdownWrapper(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper(`  {"a":1}  `))
}
