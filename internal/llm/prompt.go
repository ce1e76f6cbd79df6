package llm

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/writeoff/internal/model"
)

// promptVersion identifies the deduction prompt template. Bump it whenever
// the template changes so stored reasoning can be traced to its prompt.
const promptVersion = "deduction-v2"

// buildDeductionPrompt creates the prompt for deductibility classification.
func buildDeductionPrompt(record model.TransactionRecord, profile *model.UserProfile) string {
	details := fmt.Sprintf("Merchant: %s\nAmount: $%.2f\nDate: %s",
		record.Merchant,
		record.Amount,
		record.OccurredAt.Format("2006-01-02"))

	if record.Category != "" {
		details += fmt.Sprintf("\nCategory: %s", record.Category)
	}
	if record.Notes != "" {
		details += fmt.Sprintf("\nNotes: %s", record.Notes)
	}

	context := "No taxpayer profile is available; assume a typical individual filer."
	if profile != nil {
		var parts []string
		if profile.Profession != "" {
			parts = append(parts, fmt.Sprintf("Profession: %s", profile.Profession))
		}
		if profile.IncomeBracket != "" {
			parts = append(parts, fmt.Sprintf("Income bracket: %s", profile.IncomeBracket))
		}
		if profile.FilingStatus != "" {
			parts = append(parts, fmt.Sprintf("Filing status: %s", profile.FilingStatus))
		}
		if profile.State != "" {
			parts = append(parts, fmt.Sprintf("State: %s", profile.State))
		}
		if len(parts) > 0 {
			context = strings.Join(parts, "\n")
		}
	}

	return fmt.Sprintf(`Decide whether this financial transaction is likely to be tax-deductible for the taxpayer described below.

Taxpayer Context:
%s

Transaction Details:
%s

Respond with a single JSON object in exactly this schema:
{
  "deductible": <true|false|null>,
  "confidence": <0.0-1.0>,
  "status": "<likely|possibly|unlikely|unknown>",
  "reasoning": "<2-3 sentences explaining the judgment>",
  "categoryHint": "<expense category this transaction fits>",
  "references": ["<relevant tax code sections or publications>"],
  "requiredDocuments": ["<records the taxpayer should retain>"],
  "riskFlags": ["<audit-risk concerns, empty if none>"]
}

Guidelines:
- Judge by what the transaction IS for this profession, not by optimistic assumptions about intent.
- Use "possibly" with deductible=true when deductibility depends on usage the data cannot show.
- Use "unknown" with deductible=null only when the transaction cannot be assessed at all.
- Confidence must reflect how certain the judgment is, not how large the deduction would be.`,
		context,
		details)
}
