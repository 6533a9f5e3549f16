package usecase

import (
	"fmt"
	"strings"
	"time"

	"InboxRPA/internal/domain"
)

// BuildErrorReport renders the numbered error report for a run.
func BuildErrorReport(totalErrors int, details []domain.ErrorDetail) string {
	if len(details) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ERROR REPORT - Total Errors: %d\n", totalErrors)
	b.WriteString(strings.Repeat("=", 50) + "\n")

	for i, detail := range details {
		fmt.Fprintf(&b, "Error #%d:\n", i+1)
		fmt.Fprintf(&b, "  Type: %s\n", orUnknown(detail.Kind))
		fmt.Fprintf(&b, "  Message: %s\n", orDefault(detail.Message, "No message"))
		fmt.Fprintf(&b, "  Context: %s\n", orUnknown(detail.Context))
		if detail.Timestamp.IsZero() {
			b.WriteString("  Timestamp: Unknown\n")
		} else {
			fmt.Fprintf(&b, "  Timestamp: %s\n", detail.Timestamp.Format(time.RFC3339))
		}
		b.WriteString(strings.Repeat("-", 30) + "\n")
	}

	return b.String()
}

func orUnknown(value string) string {
	return orDefault(value, "Unknown")
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
