package agent

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// checkNumericFormat is the numeric-format validator from spec.md §9, open
// question (b): the source material requires "all numbers fully written"
// but has no safeguard against a vision model returning an abbreviated
// figure. This is advisory, not enforced - it logs a validation note via
// the scratchpad rather than rejecting the write, since the spec marks it
// "a defensible extension, not mandated".
//
// It flags two shapes: a trailing abbreviation suffix (394.3B, 12M) and a
// plain number whose magnitude falls below floor, which for large-company
// balance-sheet line items usually indicates the model silently dropped
// zeros (e.g. wrote "394328" meaning "394,328,000,000").
func checkNumericFormat(value string, floor int64) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "-" {
		return ""
	}

	clean := strings.NewReplacer("(", "-", ")", "", ",", "").Replace(trimmed)

	last := clean[len(clean)-1]
	if last == 'B' || last == 'M' || last == 'K' || last == 'b' || last == 'm' || last == 'k' {
		return fmt.Sprintf("possible abbreviated number %q: values must be fully written", value)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return fmt.Sprintf("value %q does not parse as a number", value)
	}

	abs := d.Abs()
	if !abs.IsZero() && abs.LessThan(decimal.NewFromInt(floor)) {
		return fmt.Sprintf("value %q is below the configured floor (%d): may be an abbreviated figure", value, floor)
	}

	return ""
}
