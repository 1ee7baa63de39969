package agent

import (
	"strings"

	"github.com/kestrelfin/ledgersync/internal/models"
)

// shouldSkipAnnual implements the Q4 gate of spec.md §4.5.4: an annual file
// is skipped only once a quarter has been detected from the first
// quarterly insertion and that quarter's label does not contain "Q4"
// (case-insensitive). Quarterly files are never skipped by this rule.
func shouldSkipAnnual(file models.TargetFile, agentCtx *models.AgentContext) bool {
	if file.Period != models.PeriodAnnual {
		return false
	}
	if !agentCtx.HasDetectedQuarter {
		return false
	}
	return !strings.Contains(strings.ToUpper(agentCtx.DetectedQuarter), "Q4")
}
