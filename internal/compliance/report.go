package compliance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aegis-dr/aegis/pkg/models"
)

// RenderMarkdown formats a ComplianceReport as Markdown: a header with
// timestamp and overall compliance boolean, a summary of totals and
// per-standard counts, then one block per requirement.
func RenderMarkdown(report *models.ComplianceReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Compliance Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Overall compliant: **%v**\n\n", report.OverallCompliant)

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- Total requirements checked: %d\n", report.TotalChecked)
	fmt.Fprintf(&b, "- Passing: %d\n", report.PassCount)
	fmt.Fprintf(&b, "- Failing: %d\n\n", report.TotalChecked-report.PassCount)

	if len(report.ByStandard) > 0 {
		fmt.Fprintf(&b, "### By standard\n\n")
		standards := make([]models.ComplianceStandard, 0, len(report.ByStandard))
		for s := range report.ByStandard {
			standards = append(standards, s)
		}
		sort.Slice(standards, func(i, j int) bool { return standards[i] < standards[j] })
		for _, s := range standards {
			fmt.Fprintf(&b, "- %s: %d passing\n", s, report.ByStandard[s])
		}
		fmt.Fprintf(&b, "\n")
	}

	fmt.Fprintf(&b, "## Requirements\n\n")
	for _, req := range report.Requirements {
		status := "FAIL"
		if req.Pass {
			status = "PASS"
		}
		fmt.Fprintf(&b, "### [%s] %s\n\n", status, req.Name)
		fmt.Fprintf(&b, "- Standard: %s\n", req.Standard)
		fmt.Fprintf(&b, "- Severity: %s\n", req.Severity)
		fmt.Fprintf(&b, "- Details: %s\n", req.Details)
		for _, rec := range req.Recommendations {
			fmt.Fprintf(&b, "- Recommendation: %s\n", rec)
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String()
}
