package requirements

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/fatih/color"

	covenant "github.com/Cyronius/covenant"
)

// ReportFormat selects the coverage report output.
type ReportFormat int

// Report formats.
const (
	FormatText ReportFormat = iota
	FormatJSON
	FormatMarkdown
)

// ParseReportFormat converts a format name.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(s) {
	case "text", "txt", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s (expected text, json, or markdown)", s)
	}
}

// FormatReport renders a coverage report.
func FormatReport(report *CoverageReport, format ReportFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(report)
	case FormatMarkdown:
		return formatMarkdown(report)
	default:
		return formatText(report)
	}
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
)

func priorityMarker(p covenant.Priority) string {
	switch p {
	case covenant.PriorityCritical:
		return failMark("[CRITICAL]")
	case covenant.PriorityHigh:
		return warnMark("[HIGH]")
	case covenant.PriorityMedium:
		return "[MEDIUM]"
	default:
		return "[LOW]"
	}
}

func formatText(report *CoverageReport) string {
	var b strings.Builder

	b.WriteString("=== Requirement Coverage Report ===\n\n")
	fmt.Fprintf(&b, "Total Requirements: %d\n", report.Summary.TotalRequirements)
	fmt.Fprintf(&b, "Covered: %d\n", report.Summary.CoveredRequirements)
	fmt.Fprintf(&b, "Uncovered: %d\n", report.Summary.UncoveredRequirements)
	fmt.Fprintf(&b, "Coverage: %.1f%%\n\n", report.Summary.CoveragePercent)

	b.WriteString("By Priority:\n")

	for _, priority := range []string{"Critical", "High", "Medium", "Low"} {
		if stats, ok := report.Summary.ByPriority[priority]; ok && stats.Total > 0 {
			fmt.Fprintf(&b, "  %s: %d/%d covered\n", priority, stats.Covered, stats.Total)
		}
	}

	b.WriteString("\n")

	var covered, uncovered []*RequirementInfo

	for _, id := range SortedRequirementIDs(report) {
		req := report.Requirements[id]
		if len(req.CoveredBy) > 0 {
			covered = append(covered, req)
		} else {
			uncovered = append(uncovered, req)
		}
	}

	if len(covered) > 0 {
		b.WriteString("Covered Requirements:\n")

		for _, req := range covered {
			fmt.Fprintf(&b, "  %s %s - %s (by: %s)\n",
				okMark("[+]"), req.ID, textOrPlaceholder(req.Text), strings.Join(req.CoveredBy, ", "))
		}

		b.WriteString("\n")
	}

	if len(uncovered) > 0 {
		// Critical first.
		slices.SortStableFunc(uncovered, func(a, b *RequirementInfo) int {
			return int(a.Priority) - int(b.Priority)
		})

		b.WriteString("Uncovered Requirements:\n")

		for _, req := range uncovered {
			fmt.Fprintf(&b, "  %s %s %s - %s (in %s)\n",
				failMark("[-]"), priorityMarker(req.Priority), req.ID,
				textOrPlaceholder(req.Text), req.SnippetID)
		}

		b.WriteString("\n")
	}

	var otherErrors []*RequirementError

	for _, err := range report.Errors {
		if err.Kind != ErrUncoveredRequirement {
			otherErrors = append(otherErrors, err)
		}
	}

	if len(otherErrors) > 0 {
		b.WriteString("Validation Errors:\n")

		for _, err := range otherErrors {
			marker := failMark("[ERROR]")
			if err.Severity() == SeverityWarning {
				marker = warnMark("[WARN]")
			}

			fmt.Fprintf(&b, "  %s %s %s\n", marker, err.Code(), err.Error())
		}
	}

	return b.String()
}

func formatJSON(report *CoverageReport) string {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	return string(data)
}

func formatMarkdown(report *CoverageReport) string {
	var b strings.Builder

	b.WriteString("# Requirement Coverage Report\n\n")
	fmt.Fprintf(&b, "**Coverage: %.1f%%** (%d/%d requirements)\n\n",
		report.Summary.CoveragePercent,
		report.Summary.CoveredRequirements,
		report.Summary.TotalRequirements)

	b.WriteString("| Priority | Covered | Total |\n|---|---|---|\n")

	for _, priority := range []string{"Critical", "High", "Medium", "Low"} {
		if stats, ok := report.Summary.ByPriority[priority]; ok && stats.Total > 0 {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", priority, stats.Covered, stats.Total)
		}
	}

	b.WriteString("\n## Requirements\n\n")

	for _, id := range SortedRequirementIDs(report) {
		req := report.Requirements[id]

		status := "covered by " + strings.Join(req.CoveredBy, ", ")
		if len(req.CoveredBy) == 0 {
			status = "uncovered"
		}

		fmt.Fprintf(&b, "- **%s** (%s) %s — %s\n", req.ID, req.Priority, textOrPlaceholder(req.Text), status)
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")

		for _, err := range report.Errors {
			fmt.Fprintf(&b, "- `%s` %s\n", err.Code(), err.Error())
		}
	}

	return b.String()
}

func textOrPlaceholder(text *string) string {
	if text == nil || *text == "" {
		return "(no description)"
	}

	return *text
}
