package requirements

import (
	"slices"
	"strings"

	covenant "github.com/Cyronius/covenant"
)

// ValidatorConfig sets the priority thresholds for uncovered-requirement
// reporting. Priorities at or above (ordinal at or below) the warning
// threshold are reported at all; the error threshold promotes them.
type ValidatorConfig struct {
	ErrorMinPriority   covenant.Priority
	WarningMinPriority covenant.Priority
}

// DefaultConfig reports Critical as errors and High as warnings; lower
// priorities are informational and uncovered Medium/Low requirements are
// not reported.
func DefaultConfig() ValidatorConfig {
	return ValidatorConfig{
		ErrorMinPriority:   covenant.PriorityCritical,
		WarningMinPriority: covenant.PriorityHigh,
	}
}

// StrictConfig promotes every uncovered requirement to an error.
func StrictConfig() ValidatorConfig {
	return ValidatorConfig{
		ErrorMinPriority:   covenant.PriorityLow,
		WarningMinPriority: covenant.PriorityLow,
	}
}

// ConfigFromCoverage builds a validator config from the yaml coverage
// settings, falling back to the defaults for unset or unknown values.
func ConfigFromCoverage(cfg covenant.CoverageConfig) ValidatorConfig {
	if cfg.Strict {
		return StrictConfig()
	}

	out := DefaultConfig()

	if p, ok := covenant.ParsePriority(cfg.ErrorMinPriority); ok {
		out.ErrorMinPriority = p
	}

	if p, ok := covenant.ParsePriority(cfg.WarningMinPriority); ok {
		out.WarningMinPriority = p
	}

	return out
}

// Validate builds coverage links, checks for uncovered requirements
// against the config thresholds, and computes summary statistics.
func Validate(extraction *ExtractionResult, config ValidatorConfig) *CoverageReport {
	errors := extraction.Errors

	buildCoverageLinks(extraction, &errors)
	checkUncovered(extraction, &errors, config)

	return &CoverageReport{
		Requirements: extraction.Requirements,
		Tests:        extraction.Tests,
		Summary:      computeSummary(extraction.Requirements),
		Errors:       errors,
	}
}

// buildCoverageLinks populates each requirement's CoveredBy from the
// tests' covers lists, deduplicated. A covers entry referencing an
// unknown requirement is an error.
func buildCoverageLinks(extraction *ExtractionResult, errors *[]*RequirementError) {
	for _, testID := range extraction.testOrder {
		test := extraction.Tests[testID]

		for _, reqID := range test.Covers {
			req, ok := extraction.Requirements[reqID]
			if !ok {
				*errors = append(*errors, &RequirementError{
					Kind:      ErrNonexistentRequirement,
					TestID:    test.ID,
					ReqID:     reqID,
					SnippetID: test.SnippetID,
					SrcSpan:   test.Span,
				})

				continue
			}

			if !slices.Contains(req.CoveredBy, test.ID) {
				req.CoveredBy = append(req.CoveredBy, test.ID)
			}
		}
	}
}

// checkUncovered reports requirements without coverage whose priority is
// at or above the warning threshold. Requirements below the threshold are
// silently ignored.
func checkUncovered(extraction *ExtractionResult, errors *[]*RequirementError, config ValidatorConfig) {
	for _, reqID := range extraction.requirementOrder {
		req := extraction.Requirements[reqID]
		if len(req.CoveredBy) > 0 {
			continue
		}

		// Lower ordinal means higher priority.
		if req.Priority <= config.WarningMinPriority {
			*errors = append(*errors, &RequirementError{
				Kind:      ErrUncoveredRequirement,
				ID:        req.ID,
				Priority:  req.Priority,
				SnippetID: req.SnippetID,
				SrcSpan:   req.Span,
			})
		}
	}
}

var allPriorities = []covenant.Priority{
	covenant.PriorityCritical,
	covenant.PriorityHigh,
	covenant.PriorityMedium,
	covenant.PriorityLow,
}

func computeSummary(reqs map[string]*RequirementInfo) CoverageSummary {
	total := len(reqs)
	covered := 0

	for _, req := range reqs {
		if len(req.CoveredBy) > 0 {
			covered++
		}
	}

	percent := 100.0
	if total > 0 {
		percent = float64(covered) / float64(total) * 100.0
	}

	byPriority := make(map[string]PrioritySummary, len(allPriorities))

	for _, priority := range allPriorities {
		summary := PrioritySummary{}

		for _, req := range reqs {
			if req.Priority != priority {
				continue
			}

			summary.Total++

			if len(req.CoveredBy) > 0 {
				summary.Covered++
			}
		}

		summary.Uncovered = summary.Total - summary.Covered
		byPriority[priority.String()] = summary
	}

	return CoverageSummary{
		TotalRequirements:     total,
		CoveredRequirements:   covered,
		UncoveredRequirements: total - covered,
		CoveragePercent:       percent,
		ByPriority:            byPriority,
	}
}

// FilterUncovered narrows a report to uncovered requirements only.
func FilterUncovered(report *CoverageReport) *CoverageReport {
	uncovered := make(map[string]*RequirementInfo)

	for id, req := range report.Requirements {
		if len(req.CoveredBy) == 0 {
			uncovered[id] = req
		}
	}

	var errors []*RequirementError

	for _, err := range report.Errors {
		if err.Kind == ErrUncoveredRequirement {
			errors = append(errors, err)
		}
	}

	return &CoverageReport{
		Requirements: uncovered,
		Tests:        make(map[string]*TestInfo),
		Summary:      report.Summary,
		Errors:       errors,
	}
}

// SortedRequirementIDs returns the report's requirement IDs in
// lexicographic order, for deterministic rendering.
func SortedRequirementIDs(report *CoverageReport) []string {
	ids := make([]string, 0, len(report.Requirements))
	for id := range report.Requirements {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, strings.Compare)

	return ids
}
