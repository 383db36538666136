package requirements

import (
	"slices"

	covenant "github.com/Cyronius/covenant"
)

// ExtractionResult holds the requirements and tests pulled from a
// program, plus any duplicate-ID errors. IDs are recorded in first-seen
// order so validation output is deterministic.
type ExtractionResult struct {
	Requirements map[string]*RequirementInfo
	Tests        map[string]*TestInfo
	Errors       []*RequirementError

	requirementOrder []string
	testOrder        []string
}

// RequirementIDs returns requirement IDs in declaration order.
func (r *ExtractionResult) RequirementIDs() []string { return slices.Clone(r.requirementOrder) }

// TestIDs returns test IDs in declaration order.
func (r *ExtractionResult) TestIDs() []string { return slices.Clone(r.testOrder) }

// Extract walks all snippets, pulling every req and test entry. Duplicate
// IDs produce errors; the first occurrence wins. Legacy programs carry no
// sections and extract empty.
func Extract(program *covenant.Program) *ExtractionResult {
	result := &ExtractionResult{
		Requirements: make(map[string]*RequirementInfo),
		Tests:        make(map[string]*TestInfo),
	}

	if program.Kind != covenant.ProgramSnippets {
		return result
	}

	for _, snippet := range program.Snippets {
		extractFromSnippet(snippet, result)
	}

	return result
}

func extractFromSnippet(snippet *covenant.Snippet, result *ExtractionResult) {
	for _, section := range snippet.Sections {
		switch sec := section.(type) {
		case *covenant.RequiresSection:
			for _, req := range sec.Requirements {
				priority := covenant.PriorityMedium
				if req.Priority != nil {
					priority = *req.Priority
				}

				status := covenant.StatusDraft
				if req.Status != nil {
					status = *req.Status
				}

				if existing, dup := result.Requirements[req.ID]; dup {
					result.Errors = append(result.Errors, &RequirementError{
						Kind:    ErrDuplicateRequirement,
						ID:      req.ID,
						First:   existing.SnippetID,
						Second:  snippet.ID,
						SrcSpan: req.Span(),
					})

					continue
				}

				result.Requirements[req.ID] = &RequirementInfo{
					ID:        req.ID,
					Text:      req.Text,
					Priority:  priority,
					Status:    status,
					SnippetID: snippet.ID,
					CoveredBy: []string{},
					Span:      req.Span(),
				}
				result.requirementOrder = append(result.requirementOrder, req.ID)
			}

		case *covenant.TestsSection:
			for _, test := range sec.Tests {
				if existing, dup := result.Tests[test.ID]; dup {
					result.Errors = append(result.Errors, &RequirementError{
						Kind:    ErrDuplicateTest,
						ID:      test.ID,
						First:   existing.SnippetID,
						Second:  snippet.ID,
						SrcSpan: test.Span(),
					})

					continue
				}

				result.Tests[test.ID] = &TestInfo{
					ID:        test.ID,
					Kind:      test.Kind,
					Covers:    slices.Clone(test.Covers),
					SnippetID: snippet.ID,
					Span:      test.Span(),
				}
				result.testOrder = append(result.testOrder, test.ID)
			}
		}
	}
}
