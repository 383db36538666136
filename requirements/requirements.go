// Package requirements validates that requirements declared in snippets
// have test coverage and produces coverage reports.
package requirements

import (
	"encoding/json"
	"fmt"

	covenant "github.com/Cyronius/covenant"
)

// RequirementInfo is a requirement extracted from the AST, with its
// computed coverage links.
type RequirementInfo struct {
	// Requirement ID (e.g. "R-001", "R-AUTH-001").
	ID string `json:"id"`

	// Human-readable description, when declared.
	Text *string `json:"text,omitempty"`

	// Priority level; defaults to Medium when undeclared.
	Priority covenant.Priority `json:"priority"`

	// Lifecycle status; defaults to Draft when undeclared.
	Status covenant.ReqStatus `json:"status"`

	// Parent snippet ID where this requirement is defined.
	SnippetID string `json:"snippet_id"`

	// Test IDs that cover this requirement (computed bidirectionally).
	CoveredBy []string `json:"covered_by"`

	// Source span for error reporting.
	Span covenant.Span `json:"span"`
}

// TestInfo is a test extracted from the AST.
type TestInfo struct {
	ID        string            `json:"id"`
	Kind      covenant.TestKind `json:"kind"`
	Covers    []string          `json:"covers"`
	SnippetID string            `json:"snippet_id"`
	Span      covenant.Span     `json:"span"`
}

// PrioritySummary is the per-priority coverage breakdown.
type PrioritySummary struct {
	Total     int `json:"total"`
	Covered   int `json:"covered"`
	Uncovered int `json:"uncovered"`
}

// CoverageSummary aggregates coverage statistics. CoveragePercent is 100
// when there are no requirements.
type CoverageSummary struct {
	TotalRequirements     int                        `json:"total_requirements"`
	CoveredRequirements   int                        `json:"covered_requirements"`
	UncoveredRequirements int                        `json:"uncovered_requirements"`
	CoveragePercent       float64                    `json:"coverage_percent"`
	ByPriority            map[string]PrioritySummary `json:"by_priority"`
}

// CoverageReport is the full validation output.
type CoverageReport struct {
	Requirements map[string]*RequirementInfo `json:"requirements"`
	Tests        map[string]*TestInfo        `json:"tests"`
	Summary      CoverageSummary             `json:"summary"`
	Errors       []*RequirementError         `json:"errors"`
}

// ErrorKind tags requirement validation errors.
type ErrorKind string

// Requirement error kinds.
const (
	ErrUncoveredRequirement   ErrorKind = "UncoveredRequirement"
	ErrNonexistentRequirement ErrorKind = "NonexistentRequirement"
	ErrDuplicateRequirement   ErrorKind = "DuplicateRequirement"
	ErrDuplicateTest          ErrorKind = "DuplicateTest"
)

// RequirementError is a single validation error. The populated fields
// depend on Kind.
type RequirementError struct {
	Kind ErrorKind

	// UncoveredRequirement / duplicates: the offending ID.
	ID string

	// NonexistentRequirement payload.
	TestID string
	ReqID  string

	// Duplicates: the snippets holding the first and second occurrence.
	First  string
	Second string

	Priority  covenant.Priority
	SnippetID string
	SrcSpan   covenant.Span
}

// Span returns the source span of this error.
func (e *RequirementError) Span() covenant.Span { return e.SrcSpan }

func (e *RequirementError) Error() string {
	switch e.Kind {
	case ErrUncoveredRequirement:
		return fmt.Sprintf("uncovered requirement '%s' (priority: %s) in snippet '%s'",
			e.ID, e.Priority, e.SnippetID)
	case ErrNonexistentRequirement:
		return fmt.Sprintf("test '%s' references nonexistent requirement '%s' in snippet '%s'",
			e.TestID, e.ReqID, e.SnippetID)
	case ErrDuplicateRequirement:
		return fmt.Sprintf("duplicate requirement ID '%s' found in snippets '%s' and '%s'",
			e.ID, e.First, e.Second)
	default:
		return fmt.Sprintf("duplicate test ID '%s' found in snippets '%s' and '%s'",
			e.ID, e.First, e.Second)
	}
}

// Code returns the stable taxonomy code for display.
func (e *RequirementError) Code() string {
	switch e.Kind {
	case ErrUncoveredRequirement:
		return "E-REQ-001"
	case ErrNonexistentRequirement:
		return "E-REQ-002"
	case ErrDuplicateRequirement:
		return "E-REQ-003"
	default:
		return "E-REQ-004"
	}
}

// Severity is a validation severity level.
type Severity int

// Severity levels.
const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Severity classifies the error under the default thresholds:
// Critical=Error, High=Warning, others=Info; every non-coverage kind is
// always an Error.
func (e *RequirementError) Severity() Severity {
	return e.SeverityWithConfig(DefaultConfig())
}

// SeverityWithConfig classifies the error under explicit thresholds.
func (e *RequirementError) SeverityWithConfig(config ValidatorConfig) Severity {
	if e.Kind != ErrUncoveredRequirement {
		return SeverityError
	}

	switch {
	case e.Priority <= config.ErrorMinPriority:
		return SeverityError
	case e.Priority <= config.WarningMinPriority:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// MarshalJSON renders the error as a tagged variant.
func (e *RequirementError) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind": string(e.Kind),
		"code": e.Code(),
		"span": e.SrcSpan,
	}

	switch e.Kind {
	case ErrUncoveredRequirement:
		out["id"] = e.ID
		out["priority"] = e.Priority.String()
		out["snippet_id"] = e.SnippetID
	case ErrNonexistentRequirement:
		out["test_id"] = e.TestID
		out["req_id"] = e.ReqID
		out["snippet_id"] = e.SnippetID
	default:
		out["id"] = e.ID
		out["first"] = e.First
		out["second"] = e.Second
	}

	return json.Marshal(out)
}

// ValidateProgram extracts and validates a program in one call. A nil
// config selects the defaults.
func ValidateProgram(program *covenant.Program, config *ValidatorConfig) *CoverageReport {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	return Validate(Extract(program), cfg)
}

// HasCoverageErrors reports whether the report carries any Error-severity
// entries, for CI integration.
func HasCoverageErrors(report *CoverageReport) bool {
	for _, err := range report.Errors {
		if err.Severity() == SeverityError {
			return true
		}
	}

	return false
}

// Failures returns only the Error-severity entries.
func Failures(report *CoverageReport) []*RequirementError {
	var out []*RequirementError

	for _, err := range report.Errors {
		if err.Severity() == SeverityError {
			out = append(out, err)
		}
	}

	return out
}
