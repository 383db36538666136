package analysis

import (
	"fmt"
	"strings"

	covenant "github.com/Cyronius/covenant"
)

// ErrorKind is the stable taxonomy code of a check diagnostic.
type ErrorKind string

// Check error kinds.
const (
	ErrTypeMismatch        ErrorKind = "TypeMismatch"
	ErrUndefinedVariable   ErrorKind = "UndefinedVariable"
	ErrUnknownFunction     ErrorKind = "UnknownFunction"
	ErrArgCountMismatch    ErrorKind = "ArgCountMismatch"
	ErrUnknownArgument     ErrorKind = "UnknownArgument"
	ErrMissingArgument     ErrorKind = "MissingArgument"
	ErrNonexhaustiveMatch  ErrorKind = "NonexhaustiveMatch"
	ErrIfConditionNotBool  ErrorKind = "IfConditionNotBool"
	ErrDuplicateDefinition ErrorKind = "DuplicateDefinition"
)

// CheckError is a single type-check diagnostic. Every diagnostic carries
// its originating span; the payload fields depend on Kind.
type CheckError struct {
	Kind    ErrorKind
	Message string

	// TypeMismatch payload.
	Expected string
	Actual   string

	// Name payload for variable/function/argument errors.
	Name string

	// NonexhaustiveMatch payload: the variants with no case.
	Missing []string

	SrcSpan covenant.Span
}

// Span returns the source span of this diagnostic.
func (e *CheckError) Span() covenant.Span { return e.SrcSpan }

func (e *CheckError) Error() string {
	switch e.Kind {
	case ErrTypeMismatch:
		return fmt.Sprintf("%s at %s: expected %s, found %s", e.Kind, e.SrcSpan, e.Expected, e.Actual)
	case ErrNonexhaustiveMatch:
		return fmt.Sprintf("%s at %s: missing variants %s", e.Kind, e.SrcSpan, strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.SrcSpan, e.Message)
	}
}

func typeMismatch(expected, actual Type, span covenant.Span) *CheckError {
	return &CheckError{
		Kind:     ErrTypeMismatch,
		Message:  fmt.Sprintf("expected %s, found %s", expected.Display(), actual.Display()),
		Expected: expected.Display(),
		Actual:   actual.Display(),
		SrcSpan:  span,
	}
}
