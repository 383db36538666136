package covenant

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigNotFound is returned when no .covenant.yaml exists in the
// directory chain.
var ErrConfigNotFound = errors.New("no covenant config file found")

// ParseErrorKind is the stable taxonomy code of a parse error.
type ParseErrorKind string

// Parse error kinds.
const (
	ErrUnexpectedToken  ParseErrorKind = "UnexpectedToken"
	ErrUnexpectedEOF    ParseErrorKind = "UnexpectedEof"
	ErrUnknownAttribute ParseErrorKind = "UnknownAttribute"
	ErrMissingAttribute ParseErrorKind = "MissingAttribute"
	ErrUnclosedBlock    ParseErrorKind = "UnclosedBlock"
)

// ParseError is a single recoverable parse diagnostic. Expected lists the
// token spellings that would have been accepted at the error position.
type ParseError struct {
	Kind     ParseErrorKind
	Message  string
	Expected []string
	SrcSpan  Span
}

// Span returns the source span of this error.
func (e *ParseError) Span() Span { return e.SrcSpan }

func (e *ParseError) Error() string {
	if len(e.Expected) > 0 {
		return fmt.Sprintf("%s at %s: %s (expected %s)",
			e.Kind, e.SrcSpan, e.Message, strings.Join(e.Expected, ", "))
	}

	return fmt.Sprintf("%s at %s: %s", e.Kind, e.SrcSpan, e.Message)
}

// ParseErrorList aggregates every diagnostic produced during one parse.
type ParseErrorList []*ParseError

func (l ParseErrorList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}

	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = e.Error()
	}

	return fmt.Sprintf("%d parse errors: %s", len(l), strings.Join(parts, "; "))
}
