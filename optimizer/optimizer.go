// Package optimizer holds the optimization pass scaffold. The pass
// pipeline is wired but its passes are declared future work: every pass
// currently reports the IR unmodified.
package optimizer

import covenant "github.com/Cyronius/covenant"

// OptLevel selects which passes run.
type OptLevel int

// Optimization levels.
const (
	// O0 runs no passes.
	O0 OptLevel = iota
	// O1 runs dead-code elimination.
	O1
	// O2 adds constant folding.
	O2
	// O3 runs all passes.
	O3
)

// ParseOptLevel converts a level name ("O0".."O3", "0".."3").
func ParseOptLevel(s string) (OptLevel, bool) {
	switch s {
	case "O0", "0", "":
		return O0, true
	case "O1", "1":
		return O1, true
	case "O2", "2":
		return O2, true
	case "O3", "3":
		return O3, true
	default:
		return O0, false
	}
}

// OptSettings configures an optimization run.
type OptSettings struct {
	Level        OptLevel
	EmitWarnings bool
}

// OptWarning is a diagnostic produced by a pass without modifying the IR.
type OptWarning struct {
	Pass    string
	Message string
	SrcSpan covenant.Span
}

// OptResult aggregates the outcome of all passes.
type OptResult struct {
	// Modified is true when any pass changed the IR.
	Modified bool
	// Warnings from all passes, in pass order.
	Warnings []OptWarning
}

// PassResult is the outcome of a single pass.
type PassResult struct {
	Modified bool
	Warnings []OptWarning
}

// Pass is a single optimization over a function body.
type Pass interface {
	// Name identifies the pass in warnings.
	Name() string

	// Run transforms the steps in place and reports what happened.
	Run(steps []*covenant.Step, settings *OptSettings) PassResult
}

// passesFor returns the pass pipeline for a level.
func passesFor(level OptLevel) []Pass {
	switch level {
	case O0:
		return nil
	case O1:
		return []Pass{&deadCodePass{}}
	default:
		return []Pass{&deadCodePass{}, &constantFoldPass{}}
	}
}

// Optimize runs the configured passes over a function body and merges
// their results.
func Optimize(steps []*covenant.Step, settings *OptSettings) OptResult {
	result := OptResult{}

	if settings == nil {
		settings = &OptSettings{}
	}

	for _, pass := range passesFor(settings.Level) {
		passResult := pass.Run(steps, settings)
		result.Modified = result.Modified || passResult.Modified

		if settings.EmitWarnings {
			result.Warnings = append(result.Warnings, passResult.Warnings...)
		}
	}

	return result
}
