package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MutationResult reports the outcome of a snippet mutation.
type MutationResult struct {
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	NewVersion uint64   `json:"new_version"`
}

// MutationOK builds a successful result at the given store version.
func MutationOK(version uint64) MutationResult {
	return MutationResult{Success: true, Errors: []string{}, Warnings: []string{}, NewVersion: version}
}

// MutationErr builds a failed result.
func MutationErr(errors ...string) MutationResult {
	return MutationResult{Success: false, Errors: errors, Warnings: []string{}}
}

// WithWarning appends a warning.
func (r MutationResult) WithWarning(warning string) MutationResult {
	r.Warnings = append(r.Warnings, warning)

	return r
}

// CompileResult reports the outcome of a snippet compilation.
type CompileResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
	Wasm    []byte   `json:"wasm,omitempty"`
}

// CompileOK builds a successful result carrying the wasm binary.
func CompileOK(wasm []byte) CompileResult {
	return CompileResult{Success: true, Errors: []string{}, Wasm: wasm}
}

// CompileErr builds a failed result.
func CompileErr(errors ...string) CompileResult {
	return CompileResult{Success: false, Errors: errors}
}

// Mutator updates snippets in a symbol store and triggers the
// recompilation chain. Validation is intentionally lightweight in the
// interim design; full parsing happens when the modified source is fed
// back through the pipeline.
type Mutator struct {
	logger *zap.Logger
}

// NewMutator creates a mutator. A nil logger disables logging.
func NewMutator(logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Mutator{logger: logger}
}

// ParseSnippet validates snippet source without touching the store:
// non-empty, contains a snippet declaration with id and kind attributes,
// and is end-terminated.
func (m *Mutator) ParseSnippet(source string) MutationResult {
	if strings.TrimSpace(source) == "" {
		return MutationErr("Empty source")
	}

	if !strings.Contains(source, "snippet") {
		return MutationErr("Source must contain 'snippet' declaration")
	}

	if !strings.Contains(source, "id=") {
		return MutationErr("Snippet must have an 'id' attribute")
	}

	if !strings.Contains(source, "kind=") {
		return MutationErr("Snippet must have a 'kind' attribute")
	}

	if !strings.Contains(source, "end") {
		return MutationErr("Snippet must be terminated with 'end'")
	}

	return MutationOK(0)
}

// effectPattern finds `effect <name>` declarations. Simple substring
// detection in the interim design.
var effectPattern = regexp.MustCompile(`\beffect\s+([a-z_][a-z0-9_]*)`)

// UpdateSnippet validates the source, extracts effects, upserts the
// symbol, and rebuilds backward references.
func (m *Mutator) UpdateSnippet(store *SymbolStore, id, source string) MutationResult {
	if parsed := m.ParseSnippet(source); !parsed.Success {
		return parsed
	}

	symbol := NewRuntimeSymbol(id, "fn")
	symbol.File = "<runtime>"

	for _, match := range effectPattern.FindAllStringSubmatch(source, -1) {
		symbol.Effects = append(symbol.Effects, match[1])
		symbol.EffectClosure = append(symbol.EffectClosure, match[1])
	}

	version := store.Upsert(symbol)
	store.RecomputeBackwardRefs()

	m.logger.Debug("snippet updated",
		zap.String("id", id),
		zap.Uint64("version", version),
		zap.Strings("effects", symbol.Effects))

	return MutationOK(version)
}

// DeleteSnippet removes a snippet and rebuilds backward references.
// Returns false when the snippet was not present.
func (m *Mutator) DeleteSnippet(store *SymbolStore, id string) bool {
	deleted := store.Delete(id)
	if deleted {
		store.RecomputeBackwardRefs()
		m.logger.Debug("snippet deleted", zap.String("id", id))
	}

	return deleted
}

// CompileSnippet compiles a single snippet against the store. Per-snippet
// compilation is declared future work; whole-program builds go through
// the codegen package.
func (m *Mutator) CompileSnippet(_ *SymbolStore, id string) CompileResult {
	return CompileErr(fmt.Sprintf("Compilation not yet implemented for snippet '%s'", id))
}

// RecompileSnippet chains UpdateSnippet and CompileSnippet.
func (m *Mutator) RecompileSnippet(store *SymbolStore, id, source string) CompileResult {
	update := m.UpdateSnippet(store, id, source)
	if !update.Success {
		return CompileErr(update.Errors...)
	}

	return m.CompileSnippet(store, id)
}
