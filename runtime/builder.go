package runtime

import (
	"slices"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/analysis"
)

// BuildStore populates a symbol store from a checked program: one symbol
// per snippet with its declared effects, the call edges discovered by the
// checker, and the transitive effect closure over the call graph.
// Backward references are rebuilt before returning.
func BuildStore(program *covenant.Program, check *analysis.Result, file, source string) *SymbolStore {
	store := NewSymbolStore()

	closures := make(map[string][]string)

	for _, snippet := range program.Snippets {
		closure(snippet.ID, check, closures, make(map[string]bool))
	}

	for _, snippet := range program.Snippets {
		sym := NewRuntimeSymbol(snippet.ID, string(snippet.Kind))
		sym.File = file
		sym.Span = snippet.Span()
		sym.Line = covenant.LineOf(source, snippet.Span().Start)
		sym.Effects = slices.Clone(snippet.Effects())
		sym.EffectClosure = closures[snippet.ID]

		if checked := check.Symbols.Get(snippet.ID); checked != nil {
			sym.Calls = slices.Clone(checked.Calls)
		}

		store.Upsert(sym)
	}

	store.RecomputeBackwardRefs()

	return store
}

// closure computes the transitive union of effects along call edges,
// memoized per snippet. Cycles contribute whatever has been accumulated
// when they close.
func closure(id string, check *analysis.Result, memo map[string][]string, visiting map[string]bool) []string {
	if effects, done := memo[id]; done {
		return effects
	}

	if visiting[id] {
		return nil
	}

	visiting[id] = true

	sym := check.Symbols.Get(id)
	if sym == nil {
		memo[id] = nil

		return nil
	}

	set := make(map[string]bool)
	for _, effect := range sym.Effects {
		set[effect] = true
	}

	for _, callee := range sym.Calls {
		for _, effect := range closure(callee, check, memo, visiting) {
			set[effect] = true
		}
	}

	effects := make([]string, 0, len(set))
	for effect := range set {
		effects = append(effects, effect)
	}

	slices.Sort(effects)

	if len(effects) == 0 {
		effects = nil
	}

	memo[id] = effects

	return effects
}
