package analysis

import (
	covenant "github.com/Cyronius/covenant"
)

// StructDef is a registered struct type.
type StructDef struct {
	Name   string
	ID     SymbolID
	Fields []Field
}

// VariantDef is a single variant of a registered enum.
type VariantDef struct {
	Name   string
	Fields []Field
}

// EnumDef is a registered enum type with its ordered variants.
type EnumDef struct {
	Name     string
	ID       SymbolID
	Variants []*VariantDef
}

// Variant returns the named variant, or nil.
func (e *EnumDef) Variant(name string) *VariantDef {
	for _, v := range e.Variants {
		if v.Name == name {
			return v
		}
	}

	return nil
}

// Registry is the name-indexed type registry populated during the resolve
// phase, before body checking.
type Registry struct {
	Structs map[string]*StructDef
	Enums   map[string]*EnumDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Structs: make(map[string]*StructDef),
		Enums:   make(map[string]*EnumDef),
	}
}

// Param is a resolved function parameter.
type Param struct {
	Name     string
	Type     Type
	Optional bool
}

// Symbol is a resolved snippet: its stable ID, kind, signature, declared
// effects, and the call edges discovered while checking its body.
type Symbol struct {
	ID        SymbolID
	SnippetID string
	Kind      covenant.SnippetKind
	Name      string
	Params    []Param
	Returns   Type
	Effects   []string
	Calls     []string
	SrcSpan   covenant.Span
}

// Span returns the source span of the snippet this symbol came from.
func (s *Symbol) Span() covenant.Span { return s.SrcSpan }

// SymbolTable maps snippet IDs to resolved symbols, preserving
// registration order.
type SymbolTable struct {
	byID    map[string]*Symbol
	ordered []*Symbol
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byID: make(map[string]*Symbol)}
}

// Add registers a symbol. Returns false when the snippet ID is already
// taken; the first registration wins.
func (t *SymbolTable) Add(sym *Symbol) bool {
	if _, exists := t.byID[sym.SnippetID]; exists {
		return false
	}

	sym.ID = SymbolID(len(t.ordered) + 1)
	t.byID[sym.SnippetID] = sym
	t.ordered = append(t.ordered, sym)

	return true
}

// Get returns the symbol for a snippet ID, or nil.
func (t *SymbolTable) Get(snippetID string) *Symbol { return t.byID[snippetID] }

// All returns symbols in registration order.
func (t *SymbolTable) All() []*Symbol { return t.ordered }

// Len returns the number of registered symbols.
func (t *SymbolTable) Len() int { return len(t.ordered) }
