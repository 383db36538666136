package covenant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is implemented by all AST nodes. It provides access to position
// information for error reporting.
type Node interface {
	Span() Span
}

// ProgramKind distinguishes the two program forms.
type ProgramKind int

const (
	// ProgramSnippets is the normative snippet-based form.
	ProgramSnippets ProgramKind = iota
	// ProgramLegacy is the pre-snippet declaration form, preserved for
	// backward compatibility. Legacy programs carry no sections.
	ProgramLegacy
)

// Program is the root of a parsed source file.
type Program struct {
	Kind         ProgramKind
	Snippets     []*Snippet
	Declarations []*Declaration
	SrcSpan      Span
}

// Span returns the source span of this node.
func (p *Program) Span() Span { return p.SrcSpan }

// SnippetKind is the kind attribute of a snippet.
type SnippetKind string

// Snippet kinds.
const (
	KindFn       SnippetKind = "fn"
	KindExtern   SnippetKind = "extern"
	KindStruct   SnippetKind = "struct"
	KindEnum     SnippetKind = "enum"
	KindData     SnippetKind = "data"
	KindDatabase SnippetKind = "database"
	KindModule   SnippetKind = "module"
)

// IsValid reports whether the kind is one of the declared snippet kinds.
func (k SnippetKind) IsValid() bool {
	switch k {
	case KindFn, KindExtern, KindStruct, KindEnum, KindData, KindDatabase, KindModule:
		return true
	default:
		return false
	}
}

// Snippet is a self-contained unit of Covenant source: a dotted-path ID,
// a kind, and an ordered list of sections.
type Snippet struct {
	ID       string
	Kind     SnippetKind
	Sections []Section
	SrcSpan  Span
}

// Span returns the source span of this node.
func (s *Snippet) Span() Span { return s.SrcSpan }

// Signature returns the snippet's signature section, or nil.
func (s *Snippet) Signature() *SignatureSection {
	for _, sec := range s.Sections {
		if sig, ok := sec.(*SignatureSection); ok {
			return sig
		}
	}

	return nil
}

// Body returns the snippet's body section, or nil.
func (s *Snippet) Body() *BodySection {
	for _, sec := range s.Sections {
		if body, ok := sec.(*BodySection); ok {
			return body
		}
	}

	return nil
}

// Effects returns the declared effect names, in declaration order.
func (s *Snippet) Effects() []string {
	for _, sec := range s.Sections {
		if eff, ok := sec.(*EffectsSection); ok {
			return eff.Effects
		}
	}

	return nil
}

// Relations returns the declared relation edges, in declaration order.
func (s *Snippet) Relations() []*Relation {
	for _, sec := range s.Sections {
		if rels, ok := sec.(*RelationsSection); ok {
			return rels.Relations
		}
	}

	return nil
}

// Content returns the content section's text, or "" for non-data snippets.
func (s *Snippet) Content() string {
	for _, sec := range s.Sections {
		if c, ok := sec.(*ContentSection); ok {
			return c.Text
		}
	}

	return ""
}

// Section is one of the snippet section forms. The set is closed.
type Section interface {
	Node
	sectionNode()
}

// SignatureSection declares the shape of a fn/extern, struct, or enum
// snippet. Exactly one of Fn, Struct, Enum is set.
type SignatureSection struct {
	Fn      *FnSig
	Struct  *StructSig
	Enum    *EnumSig
	SrcSpan Span
}

// BodySection holds the ordered steps of a fn snippet.
type BodySection struct {
	Steps   []*Step
	SrcSpan Span
}

// EffectsSection lists declared effect names.
type EffectsSection struct {
	Effects []string
	SrcSpan Span
}

// RequiresSection lists requirement entries.
type RequiresSection struct {
	Requirements []*Requirement
	SrcSpan      Span
}

// TestsSection lists test entries.
type TestsSection struct {
	Tests   []*TestDecl
	SrcSpan Span
}

// RelationsSection lists directed, typed edges to other snippets.
type RelationsSection struct {
	Relations []*Relation
	SrcSpan   Span
}

// MetadataSection holds free-form key/value pairs.
type MetadataSection struct {
	Entries []MetadataEntry
	SrcSpan Span
}

// ContentSection is the string body of a data snippet.
type ContentSection struct {
	Text    string
	SrcSpan Span
}

func (s *SignatureSection) sectionNode() {}
func (s *BodySection) sectionNode()      {}
func (s *EffectsSection) sectionNode()   {}
func (s *RequiresSection) sectionNode()  {}
func (s *TestsSection) sectionNode()     {}
func (s *RelationsSection) sectionNode() {}
func (s *MetadataSection) sectionNode()  {}
func (s *ContentSection) sectionNode()   {}

// Span returns the source span of this node.
func (s *SignatureSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *BodySection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *EffectsSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *RequiresSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *TestsSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *RelationsSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *MetadataSection) Span() Span { return s.SrcSpan }

// Span returns the source span of this node.
func (s *ContentSection) Span() Span { return s.SrcSpan }

// FnSig is a function or extern signature.
type FnSig struct {
	Name    string
	Params  []*ParamDecl
	Returns *TypeExpr
	SrcSpan Span
}

// Span returns the source span of this node.
func (f *FnSig) Span() Span { return f.SrcSpan }

// ParamDecl is a single declared parameter.
type ParamDecl struct {
	Name     string
	Type     *TypeExpr
	Optional bool
	SrcSpan  Span
}

// Span returns the source span of this node.
func (p *ParamDecl) Span() Span { return p.SrcSpan }

// StructSig is a struct signature: named, typed fields.
type StructSig struct {
	Name    string
	Fields  []*FieldDecl
	SrcSpan Span
}

// Span returns the source span of this node.
func (s *StructSig) Span() Span { return s.SrcSpan }

// FieldDecl is a named, typed field of a struct or enum variant.
type FieldDecl struct {
	Name     string
	Type     *TypeExpr
	Optional bool
	SrcSpan  Span
}

// Span returns the source span of this node.
func (f *FieldDecl) Span() Span { return f.SrcSpan }

// EnumSig is an enum signature: named variants with optional fields.
type EnumSig struct {
	Name     string
	Variants []*VariantDecl
	SrcSpan  Span
}

// Span returns the source span of this node.
func (e *EnumSig) Span() Span { return e.SrcSpan }

// VariantDecl is a single enum variant.
type VariantDecl struct {
	Name    string
	Fields  []*FieldDecl
	SrcSpan Span
}

// Span returns the source span of this node.
func (v *VariantDecl) Span() Span { return v.SrcSpan }

// TypeExprKind discriminates type expression forms.
type TypeExprKind int

// Type expression kinds.
const (
	TypeNamed TypeExprKind = iota
	TypeOptional
	TypeList
	TypeSet
	TypeUnion
	TypeTuple
	TypeFunction
)

// TypeExpr is a syntactic type expression. Named carries Name and Args;
// Optional/List/Set wrap Args[0]; Union and Tuple hold their members in
// Args; Function holds params in Args and the return type in Ret.
type TypeExpr struct {
	Kind    TypeExprKind
	Name    string
	Args    []*TypeExpr
	Ret     *TypeExpr
	SrcSpan Span
}

// Span returns the source span of this node.
func (t *TypeExpr) Span() Span { return t.SrcSpan }

// String renders the type expression in source form.
func (t *TypeExpr) String() string {
	switch t.Kind {
	case TypeOptional:
		return t.Args[0].String() + "?"
	case TypeList:
		return "List<" + t.Args[0].String() + ">"
	case TypeSet:
		return "Set<" + t.Args[0].String() + ">"
	case TypeUnion:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}

		return strings.Join(parts, " | ")
	case TypeTuple:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}

		return "(" + strings.Join(parts, ", ") + ")"
	case TypeFunction:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}

		return "(" + strings.Join(parts, ", ") + ") -> " + t.Ret.String()
	default:
		if len(t.Args) == 0 {
			return t.Name
		}

		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}

		return t.Name + "<" + strings.Join(parts, ", ") + ">"
	}
}

// StepKind is the kind attribute of a step.
type StepKind string

// Step kinds.
const (
	StepBind    StepKind = "bind"
	StepCompute StepKind = "compute"
	StepCall    StepKind = "call"
	StepIf      StepKind = "if"
	StepMatch   StepKind = "match"
	StepFor     StepKind = "for"
	StepQuery   StepKind = "query"
	StepReturn  StepKind = "return"
)

// Step is a single operation inside a function body. Which fields are
// populated depends on Kind; Out is the output binding introduced into the
// enclosing lexical scope.
type Step struct {
	ID   string
	Kind StepKind
	Out  string

	// compute
	Op     string
	Inputs []*Input

	// bind / return
	From string
	Lit  *Literal

	// call
	Fn   string
	Args []*CallArg

	// if
	Condition string
	Then      []*Step
	Else      []*Step

	// match
	On    string
	Cases []*MatchCase

	// for
	Var  string
	In   string
	Body []*Step

	// query
	Query *QuerySpec

	SrcSpan Span
}

// Span returns the source span of this node.
func (s *Step) Span() Span { return s.SrcSpan }

// Input is a single step input: a variable reference or a literal.
type Input struct {
	Var     string
	Lit     *Literal
	SrcSpan Span
}

// Span returns the source span of this node.
func (i *Input) Span() Span { return i.SrcSpan }

// CallArg is a named argument of a call step. Either From or Lit is set.
type CallArg struct {
	Name    string
	From    string
	Lit     *Literal
	SrcSpan Span
}

// Span returns the source span of this node.
func (a *CallArg) Span() Span { return a.SrcSpan }

// MatchCase is a single case of a match step. Wildcard cases match
// anything; variant cases name a qualified variant ("Result::Ok") and may
// bind its fields.
type MatchCase struct {
	Wildcard bool
	Variant  string
	Bindings []string
	Steps    []*Step
	SrcSpan  Span
}

// Span returns the source span of this node.
func (c *MatchCase) Span() Span { return c.SrcSpan }

// VariantName returns the unqualified variant name ("Ok" for "Result::Ok").
func (c *MatchCase) VariantName() string {
	if idx := strings.LastIndex(c.Variant, "::"); idx >= 0 {
		return c.Variant[idx+2:]
	}

	return c.Variant
}

// EnumName returns the qualifier of the variant ("Result" for
// "Result::Ok"), or "" when unqualified.
func (c *MatchCase) EnumName() string {
	if idx := strings.LastIndex(c.Variant, "::"); idx >= 0 {
		return c.Variant[:idx]
	}

	return ""
}

// QuerySpec is the payload of a query step. A non-empty Dialect selects
// embedded SQL (Body + Params); otherwise the Covenant-native clauses are
// used.
type QuerySpec struct {
	Dialect   string
	Target    string
	SelectAll bool
	Select    []string
	From      string
	Where     []*QueryCond
	OrderBy   string
	OrderDir  string
	Limit     *int64
	Body      string
	Params    []*QueryParam
	Returns   *QueryReturns
	SrcSpan   Span
}

// Span returns the source span of this node.
func (q *QuerySpec) Span() Span { return q.SrcSpan }

// QueryCond is a single condition of a Covenant-dialect where clause.
type QueryCond struct {
	Op      string
	Field   string
	Value   *Literal
	SrcSpan Span
}

// Span returns the source span of this node.
func (c *QueryCond) Span() Span { return c.SrcSpan }

// QueryParam binds a query placeholder to a local variable.
type QueryParam struct {
	Name    string
	From    string
	SrcSpan Span
}

// Span returns the source span of this node.
func (p *QueryParam) Span() Span { return p.SrcSpan }

// QueryReturns declares the result shape of a query step.
type QueryReturns struct {
	Collection bool
	Of         string
	Type       *TypeExpr
	SrcSpan    Span
}

// Span returns the source span of this node.
func (r *QueryReturns) Span() Span { return r.SrcSpan }

// LitKind discriminates literal forms.
type LitKind int

// Literal kinds.
const (
	LitInt LitKind = iota
	LitFloat
	LitString
	LitBool
	LitNone
)

// Literal is a literal value materialized by the parser from token text.
type Literal struct {
	Kind    LitKind
	Int     int64
	Float   float64
	Str     string
	Bool    bool
	SrcSpan Span
}

// Span returns the source span of this node.
func (l *Literal) Span() Span { return l.SrcSpan }

// Priority is a requirement priority level. Lower ordinal means higher
// priority, matching the validator's threshold comparisons.
type Priority int

// Priority levels.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns the canonical capitalized name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a priority name in any case.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	parsed, ok := ParsePriority(name)
	if !ok {
		return fmt.Errorf("unknown priority %q", name)
	}

	*p = parsed

	return nil
}

// ParsePriority converts a source spelling to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, true
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	default:
		return PriorityMedium, false
	}
}

// ReqStatus is the lifecycle status of a requirement.
type ReqStatus int

// Requirement statuses.
const (
	StatusDraft ReqStatus = iota
	StatusApproved
	StatusImplemented
	StatusTested
)

// String returns the canonical capitalized name.
func (s ReqStatus) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusApproved:
		return "Approved"
	case StatusImplemented:
		return "Implemented"
	case StatusTested:
		return "Tested"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders the status by name.
func (s ReqStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status name in any case.
func (s *ReqStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	parsed, ok := ParseReqStatus(name)
	if !ok {
		return fmt.Errorf("unknown status %q", name)
	}

	*s = parsed

	return nil
}

// ParseReqStatus converts a source spelling to a ReqStatus.
func ParseReqStatus(s string) (ReqStatus, bool) {
	switch strings.ToLower(s) {
	case "draft":
		return StatusDraft, true
	case "approved":
		return StatusApproved, true
	case "implemented":
		return StatusImplemented, true
	case "tested":
		return StatusTested, true
	default:
		return StatusDraft, false
	}
}

// Requirement is a single req entry of a requires section. Priority and
// Status are nil when unspecified; the extractor applies defaults.
type Requirement struct {
	ID       string
	Text     *string
	Priority *Priority
	Status   *ReqStatus
	SrcSpan  Span
}

// Span returns the source span of this node.
func (r *Requirement) Span() Span { return r.SrcSpan }

// TestKind classifies a test entry.
type TestKind string

// Test kinds.
const (
	TestUnit        TestKind = "unit"
	TestIntegration TestKind = "integration"
	TestGolden      TestKind = "golden"
	TestProperty    TestKind = "property"
)

// IsValid reports whether the kind is one of the declared test kinds.
func (k TestKind) IsValid() bool {
	switch k {
	case TestUnit, TestIntegration, TestGolden, TestProperty:
		return true
	default:
		return false
	}
}

// TestDecl is a single test entry of a tests section.
type TestDecl struct {
	ID      string
	Kind    TestKind
	Covers  []string
	SrcSpan Span
}

// Span returns the source span of this node.
func (t *TestDecl) Span() Span { return t.SrcSpan }

// Relation is a directed, typed edge to another snippet.
type Relation struct {
	To      string
	Type    string
	SrcSpan Span
}

// Span returns the source span of this node.
func (r *Relation) Span() Span { return r.SrcSpan }

// relationInverses maps known relation types to their inverses.
var relationInverses = map[string]string{
	"contains":   "contained_by",
	"describes":  "described_by",
	"references": "referenced_by",
	"implements": "implemented_by",
}

// InverseRelation returns the inverse name of a relation type. Unknown
// types receive an "inv_" prefix.
func InverseRelation(relType string) string {
	if inv, ok := relationInverses[relType]; ok {
		return inv
	}

	return "inv_" + relType
}

// MetadataEntry is a single key/value pair of a metadata section.
type MetadataEntry struct {
	Key     string
	Value   string
	SrcSpan Span
}

// Span returns the source span of this node.
func (m MetadataEntry) Span() Span { return m.SrcSpan }

// DeclKind classifies legacy top-level declarations.
type DeclKind int

// Legacy declaration kinds.
const (
	DeclFn DeclKind = iota
	DeclStruct
)

// Declaration is a legacy top-level declaration. Legacy programs predate
// sections; only the name, kind, and span are recorded.
type Declaration struct {
	Name    string
	Kind    DeclKind
	SrcSpan Span
}

// Span returns the source span of this node.
func (d *Declaration) Span() Span { return d.SrcSpan }
