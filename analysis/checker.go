package analysis

import (
	"fmt"

	covenant "github.com/Cyronius/covenant"
)

// Result holds everything the checker produced: the symbol table, the type
// registry, a map from step handles to result types, and every diagnostic.
// Checking never short-circuits; all errors are collected.
type Result struct {
	Symbols  *SymbolTable
	Registry *Registry
	Types    map[string]Type
	Errors   []*CheckError
}

// Ok reports whether checking produced no diagnostics.
func (r *Result) Ok() bool { return len(r.Errors) == 0 }

// StepType returns the recorded result type of a step, keyed by snippet
// and step ID.
func (r *Result) StepType(snippetID, stepID string) (Type, bool) {
	t, ok := r.Types[stepKey(snippetID, stepID)]

	return t, ok
}

func stepKey(snippetID, stepID string) string { return snippetID + "#" + stepID }

// Check resolves and type-checks a program. Phase A walks all snippets to
// populate the registry and symbol table; phase B checks each fn body
// step by step.
func Check(program *covenant.Program) *Result {
	c := &checker{
		registry: NewRegistry(),
		symbols:  NewSymbolTable(),
		types:    make(map[string]Type),
	}

	if program.Kind == covenant.ProgramSnippets {
		c.resolve(program.Snippets)
		c.checkBodies(program.Snippets)
	}

	return &Result{
		Symbols:  c.symbols,
		Registry: c.registry,
		Types:    c.types,
		Errors:   c.errors,
	}
}

type checker struct {
	registry *Registry
	symbols  *SymbolTable
	types    map[string]Type
	errors   []*CheckError
}

func (c *checker) errorf(err *CheckError) { c.errors = append(c.errors, err) }

// ---------------------------------------------------------------------------
// Phase A: resolve
// ---------------------------------------------------------------------------

func (c *checker) resolve(snippets []*covenant.Snippet) {
	// First pass registers names so forward references resolve.
	for _, snippet := range snippets {
		sym := &Symbol{
			SnippetID: snippet.ID,
			Kind:      snippet.Kind,
			Effects:   snippet.Effects(),
			SrcSpan:   snippet.Span(),
		}

		if sig := snippet.Signature(); sig != nil {
			switch {
			case sig.Fn != nil:
				sym.Name = sig.Fn.Name
			case sig.Struct != nil:
				sym.Name = sig.Struct.Name
			case sig.Enum != nil:
				sym.Name = sig.Enum.Name
			}
		}

		if !c.symbols.Add(sym) {
			c.errorf(&CheckError{
				Kind:    ErrDuplicateDefinition,
				Message: fmt.Sprintf("snippet %q is defined more than once", snippet.ID),
				Name:    snippet.ID,
				SrcSpan: snippet.Span(),
			})

			continue
		}

		if sig := snippet.Signature(); sig != nil {
			switch {
			case sig.Struct != nil && snippet.Kind == covenant.KindStruct:
				c.registry.Structs[sig.Struct.Name] = &StructDef{Name: sig.Struct.Name, ID: sym.ID}
			case sig.Enum != nil && snippet.Kind == covenant.KindEnum:
				c.registry.Enums[sig.Enum.Name] = &EnumDef{Name: sig.Enum.Name, ID: sym.ID}
			}
		}
	}

	// Second pass resolves field, parameter, and return types against the
	// now-complete name set. A snippet whose ID was already taken was
	// rejected above and does not contribute to the registered symbol.
	for _, snippet := range snippets {
		sym := c.symbols.Get(snippet.ID)
		if sym == nil || sym.SrcSpan != snippet.Span() {
			continue
		}

		sig := snippet.Signature()
		if sig == nil {
			continue
		}

		switch {
		case sig.Fn != nil:
			for _, param := range sig.Fn.Params {
				sym.Params = append(sym.Params, Param{
					Name:     param.Name,
					Type:     c.resolveTypeExpr(param.Type),
					Optional: param.Optional,
				})
			}

			sym.Returns = c.resolveTypeExpr(sig.Fn.Returns)

		case sig.Struct != nil:
			if def, ok := c.registry.Structs[sig.Struct.Name]; ok && def.ID == sym.ID {
				for _, field := range sig.Struct.Fields {
					fieldType := c.resolveTypeExpr(field.Type)
					if field.Optional {
						fieldType = Optional(fieldType)
					}

					def.Fields = append(def.Fields, Field{Name: field.Name, Type: fieldType})
				}
			}

		case sig.Enum != nil:
			if def, ok := c.registry.Enums[sig.Enum.Name]; ok && def.ID == sym.ID {
				for _, variant := range sig.Enum.Variants {
					vd := &VariantDef{Name: variant.Name}

					for _, field := range variant.Fields {
						vd.Fields = append(vd.Fields, Field{Name: field.Name, Type: c.resolveTypeExpr(field.Type)})
					}

					def.Variants = append(def.Variants, vd)
				}
			}
		}
	}
}

// resolveTypeExpr lowers a syntactic type expression to a resolved type.
// Unregistered names stay Named with a zero ID; a missing returns clause
// resolves to none.
func (c *checker) resolveTypeExpr(expr *covenant.TypeExpr) Type {
	if expr == nil {
		return TypeNone
	}

	switch expr.Kind {
	case covenant.TypeOptional:
		return Optional(c.resolveTypeExpr(expr.Args[0]))

	case covenant.TypeList:
		return List(c.resolveTypeExpr(expr.Args[0]))

	case covenant.TypeSet:
		return Set(c.resolveTypeExpr(expr.Args[0]))

	case covenant.TypeUnion:
		members := make([]Type, len(expr.Args))
		for i, arg := range expr.Args {
			members[i] = c.resolveTypeExpr(arg)
		}

		return Type{Kind: KindUnion, Args: members}

	case covenant.TypeTuple:
		elems := make([]Type, len(expr.Args))
		for i, arg := range expr.Args {
			elems[i] = c.resolveTypeExpr(arg)
		}

		return Type{Kind: KindTuple, Args: elems}

	case covenant.TypeFunction:
		params := make([]Type, len(expr.Args))
		for i, arg := range expr.Args {
			params[i] = c.resolveTypeExpr(arg)
		}

		ret := c.resolveTypeExpr(expr.Ret)

		return Type{Kind: KindFunction, Args: params, Ret: &ret}

	default:
		return c.resolveNamed(expr)
	}
}

func (c *checker) resolveNamed(expr *covenant.TypeExpr) Type {
	switch expr.Name {
	case "Int":
		return TypeInt
	case "Float":
		return TypeFloat
	case "Bool":
		return TypeBool
	case "String":
		return TypeString
	case "Char":
		return TypeChar
	case "Bytes":
		return TypeBytes
	case "DateTime":
		return TypeDateTime
	case "Unit", "None":
		return TypeNone
	}

	args := make([]Type, len(expr.Args))
	for i, arg := range expr.Args {
		args[i] = c.resolveTypeExpr(arg)
	}

	if def, ok := c.registry.Structs[expr.Name]; ok {
		return Named(expr.Name, def.ID, args...)
	}

	if def, ok := c.registry.Enums[expr.Name]; ok {
		return Named(expr.Name, def.ID, args...)
	}

	return Named(expr.Name, 0, args...)
}

// ---------------------------------------------------------------------------
// Phase B: check bodies
// ---------------------------------------------------------------------------

// scope is a lexical binding environment. Scopes nest for if, match, and
// for steps; re-binding a name shadows.
type scope struct {
	parent *scope
	vars   map[string]Type
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: make(map[string]Type)}
}

func (s *scope) lookup(name string) (Type, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := cur.vars[name]; ok {
			return t, true
		}
	}

	return TypeError, false
}

func (s *scope) define(name string, t Type) { s.vars[name] = t }

func (c *checker) checkBodies(snippets []*covenant.Snippet) {
	for _, snippet := range snippets {
		if snippet.Kind != covenant.KindFn {
			continue
		}

		body := snippet.Body()
		if body == nil {
			continue
		}

		sym := c.symbols.Get(snippet.ID)
		if sym == nil || sym.SrcSpan != snippet.Span() {
			continue
		}

		fnScope := newScope(nil)
		for _, param := range sym.Params {
			fnScope.define(param.Name, param.Type)
		}

		for _, step := range body.Steps {
			c.checkStep(sym, step, fnScope)
		}
	}
}

func (c *checker) checkStep(sym *Symbol, step *covenant.Step, sc *scope) {
	var result Type

	switch step.Kind {
	case covenant.StepBind:
		result = c.valueType(step, sc)

	case covenant.StepCompute:
		result = c.checkCompute(step, sc)

	case covenant.StepCall:
		result = c.checkCall(sym, step, sc)

	case covenant.StepIf:
		c.checkIf(sym, step, sc)
		result = TypeUnknown

	case covenant.StepMatch:
		c.checkMatch(sym, step, sc)
		result = TypeUnknown

	case covenant.StepFor:
		c.checkFor(sym, step, sc)
		result = TypeUnknown

	case covenant.StepQuery:
		result = c.queryResultType(step)

	case covenant.StepReturn:
		actual := c.valueType(step, sc)
		if !actual.AssignableTo(sym.Returns) {
			c.errorf(typeMismatch(sym.Returns, actual, step.SrcSpan))
		}

		result = actual
	}

	if step.Out != "" {
		sc.define(step.Out, result)
	}

	if step.ID != "" {
		c.types[stepKey(sym.SnippetID, step.ID)] = result
	}
}

// valueType types a step's from=/lit= payload.
func (c *checker) valueType(step *covenant.Step, sc *scope) Type {
	if step.From != "" {
		return c.lookupVar(step.From, step.SrcSpan, sc)
	}

	if step.Lit != nil {
		return litType(step.Lit)
	}

	return TypeUnknown
}

func (c *checker) lookupVar(name string, span covenant.Span, sc *scope) Type {
	t, ok := sc.lookup(name)
	if !ok {
		c.errorf(&CheckError{
			Kind:    ErrUndefinedVariable,
			Message: fmt.Sprintf("undefined variable %q", name),
			Name:    name,
			SrcSpan: span,
		})

		return TypeError
	}

	return t
}

// litType gives literals their minimal types. A bare none is an optional
// of unknown element, refined by assignment context.
func litType(lit *covenant.Literal) Type {
	switch lit.Kind {
	case covenant.LitInt:
		return TypeInt
	case covenant.LitFloat:
		return TypeFloat
	case covenant.LitString:
		return TypeString
	case covenant.LitBool:
		return TypeBool
	default:
		return Optional(TypeUnknown)
	}
}

func (c *checker) inputType(in *covenant.Input, sc *scope) Type {
	if in.Var != "" {
		return c.lookupVar(in.Var, in.SrcSpan, sc)
	}

	if in.Lit != nil {
		return litType(in.Lit)
	}

	return TypeError
}

// unaryOps are the compute operators taking exactly one input.
var unaryOps = map[string]bool{"not": true, "neg": true}

func (c *checker) checkCompute(step *covenant.Step, sc *scope) Type {
	inputs := make([]Type, len(step.Inputs))
	for i, in := range step.Inputs {
		inputs[i] = c.inputType(in, sc)
	}

	want := 2
	if unaryOps[step.Op] {
		want = 1
	}

	if len(inputs) != want {
		c.errorf(&CheckError{
			Kind:    ErrArgCountMismatch,
			Message: fmt.Sprintf("operator %q takes %d inputs, found %d", step.Op, want, len(inputs)),
			Name:    step.Op,
			SrcSpan: step.SrcSpan,
		})

		return TypeError
	}

	// Error inputs suppress cascades: no diagnostic, error result.
	for _, t := range inputs {
		if t.IsError() {
			return TypeError
		}
	}

	switch step.Op {
	case "add", "sub", "mul", "div":
		if inputs[0].Kind == KindInt && inputs[1].Kind == KindInt {
			return TypeInt
		}

		if inputs[0].Kind == KindFloat && inputs[1].Kind == KindFloat {
			return TypeFloat
		}

		c.errorf(typeMismatch(inputs[0], inputs[1], step.SrcSpan))

		return TypeError

	case "mod":
		if inputs[0].Kind == KindInt && inputs[1].Kind == KindInt {
			return TypeInt
		}

		c.errorf(typeMismatch(TypeInt, firstNonInt(inputs), step.SrcSpan))

		return TypeError

	case "neg":
		if inputs[0].Kind == KindInt || inputs[0].Kind == KindFloat {
			return inputs[0]
		}

		c.errorf(typeMismatch(TypeInt, inputs[0], step.SrcSpan))

		return TypeError

	case "equals", "not_equals":
		if !inputs[0].Equal(inputs[1]) {
			c.errorf(typeMismatch(inputs[0], inputs[1], step.SrcSpan))

			return TypeError
		}

		return TypeBool

	case "less", "less_eq", "greater", "greater_eq":
		ok := (inputs[0].Kind == KindInt && inputs[1].Kind == KindInt) ||
			(inputs[0].Kind == KindFloat && inputs[1].Kind == KindFloat) ||
			(inputs[0].Kind == KindString && inputs[1].Kind == KindString)
		if !ok {
			c.errorf(typeMismatch(inputs[0], inputs[1], step.SrcSpan))

			return TypeError
		}

		return TypeBool

	case "and", "or":
		for _, t := range inputs {
			if t.Kind != KindBool {
				c.errorf(typeMismatch(TypeBool, t, step.SrcSpan))

				return TypeError
			}
		}

		return TypeBool

	case "not":
		if inputs[0].Kind != KindBool {
			c.errorf(typeMismatch(TypeBool, inputs[0], step.SrcSpan))

			return TypeError
		}

		return TypeBool

	default:
		c.errorf(&CheckError{
			Kind:    ErrUnknownFunction,
			Message: fmt.Sprintf("unknown operator %q", step.Op),
			Name:    step.Op,
			SrcSpan: step.SrcSpan,
		})

		return TypeError
	}
}

func firstNonInt(types []Type) Type {
	for _, t := range types {
		if t.Kind != KindInt {
			return t
		}
	}

	return TypeInt
}

func (c *checker) checkCall(caller *Symbol, step *covenant.Step, sc *scope) Type {
	callee := c.symbols.Get(step.Fn)
	if callee == nil || (callee.Kind != covenant.KindFn && callee.Kind != covenant.KindExtern) {
		c.errorf(&CheckError{
			Kind:    ErrUnknownFunction,
			Message: fmt.Sprintf("unknown function %q", step.Fn),
			Name:    step.Fn,
			SrcSpan: step.SrcSpan,
		})

		return TypeError
	}

	if len(step.Args) > len(callee.Params) {
		c.errorf(&CheckError{
			Kind:    ErrArgCountMismatch,
			Message: fmt.Sprintf("%q takes %d arguments, found %d", step.Fn, len(callee.Params), len(step.Args)),
			Name:    step.Fn,
			SrcSpan: step.SrcSpan,
		})
	}

	supplied := make(map[string]bool, len(step.Args))

	for _, arg := range step.Args {
		param := findParam(callee.Params, arg.Name)
		if param == nil {
			c.errorf(&CheckError{
				Kind:    ErrUnknownArgument,
				Message: fmt.Sprintf("%q has no parameter %q", step.Fn, arg.Name),
				Name:    arg.Name,
				SrcSpan: arg.SrcSpan,
			})

			continue
		}

		supplied[arg.Name] = true

		var argType Type

		switch {
		case arg.From != "":
			argType = c.lookupVar(arg.From, arg.SrcSpan, sc)
		case arg.Lit != nil:
			argType = litType(arg.Lit)
		default:
			argType = TypeUnknown
		}

		if !argType.AssignableTo(param.Type) {
			c.errorf(typeMismatch(param.Type, argType, arg.SrcSpan))
		}
	}

	for _, param := range callee.Params {
		if !param.Optional && !supplied[param.Name] {
			c.errorf(&CheckError{
				Kind:    ErrMissingArgument,
				Message: fmt.Sprintf("call to %q is missing argument %q", step.Fn, param.Name),
				Name:    param.Name,
				SrcSpan: step.SrcSpan,
			})
		}
	}

	recordCall(caller, step.Fn)

	return callee.Returns
}

func findParam(params []Param, name string) *Param {
	for i := range params {
		if params[i].Name == name {
			return &params[i]
		}
	}

	return nil
}

func recordCall(caller *Symbol, callee string) {
	for _, existing := range caller.Calls {
		if existing == callee {
			return
		}
	}

	caller.Calls = append(caller.Calls, callee)
}

func (c *checker) checkIf(sym *Symbol, step *covenant.Step, sc *scope) {
	if step.Condition != "" {
		cond, ok := sc.lookup(step.Condition)

		switch {
		case !ok:
			c.errorf(&CheckError{
				Kind:    ErrUndefinedVariable,
				Message: fmt.Sprintf("undefined variable %q", step.Condition),
				Name:    step.Condition,
				SrcSpan: step.SrcSpan,
			})
		case cond.Kind != KindBool && !cond.IsError():
			c.errorf(&CheckError{
				Kind:    ErrIfConditionNotBool,
				Message: fmt.Sprintf("if condition %q has type %s", step.Condition, cond.Display()),
				Name:    step.Condition,
				Actual:  cond.Display(),
				SrcSpan: step.SrcSpan,
			})
		}
	}

	thenScope := newScope(sc)
	for _, inner := range step.Then {
		c.checkStep(sym, inner, thenScope)
	}

	elseScope := newScope(sc)
	for _, inner := range step.Else {
		c.checkStep(sym, inner, elseScope)
	}
}

func (c *checker) checkMatch(sym *Symbol, step *covenant.Step, sc *scope) {
	scrutinee := c.lookupVar(step.On, step.SrcSpan, sc)

	var enum *EnumDef
	if scrutinee.Kind == KindNamed {
		enum = c.registry.Enums[scrutinee.Name]
	}

	hasWildcard := false
	covered := make(map[string]bool)

	for _, matchCase := range step.Cases {
		caseScope := newScope(sc)

		if matchCase.Wildcard {
			hasWildcard = true
		} else {
			covered[matchCase.VariantName()] = true

			var variant *VariantDef
			if enum != nil {
				variant = enum.Variant(matchCase.VariantName())
			}

			for i, binding := range matchCase.Bindings {
				bindingType := TypeUnknown
				if variant != nil && i < len(variant.Fields) {
					bindingType = variant.Fields[i].Type
				}

				caseScope.define(binding, bindingType)
			}
		}

		for _, inner := range matchCase.Steps {
			c.checkStep(sym, inner, caseScope)
		}
	}

	if enum != nil && !hasWildcard && !scrutinee.IsError() {
		var missing []string

		for _, variant := range enum.Variants {
			if !covered[variant.Name] {
				missing = append(missing, variant.Name)
			}
		}

		if len(missing) > 0 {
			c.errorf(&CheckError{
				Kind:    ErrNonexhaustiveMatch,
				Message: fmt.Sprintf("match on %s does not cover all variants", enum.Name),
				Name:    enum.Name,
				Missing: missing,
				SrcSpan: step.SrcSpan,
			})
		}
	}
}

func (c *checker) checkFor(sym *Symbol, step *covenant.Step, sc *scope) {
	iterable := c.lookupVar(step.In, step.SrcSpan, sc)

	elem := TypeUnknown

	switch iterable.Kind {
	case KindList, KindSet:
		elem = *iterable.Elem
	case KindError:
		elem = TypeError
	}

	bodyScope := newScope(sc)
	if step.Var != "" {
		bodyScope.define(step.Var, elem)
	}

	for _, inner := range step.Body {
		c.checkStep(sym, inner, bodyScope)
	}
}

func (c *checker) queryResultType(step *covenant.Step) Type {
	query := step.Query
	if query == nil || query.Returns == nil {
		return TypeUnknown
	}

	if query.Returns.Collection {
		if query.Returns.Of != "" {
			return List(c.resolveNamed(&covenant.TypeExpr{Kind: covenant.TypeNamed, Name: query.Returns.Of}))
		}

		return List(TypeUnknown)
	}

	if query.Returns.Type != nil {
		return c.resolveTypeExpr(query.Returns.Type)
	}

	return TypeUnknown
}
