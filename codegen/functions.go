package codegen

import (
	"math"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/analysis"
)

// binding is a name visible in the current lexical scope, backed by a
// wasm local.
type binding struct {
	idx uint32
	vt  byte
	typ analysis.Type
}

// fnCompiler lowers one fn snippet to straight-line wasm code. Each
// step's output gets a fresh local tagged with the binding name;
// re-binding shadows by replacing the scope entry.
type fnCompiler struct {
	g       *generator
	sym     *analysis.Symbol
	c       *code
	locals  []byte
	nParams uint32
	scope   map[string]binding

	hasResult bool
	resultVT  byte
}

func (g *generator) compileFn(snippet *covenant.Snippet, sym *analysis.Symbol) function {
	f := &fnCompiler{
		g:       g,
		sym:     sym,
		c:       &code{},
		nParams: uint32(len(sym.Params)),
		scope:   make(map[string]binding),
	}

	typ := signatureType(sym)
	f.hasResult = len(typ.results) == 1

	if f.hasResult {
		f.resultVT = typ.results[0]
	}

	for i, param := range sym.Params {
		f.scope[param.Name] = binding{
			idx: uint32(i),
			vt:  valtypeOf(param.Type),
			typ: param.Type,
		}
	}

	if body := snippet.Body(); body != nil {
		for _, step := range body.Steps {
			f.compileStep(step)
		}
	}

	// Fallthrough value for bodies whose last step is not a return.
	if f.hasResult {
		f.emitDefault(f.resultVT)
	}

	return function{
		name:   exportName(sym),
		typ:    typ,
		locals: f.locals,
		body:   f.c.bytes(),
	}
}

func (f *fnCompiler) newLocal(vt byte) uint32 {
	idx := f.nParams + uint32(len(f.locals))
	f.locals = append(f.locals, vt)

	return idx
}

func (f *fnCompiler) cloneScope() map[string]binding {
	saved := f.scope
	child := make(map[string]binding, len(saved))

	for name, b := range saved {
		child[name] = b
	}

	f.scope = child

	return saved
}

func (f *fnCompiler) emitDefault(vt byte) {
	if vt == valF64 {
		f.c.f64Const(0)
	} else {
		f.c.i64Const(0)
	}
}

// store consumes the value on the stack into the step's output binding,
// or drops it when the step has no binding name.
func (f *fnCompiler) store(out string, typ analysis.Type) {
	if out == "" {
		f.c.op(opDrop)

		return
	}

	vt := valtypeOf(typ)
	idx := f.newLocal(vt)
	f.c.localSet(idx)
	f.scope[out] = binding{idx: idx, vt: vt, typ: typ}
}

// pushValue emits a from=/lit= payload and returns its type. A missing
// payload or unresolved name lowers to an opaque zero of the given value
// type.
func (f *fnCompiler) pushValue(from string, lit *covenant.Literal, defaultVT byte) analysis.Type {
	if from != "" {
		if b, ok := f.scope[from]; ok {
			f.c.localGet(b.idx)

			return b.typ
		}

		f.emitDefault(defaultVT)

		return analysis.TypeUnknown
	}

	if lit != nil {
		return f.pushLiteral(lit)
	}

	f.emitDefault(defaultVT)

	return analysis.TypeUnknown
}

func (f *fnCompiler) pushLiteral(lit *covenant.Literal) analysis.Type {
	switch lit.Kind {
	case covenant.LitInt:
		f.c.i64Const(lit.Int)

		return analysis.TypeInt

	case covenant.LitFloat:
		f.c.f64Const(math.Float64bits(lit.Float))

		return analysis.TypeFloat

	case covenant.LitBool:
		if lit.Bool {
			f.c.i64Const(1)
		} else {
			f.c.i64Const(0)
		}

		return analysis.TypeBool

	case covenant.LitString:
		f.c.i64Const(f.g.layout.fatPointer(lit.Str))

		return analysis.TypeString

	default:
		f.c.i64Const(0)

		return analysis.Optional(analysis.TypeUnknown)
	}
}

func (f *fnCompiler) typeOfInput(in *covenant.Input) analysis.Type {
	if in.Var != "" {
		if b, ok := f.scope[in.Var]; ok {
			return b.typ
		}

		return analysis.TypeUnknown
	}

	if in.Lit == nil {
		return analysis.TypeUnknown
	}

	switch in.Lit.Kind {
	case covenant.LitInt:
		return analysis.TypeInt
	case covenant.LitFloat:
		return analysis.TypeFloat
	case covenant.LitBool:
		return analysis.TypeBool
	case covenant.LitString:
		return analysis.TypeString
	default:
		return analysis.Optional(analysis.TypeUnknown)
	}
}

func (f *fnCompiler) pushInput(in *covenant.Input) {
	f.pushValue(in.Var, in.Lit, valI64)
}

func (f *fnCompiler) compileStep(step *covenant.Step) {
	switch step.Kind {
	case covenant.StepBind:
		typ := f.pushValue(step.From, step.Lit, valI64)
		f.store(step.Out, typ)

	case covenant.StepCompute:
		f.compileCompute(step)

	case covenant.StepCall:
		f.compileCall(step)

	case covenant.StepIf:
		f.compileIf(step)

	case covenant.StepMatch:
		f.compileMatch(step)

	case covenant.StepFor:
		f.compileFor(step)

	case covenant.StepQuery:
		// Query execution is host-mediated; the binding holds an opaque
		// zero in generated code.
		if step.Out != "" {
			f.emitDefault(valI64)
			f.store(step.Out, analysis.TypeUnknown)
		}

	case covenant.StepReturn:
		if f.hasResult {
			f.pushValue(step.From, step.Lit, f.resultVT)
		}

		f.c.op(opReturn)
	}
}

var intArith = map[string]byte{
	"add": opI64Add,
	"sub": opI64Sub,
	"mul": opI64Mul,
	"div": opI64DivS,
	"mod": opI64RemS,
}

var floatArith = map[string]byte{
	"add": opF64Add,
	"sub": opF64Sub,
	"mul": opF64Mul,
	"div": opF64Div,
}

var intCompare = map[string]byte{
	"equals":     opI64Eq,
	"not_equals": opI64Ne,
	"less":       opI64LtS,
	"less_eq":    opI64LeS,
	"greater":    opI64GtS,
	"greater_eq": opI64GeS,
}

var floatCompare = map[string]byte{
	"equals":     opF64Eq,
	"not_equals": opF64Ne,
	"less":       opF64Lt,
	"less_eq":    opF64Le,
	"greater":    opF64Gt,
	"greater_eq": opF64Ge,
}

// cmpVsZero maps ordering operators to the i32 comparison applied to a
// str_cmp result against zero.
var cmpVsZero = map[string]byte{
	"less":       opI32LtS,
	"less_eq":    opI32LeS,
	"greater":    opI32GtS,
	"greater_eq": opI32GeS,
}

func (f *fnCompiler) compileCompute(step *covenant.Step) {
	types := make([]analysis.Type, len(step.Inputs))
	for i, in := range step.Inputs {
		types[i] = f.typeOfInput(in)
	}

	isFloat := len(types) > 0 && types[0].Kind == analysis.KindFloat
	isString := len(types) > 0 && types[0].Kind == analysis.KindString
	result := analysis.TypeBool

	switch step.Op {
	case "add", "sub", "mul", "div", "mod":
		if len(step.Inputs) != 2 {
			f.emitDefault(valI64)
			result = analysis.TypeError

			break
		}

		f.pushInput(step.Inputs[0])
		f.pushInput(step.Inputs[1])

		if isFloat {
			f.c.op(floatArith[step.Op])
			result = analysis.TypeFloat
		} else {
			f.c.op(intArith[step.Op])
			result = analysis.TypeInt
		}

	case "neg":
		if len(step.Inputs) != 1 {
			f.emitDefault(valI64)
			result = analysis.TypeError

			break
		}

		if isFloat {
			f.pushInput(step.Inputs[0])
			f.c.op(opF64Neg)
			result = analysis.TypeFloat
		} else {
			f.c.i64Const(0)
			f.pushInput(step.Inputs[0])
			f.c.op(opI64Sub)
			result = analysis.TypeInt
		}

	case "equals", "not_equals", "less", "less_eq", "greater", "greater_eq":
		if len(step.Inputs) != 2 {
			f.c.i64Const(0)
			result = analysis.TypeError

			break
		}

		f.pushInput(step.Inputs[0])
		f.pushInput(step.Inputs[1])

		switch {
		case isString:
			f.compileStringCompare(step.Op)
		case isFloat:
			f.c.op(floatCompare[step.Op])
			f.c.op(opI64ExtendI32U)
		default:
			f.c.op(intCompare[step.Op])
			f.c.op(opI64ExtendI32U)
		}

	case "and", "or":
		if len(step.Inputs) != 2 {
			f.c.i64Const(0)
			result = analysis.TypeError

			break
		}

		f.pushInput(step.Inputs[0])
		f.pushInput(step.Inputs[1])

		if step.Op == "and" {
			f.c.op(opI64And)
		} else {
			f.c.op(opI64Or)
		}

	case "not":
		if len(step.Inputs) != 1 {
			f.c.i64Const(0)
			result = analysis.TypeError

			break
		}

		f.pushInput(step.Inputs[0])
		f.c.op(opI64Eqz)
		f.c.op(opI64ExtendI32U)

	default:
		f.emitDefault(valI64)
		result = analysis.TypeError
	}

	f.store(step.Out, result)
}

// compileStringCompare consumes two fat pointers from the stack and
// leaves an i64 boolean, routing through the byte-compare helpers.
func (f *fnCompiler) compileStringCompare(op string) {
	tmpB := f.newLocal(valI64)
	tmpA := f.newLocal(valI64)
	f.c.localSet(tmpB)
	f.c.localSet(tmpA)

	for _, tmp := range []uint32{tmpA, tmpB} {
		f.c.localGet(tmp)
		f.c.i64Const(32)
		f.c.op(opI64ShrU)
		f.c.op(opI32WrapI64)
		f.c.localGet(tmp)
		f.c.op(opI32WrapI64)
	}

	switch op {
	case "equals":
		f.c.call(f.g.strEqIdx)
	case "not_equals":
		f.c.call(f.g.strEqIdx)
		f.c.op(opI32Eqz)
	default:
		f.c.call(f.g.strCmpIdx)
		f.c.i32Const(0)
		f.c.op(cmpVsZero[op])
	}

	f.c.op(opI64ExtendI32U)
}

func (f *fnCompiler) compileCall(step *covenant.Step) {
	callee := f.g.check.Symbols.Get(step.Fn)
	if callee == nil {
		if step.Out != "" {
			f.emitDefault(valI64)
			f.store(step.Out, analysis.TypeUnknown)
		}

		return
	}

	var target uint32

	if callee.Kind == covenant.KindExtern {
		target = f.g.externIdx[step.Fn]
	} else {
		target = f.g.funcIndex[step.Fn]
	}

	for _, param := range callee.Params {
		arg := findArg(step.Args, param.Name)
		if arg != nil {
			f.pushValue(arg.From, arg.Lit, valtypeOf(param.Type))
		} else {
			f.emitDefault(valtypeOf(param.Type))
		}
	}

	f.c.call(target)

	if callee.Returns.Kind != analysis.KindNone {
		f.store(step.Out, callee.Returns)
	} else if step.Out != "" {
		f.emitDefault(valI64)
		f.store(step.Out, analysis.TypeNone)
	}
}

func findArg(args []*covenant.CallArg, name string) *covenant.CallArg {
	for _, arg := range args {
		if arg.Name == name {
			return arg
		}
	}

	return nil
}

func (f *fnCompiler) compileIf(step *covenant.Step) {
	if b, ok := f.scope[step.Condition]; ok {
		f.c.localGet(b.idx)
		f.c.op(opI32WrapI64)
	} else {
		f.c.i32Const(0)
	}

	f.c.ifBlock(blockVoid)

	saved := f.cloneScope()
	for _, inner := range step.Then {
		f.compileStep(inner)
	}

	f.scope = saved

	if len(step.Else) > 0 {
		f.c.op(opElse)

		saved = f.cloneScope()
		for _, inner := range step.Else {
			f.compileStep(inner)
		}

		f.scope = saved
	}

	f.c.op(opEnd)

	if step.Out != "" {
		f.emitDefault(valI64)
		f.store(step.Out, analysis.TypeUnknown)
	}
}

func (f *fnCompiler) compileMatch(step *covenant.Step) {
	scrutinee, ok := f.scope[step.On]
	if ok {
		var enum *analysis.EnumDef
		if scrutinee.typ.Kind == analysis.KindNamed {
			enum = f.g.check.Registry.Enums[scrutinee.typ.Name]
		}

		f.emitCases(step.Cases, scrutinee, enum)
	}

	if step.Out != "" {
		f.emitDefault(valI64)
		f.store(step.Out, analysis.TypeUnknown)
	}
}

// emitCases lowers an ordered case list to a chain of tag comparisons.
// Enum values carry their variant ordinal; payload bindings lower to
// zero-initialized locals.
func (f *fnCompiler) emitCases(cases []*covenant.MatchCase, scrutinee binding, enum *analysis.EnumDef) {
	if len(cases) == 0 {
		return
	}

	matchCase := cases[0]

	if matchCase.Wildcard {
		saved := f.cloneScope()
		for _, inner := range matchCase.Steps {
			f.compileStep(inner)
		}

		f.scope = saved

		return
	}

	tag := int64(-1)

	var variant *analysis.VariantDef

	if enum != nil {
		for i, v := range enum.Variants {
			if v.Name == matchCase.VariantName() {
				tag = int64(i)
				variant = v

				break
			}
		}
	}

	f.c.localGet(scrutinee.idx)
	f.c.i64Const(tag)
	f.c.op(opI64Eq)
	f.c.ifBlock(blockVoid)

	saved := f.cloneScope()

	for i, name := range matchCase.Bindings {
		fieldType := analysis.TypeUnknown
		if variant != nil && i < len(variant.Fields) {
			fieldType = variant.Fields[i].Type
		}

		vt := valtypeOf(fieldType)
		idx := f.newLocal(vt)
		f.scope[name] = binding{idx: idx, vt: vt, typ: fieldType}
	}

	for _, inner := range matchCase.Steps {
		f.compileStep(inner)
	}

	f.scope = saved

	if len(cases) > 1 {
		f.c.op(opElse)
		f.emitCases(cases[1:], scrutinee, enum)
	}

	f.c.op(opEnd)
}

func (f *fnCompiler) compileFor(step *covenant.Step) {
	iter, ok := f.scope[step.In]
	if ok {
		elemType := analysis.TypeUnknown
		if (iter.typ.Kind == analysis.KindList || iter.typ.Kind == analysis.KindSet) && iter.typ.Elem != nil {
			elemType = *iter.typ.Elem
		}

		loopVT := valtypeOf(elemType)
		count := f.newLocal(valI64)
		index := f.newLocal(valI64)
		loopVar := f.newLocal(loopVT)

		f.c.localGet(iter.idx)
		f.c.i64Const(0xFFFFFFFF)
		f.c.op(opI64And)
		f.c.localSet(count)

		f.c.i64Const(0)
		f.c.localSet(index)

		f.c.block(blockVoid)
		f.c.loop(blockVoid)

		f.c.localGet(index)
		f.c.localGet(count)
		f.c.op(opI64GeS)
		f.c.brIf(1)

		// Element address: (base >> 32) + index * 8.
		f.c.localGet(iter.idx)
		f.c.i64Const(32)
		f.c.op(opI64ShrU)
		f.c.localGet(index)
		f.c.i64Const(8)
		f.c.op(opI64Mul)
		f.c.op(opI64Add)
		f.c.op(opI32WrapI64)

		if loopVT == valF64 {
			f.c.loadF64(0)
		} else {
			f.c.load64(0)
		}

		f.c.localSet(loopVar)

		saved := f.cloneScope()

		if step.Var != "" {
			f.scope[step.Var] = binding{idx: loopVar, vt: loopVT, typ: elemType}
		}

		for _, inner := range step.Body {
			f.compileStep(inner)
		}

		f.scope = saved

		f.c.localGet(index)
		f.c.i64Const(1)
		f.c.op(opI64Add)
		f.c.localSet(index)
		f.c.br(0)

		f.c.op(opEnd)
		f.c.op(opEnd)
	}

	if step.Out != "" {
		f.emitDefault(valI64)
		f.store(step.Out, analysis.TypeUnknown)
	}
}
