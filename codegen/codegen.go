package codegen

import (
	"errors"
	"strings"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/analysis"
)

// ErrNilCheckResult is returned when Compile is called without the
// checker's output. Code generation is total after a successful check and
// does not re-validate.
var ErrNilCheckResult = errors.New("codegen requires a check result")

// memoryPages is the initial linear-memory size in 64KiB pages.
const memoryPages = 16

// function is a defined (non-imported) wasm function. A non-empty name is
// exported verbatim.
type function struct {
	name   string
	typ    funcType
	locals []byte
	body   []byte
}

// importEntry is an imported function.
type importEntry struct {
	module string
	name   string
	typ    funcType
}

// Compile lowers a checked program to a complete WebAssembly module:
// one export per fn snippet, imports for mem.alloc and every declared
// (effect, extern) pair, and the embedded data graph behind the eight GAI
// exports.
func Compile(program *covenant.Program, check *analysis.Result) ([]byte, error) {
	if check == nil {
		return nil, ErrNilCheckResult
	}

	g := &generator{
		program:   program,
		check:     check,
		layout:    newLayout(buildGraph(program)),
		funcIndex: make(map[string]uint32),
		externIdx: make(map[string]uint32),
	}

	g.planImports()
	g.planFunctions()
	g.compileFunctions()
	g.emitGAI()

	return g.assemble(), nil
}

type generator struct {
	program *covenant.Program
	check   *analysis.Result
	layout  *layout

	imports []importEntry
	funcs   []function

	// funcIndex maps fn snippet IDs to their final function index;
	// externIdx maps extern snippet IDs to their import index.
	funcIndex map[string]uint32
	externIdx map[string]uint32

	strEqIdx  uint32
	strCmpIdx uint32
}

// planImports declares mem.alloc plus one import per (effect, extern)
// pair, module = effect name. Externs with no declared effect import from
// "env" so call sites still have a target.
func (g *generator) planImports() {
	g.imports = append(g.imports, importEntry{
		module: "mem",
		name:   "alloc",
		typ:    funcType{params: []byte{valI32}, results: []byte{valI32}},
	})

	for _, snippet := range g.program.Snippets {
		if snippet.Kind != covenant.KindExtern {
			continue
		}

		sym := g.check.Symbols.Get(snippet.ID)
		if sym == nil {
			continue
		}

		modules := sym.Effects
		if len(modules) == 0 {
			modules = []string{"env"}
		}

		for i, module := range modules {
			if i == 0 {
				g.externIdx[snippet.ID] = uint32(len(g.imports))
			}

			g.imports = append(g.imports, importEntry{
				module: module,
				name:   exportName(sym),
				typ:    signatureType(sym),
			})
		}
	}
}

// planFunctions assigns final indices: imports, then fn snippets in
// program order, then the string helpers, then the GAI functions.
func (g *generator) planFunctions() {
	next := uint32(len(g.imports))

	for _, snippet := range g.program.Snippets {
		if snippet.Kind != covenant.KindFn {
			continue
		}

		if _, seen := g.funcIndex[snippet.ID]; seen {
			continue
		}

		g.funcIndex[snippet.ID] = next
		next++
	}

	g.strEqIdx = next
	g.strCmpIdx = next + 1
}

func (g *generator) compileFunctions() {
	seen := make(map[string]bool)

	for _, snippet := range g.program.Snippets {
		if snippet.Kind != covenant.KindFn || seen[snippet.ID] {
			continue
		}

		seen[snippet.ID] = true

		sym := g.check.Symbols.Get(snippet.ID)
		if sym == nil {
			continue
		}

		g.funcs = append(g.funcs, g.compileFn(snippet, sym))
	}
}

func (g *generator) emitGAI() {
	l := g.layout

	g.funcs = append(g.funcs,
		strEqHelper(),
		strCmpHelper(),
		gaiNodeCount(l),
		gaiGetFat(l, "cov_get_node_id", 0),
		gaiGetFat(l, "cov_get_node_content", 8),
		gaiFindByID(l, g.strEqIdx),
		gaiCount(l, "cov_get_outgoing_count", 20),
		gaiGetRel(l, "cov_get_outgoing_rel", l.outAddr, 16, 20),
		gaiCount(l, "cov_get_incoming_count", 28),
		gaiContentContains(l, g.strEqIdx),
	)
}

// hasCallStep reports whether any step in the program performs a call.
func (g *generator) hasCallStep() bool {
	var walk func(steps []*covenant.Step) bool

	walk = func(steps []*covenant.Step) bool {
		for _, step := range steps {
			if step.Kind == covenant.StepCall {
				return true
			}

			if walk(step.Then) || walk(step.Else) || walk(step.Body) {
				return true
			}

			for _, matchCase := range step.Cases {
				if walk(matchCase.Steps) {
					return true
				}
			}
		}

		return false
	}

	for _, snippet := range g.program.Snippets {
		if body := snippet.Body(); body != nil && walk(body.Steps) {
			return true
		}
	}

	return false
}

// assemble lays the sections out in the required order.
func (g *generator) assemble() []byte {
	w := &writer{}
	w.raw([]byte{0x00, 0x61, 0x73, 0x6D}) // magic
	w.raw([]byte{0x01, 0x00, 0x00, 0x00}) // version

	typeIndex := make(map[string]uint32)

	var types []funcType

	indexOf := func(t funcType) uint32 {
		key := t.key()
		if idx, ok := typeIndex[key]; ok {
			return idx
		}

		idx := uint32(len(types))
		typeIndex[key] = idx
		types = append(types, t)

		return idx
	}

	for _, imp := range g.imports {
		indexOf(imp.typ)
	}

	for _, fn := range g.funcs {
		indexOf(fn.typ)
	}

	// Type section.
	sec := &writer{}
	sec.uleb(uint64(len(types)))

	for _, t := range types {
		sec.byte(0x60)
		sec.uleb(uint64(len(t.params)))
		sec.raw(t.params)
		sec.uleb(uint64(len(t.results)))
		sec.raw(t.results)
	}

	w.section(secType, sec.bytes())

	// Import section.
	sec = &writer{}
	sec.uleb(uint64(len(g.imports)))

	for _, imp := range g.imports {
		sec.name(imp.module)
		sec.name(imp.name)
		sec.byte(0x00)
		sec.uleb(uint64(indexOf(imp.typ)))
	}

	w.section(secImport, sec.bytes())

	// Function section.
	sec = &writer{}
	sec.uleb(uint64(len(g.funcs)))

	for _, fn := range g.funcs {
		sec.uleb(uint64(indexOf(fn.typ)))
	}

	w.section(secFunction, sec.bytes())

	// Table section, only when calls exist.
	if g.hasCallStep() {
		sec = &writer{}
		sec.uleb(1)
		sec.byte(valFuncref)
		sec.byte(0x00)
		sec.uleb(uint64(len(g.funcs)))
		w.section(secTable, sec.bytes())
	}

	// Memory section.
	sec = &writer{}
	sec.uleb(1)
	sec.byte(0x00)
	sec.uleb(memoryPages)
	w.section(secMemory, sec.bytes())

	// Export section: named functions plus memory.
	type export struct {
		name string
		kind byte
		idx  uint32
	}

	var exports []export

	for i, fn := range g.funcs {
		if fn.name != "" {
			exports = append(exports, export{fn.name, exportFunc, uint32(len(g.imports) + i)})
		}
	}

	exports = append(exports, export{"memory", exportMemory, 0})

	sec = &writer{}
	sec.uleb(uint64(len(exports)))

	for _, exp := range exports {
		sec.name(exp.name)
		sec.byte(exp.kind)
		sec.uleb(uint64(exp.idx))
	}

	w.section(secExport, sec.bytes())

	// Code section.
	sec = &writer{}
	sec.uleb(uint64(len(g.funcs)))

	for _, fn := range g.funcs {
		body := &writer{}
		body.uleb(uint64(len(fn.locals)))

		for _, local := range fn.locals {
			body.uleb(1)
			body.byte(local)
		}

		body.raw(fn.body)
		body.byte(opEnd)

		sec.uleb(uint64(len(body.bytes())))
		sec.raw(body.bytes())
	}

	w.section(secCode, sec.bytes())

	// Data section: the graph tables and interned strings.
	if len(g.layout.blob) > 0 {
		sec = &writer{}
		sec.uleb(1)
		sec.byte(0x00)

		offset := &code{}
		offset.i32Const(dataBase)
		sec.raw(offset.bytes())
		sec.byte(opEnd)

		sec.uleb(uint64(len(g.layout.blob)))
		sec.raw(g.layout.blob)
		w.section(secData, sec.bytes())
	}

	return w.bytes()
}

// exportName is the unqualified function name of a snippet: its signature
// name when declared, otherwise the last segment of the dotted ID.
func exportName(sym *analysis.Symbol) string {
	if sym.Name != "" {
		return sym.Name
	}

	if idx := strings.LastIndex(sym.SnippetID, "."); idx >= 0 {
		return sym.SnippetID[idx+1:]
	}

	return sym.SnippetID
}

// signatureType maps a symbol's signature to a wasm function type under
// the 64-bit value representation.
func signatureType(sym *analysis.Symbol) funcType {
	t := funcType{}

	for _, param := range sym.Params {
		t.params = append(t.params, valtypeOf(param.Type))
	}

	if sym.Returns.Kind != analysis.KindNone {
		t.results = append(t.results, valtypeOf(sym.Returns))
	}

	return t
}

// valtypeOf maps a resolved type to its wasm value type: f64 for Float,
// i64 for everything else (ints, bools, fat pointers, tags).
func valtypeOf(t analysis.Type) byte {
	if t.Kind == analysis.KindFloat {
		return valF64
	}

	return valI64
}
