package codegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/analysis"
)

// compileSource runs the full pipeline and instantiates the module with
// wazero, providing the mem.alloc import.
func compileSource(t *testing.T, source string) api.Module {
	t.Helper()

	program, err := covenant.Parse(source)
	require.NoError(t, err)

	check := analysis.Check(program)
	require.Empty(t, check.Errors, "type checking failed: %v", check.Errors)

	wasmBytes, err := Compile(program, check)
	require.NoError(t, err)

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	_, err = runtime.NewHostModuleBuilder("mem").
		NewFunctionBuilder().
		WithFunc(func(size int32) int32 { return 0x10000 }).
		Export("alloc").
		Instantiate(ctx)
	require.NoError(t, err)

	mod, err := runtime.Instantiate(ctx, wasmBytes)
	require.NoError(t, err)

	return mod
}

func call(t *testing.T, mod api.Module, name string, args ...uint64) uint64 {
	t.Helper()

	fn := mod.ExportedFunction(name)
	require.NotNil(t, fn, "%s should be exported", name)

	results, err := fn.Call(context.Background(), args...)
	require.NoError(t, err)
	require.Len(t, results, 1)

	return results[0]
}

// readFatPtr reads the string a fat pointer (offset<<32 | len) refers to.
func readFatPtr(t *testing.T, mod api.Module, fatPtr uint64) string {
	t.Helper()

	offset := uint32(fatPtr >> 32)
	length := uint32(fatPtr)

	data, ok := mod.Memory().Read(offset, length)
	require.True(t, ok, "fat pointer out of bounds: %#x", fatPtr)

	return string(data)
}

func writeString(t *testing.T, mod api.Module, offset uint32, s string) {
	t.Helper()
	require.True(t, mod.Memory().Write(offset, []byte(s)))
}

const twoDataNodes = `
snippet id="kb.root" kind="data"

content
  """
  Root knowledge node
  """
end

relations
  rel to="kb.child" type=contains
end

end

snippet id="kb.child" kind="data"

content
  """
  Child knowledge node
  """
end

end
`

func TestDataSnippetsProduceGAIExports(t *testing.T) {
	mod := compileSource(t, twoDataNodes)

	count := call(t, mod, "cov_node_count")
	assert.Equal(t, uint64(2), count, "should have 2 data nodes")
}

func TestGAIGetNodeID(t *testing.T) {
	mod := compileSource(t, twoDataNodes)

	id0 := readFatPtr(t, mod, call(t, mod, "cov_get_node_id", api.EncodeI32(0)))
	assert.Equal(t, "kb.root", id0)

	id1 := readFatPtr(t, mod, call(t, mod, "cov_get_node_id", api.EncodeI32(1)))
	assert.Equal(t, "kb.child", id1)

	// Out-of-bounds index yields -1.
	oob := call(t, mod, "cov_get_node_id", api.EncodeI32(99))
	assert.Equal(t, int64(-1), int64(oob))
}

func TestGAIGetNodeContent(t *testing.T) {
	mod := compileSource(t, twoDataNodes)

	content := readFatPtr(t, mod, call(t, mod, "cov_get_node_content", api.EncodeI32(0)))
	// Triple-quoted strings preserve interior whitespace and newlines.
	assert.Contains(t, content, "Root knowledge node")
}

func TestGAIFindByID(t *testing.T) {
	source := `
snippet id="alpha" kind="data"
content
  """
  Alpha content
  """
end
end

snippet id="beta" kind="data"
content
  """
  Beta content
  """
end
end

snippet id="gamma" kind="data"
content
  """
  Gamma content
  """
end
end
`
	mod := compileSource(t, source)

	const searchOffset = 0x80000

	writeString(t, mod, searchOffset, "beta")

	idx := call(t, mod, "cov_find_by_id", api.EncodeI32(searchOffset), api.EncodeI32(4))
	assert.Equal(t, uint64(1), idx, "beta should be at index 1")

	const missOffset = 0x80100

	writeString(t, mod, missOffset, "nonexistent")

	miss := call(t, mod, "cov_find_by_id", api.EncodeI32(missOffset), api.EncodeI32(11))
	assert.Equal(t, int32(-1), int32(miss))
}

func TestGAIOutgoingRelations(t *testing.T) {
	source := `
snippet id="parent" kind="data"
content
  """
  Parent node
  """
end
relations
  rel to="child1" type=contains
  rel to="child2" type=contains
end
end

snippet id="child1" kind="data"
content
  """
  First child
  """
end
end

snippet id="child2" kind="data"
content
  """
  Second child
  """
end
end
`
	mod := compileSource(t, source)

	parentOut := call(t, mod, "cov_get_outgoing_count", api.EncodeI32(0))
	assert.Equal(t, uint64(2), parentOut, "parent should have 2 outgoing edges")

	child1Out := call(t, mod, "cov_get_outgoing_count", api.EncodeI32(1))
	assert.Equal(t, uint64(1), child1Out, "child1 should have 1 outgoing edge (inverse)")

	rel0 := call(t, mod, "cov_get_outgoing_rel", api.EncodeI32(0), api.EncodeI32(0))
	require.NotEqual(t, int64(-1), int64(rel0))
	assert.Equal(t, "contains->child1", readFatPtr(t, mod, rel0))

	inv := call(t, mod, "cov_get_outgoing_rel", api.EncodeI32(1), api.EncodeI32(0))
	assert.Equal(t, "contained_by->parent", readFatPtr(t, mod, inv))

	oob := call(t, mod, "cov_get_outgoing_rel", api.EncodeI32(0), api.EncodeI32(99))
	assert.Equal(t, int64(-1), int64(oob))
}

func TestGAIIncomingRelations(t *testing.T) {
	source := `
snippet id="a" kind="data"
content
  """
  Node A
  """
end
relations
  rel to="b" type=describes
end
end

snippet id="b" kind="data"
content
  """
  Node B
  """
end
end
`
	mod := compileSource(t, source)

	bIn := call(t, mod, "cov_get_incoming_count", api.EncodeI32(1))
	assert.Equal(t, uint64(1), bIn, "node B should have 1 incoming edge")

	aIn := call(t, mod, "cov_get_incoming_count", api.EncodeI32(0))
	assert.Equal(t, uint64(1), aIn, "node A should have 1 incoming edge (inverse)")
}

// Relation inverse symmetry: each declared edge produces exactly one
// synthesized inverse and no duplicates.
func TestRelationInverseSymmetry(t *testing.T) {
	mod := compileSource(t, twoDataNodes)

	assert.Equal(t, uint64(1), call(t, mod, "cov_get_outgoing_count", api.EncodeI32(0)))
	assert.Equal(t, uint64(1), call(t, mod, "cov_get_incoming_count", api.EncodeI32(0)))
	assert.Equal(t, uint64(1), call(t, mod, "cov_get_outgoing_count", api.EncodeI32(1)))
	assert.Equal(t, uint64(1), call(t, mod, "cov_get_incoming_count", api.EncodeI32(1)))

	out0 := readFatPtr(t, mod, call(t, mod, "cov_get_outgoing_rel", api.EncodeI32(0), api.EncodeI32(0)))
	assert.Equal(t, "contains->kb.child", out0)

	out1 := readFatPtr(t, mod, call(t, mod, "cov_get_outgoing_rel", api.EncodeI32(1), api.EncodeI32(0)))
	assert.Equal(t, "contained_by->kb.root", out1)
}

func TestGAIContentContains(t *testing.T) {
	source := `
snippet id="doc.auth" kind="data"
content
  """
  Authentication and authorization mechanisms for the API
  """
end
end

snippet id="doc.perf" kind="data"
content
  """
  Performance optimization and caching strategies
  """
end
end
`
	mod := compileSource(t, source)

	const termOffset = 0x80000

	writeString(t, mod, termOffset, "auth")

	found := call(t, mod, "cov_content_contains", api.EncodeI32(0), api.EncodeI32(termOffset), api.EncodeI32(4))
	assert.Equal(t, uint64(1), found, "doc.auth should contain 'auth'")

	miss := call(t, mod, "cov_content_contains", api.EncodeI32(1), api.EncodeI32(termOffset), api.EncodeI32(4))
	assert.Equal(t, uint64(0), miss, "doc.perf should not contain 'auth'")

	const term2Offset = 0x80100

	writeString(t, mod, term2Offset, "caching")

	found2 := call(t, mod, "cov_content_contains", api.EncodeI32(1), api.EncodeI32(term2Offset), api.EncodeI32(7))
	assert.Equal(t, uint64(1), found2, "doc.perf should contain 'caching'")
}

const doubleFn = `
snippet id="math.double" kind="fn"
signature
  fn name="double"
    param name="x" type="Int"
    returns type="Int"
  end
end
body
  step id="s1" kind="compute"
    op=add
    input var="x"
    input var="x"
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end
end
`

func TestFunctionExport(t *testing.T) {
	source := `
snippet id="kb.node1" kind="data"
content
  """
  Knowledge base node
  """
end
end
` + doubleFn

	mod := compileSource(t, source)

	result := call(t, mod, "double", api.EncodeI64(21))
	assert.Equal(t, uint64(42), result)

	// The data graph indexes all snippets; the fn is a node with empty
	// content.
	count := call(t, mod, "cov_node_count")
	assert.Equal(t, uint64(2), count)
}

func TestFunctionCallBetweenSnippets(t *testing.T) {
	source := doubleFn + `
snippet id="math.quad" kind="fn"
signature
  fn name="quad"
    param name="x" type="Int"
    returns type="Int"
  end
end
body
  step id="s1" kind="call"
    fn="math.double"
    arg name="x" from="x"
    as="d"
  end
  step id="s2" kind="call"
    fn="math.double"
    arg name="x" from="d"
    as="q"
  end
  step id="s3" kind="return"
    from="q"
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	result := call(t, mod, "quad", api.EncodeI64(5))
	assert.Equal(t, uint64(20), result)
}

func TestIfLowering(t *testing.T) {
	source := `
snippet id="math.clamp_neg" kind="fn"
signature
  fn name="clamp_neg"
    param name="x" type="Int"
    returns type="Int"
  end
end
body
  step id="s1" kind="compute"
    op=less
    input var="x"
    input lit=0
    as="is_negative"
  end
  step id="s2" kind="if"
    condition="is_negative"
    then
      step id="s2a" kind="return"
        lit=0
        as="_"
      end
    end
    else
      step id="s2b" kind="return"
        from="x"
        as="_"
      end
    end
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	assert.Equal(t, uint64(0), call(t, mod, "clamp_neg", api.EncodeI64(-5)))
	assert.Equal(t, uint64(7), call(t, mod, "clamp_neg", api.EncodeI64(7)))
}

func TestFloatLowering(t *testing.T) {
	source := `
snippet id="math.halve" kind="fn"
signature
  fn name="halve"
    param name="x" type="Float"
    returns type="Float"
  end
end
body
  step id="s1" kind="compute"
    op=div
    input var="x"
    input lit=2.0
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	result := call(t, mod, "halve", api.EncodeF64(5.0))
	assert.InDelta(t, 2.5, api.DecodeF64(result), 1e-9)
}

func TestBoolLowering(t *testing.T) {
	source := `
snippet id="logic.nand" kind="fn"
signature
  fn name="nand"
    param name="a" type="Bool"
    param name="b" type="Bool"
    returns type="Bool"
  end
end
body
  step id="s1" kind="compute"
    op=and
    input var="a"
    input var="b"
    as="both"
  end
  step id="s2" kind="compute"
    op=not
    input var="both"
    as="result"
  end
  step id="s3" kind="return"
    from="result"
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	assert.Equal(t, uint64(0), call(t, mod, "nand", 1, 1))
	assert.Equal(t, uint64(1), call(t, mod, "nand", 1, 0))
	assert.Equal(t, uint64(1), call(t, mod, "nand", 0, 0))
}

func TestMatchLowering(t *testing.T) {
	source := `
snippet id="types.Sign" kind="enum"
signature
  enum name="Sign"
    variant name="Negative"
    end
    variant name="Zero"
    end
    variant name="Positive"
    end
  end
end
end

snippet id="math.sign_value" kind="fn"
signature
  fn name="sign_value"
    param name="s" type="Sign"
    returns type="Int"
  end
end
body
  step id="s1" kind="match"
    on="s"
    case variant type="Sign::Negative"
      step id="s1a" kind="return"
        lit=-1
        as="_"
      end
    end
    case variant type="Sign::Zero"
      step id="s1b" kind="return"
        lit=0
        as="_"
      end
    end
    case variant type="Sign::Positive"
      step id="s1c" kind="return"
        lit=1
        as="_"
      end
    end
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	// Enum values are their variant ordinals.
	assert.Equal(t, int64(-1), int64(call(t, mod, "sign_value", api.EncodeI64(0))))
	assert.Equal(t, int64(0), int64(call(t, mod, "sign_value", api.EncodeI64(1))))
	assert.Equal(t, int64(1), int64(call(t, mod, "sign_value", api.EncodeI64(2))))
}

func TestStringLiteralLowering(t *testing.T) {
	source := `
snippet id="greet.hello" kind="fn"
signature
  fn name="hello"
    returns type="String"
  end
end
body
  step id="s1" kind="return"
    lit="Hello, world!"
    as="_"
  end
end
end
`
	mod := compileSource(t, source)

	result := call(t, mod, "hello")
	assert.Equal(t, "Hello, world!", readFatPtr(t, mod, result))
}

func TestExternImport(t *testing.T) {
	source := `
snippet id="io.print" kind="extern"

effects
  effect console
end

signature
  fn name="print"
    param name="msg" type="String"
    returns type="Unit"
  end
end

end

snippet id="app.main" kind="fn"
signature
  fn name="main"
    returns type="Int"
  end
end
body
  step id="s1" kind="call"
    fn="io.print"
    arg name="msg" lit="hi"
    as="_"
  end
  step id="s2" kind="return"
    lit=0
    as="_"
  end
end
end
`
	program, err := covenant.Parse(source)
	require.NoError(t, err)

	check := analysis.Check(program)
	require.Empty(t, check.Errors)

	wasmBytes, err := Compile(program, check)
	require.NoError(t, err)

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	_, err = runtime.NewHostModuleBuilder("mem").
		NewFunctionBuilder().
		WithFunc(func(size int32) int32 { return 0x10000 }).
		Export("alloc").
		Instantiate(ctx)
	require.NoError(t, err)

	printed := 0

	_, err = runtime.NewHostModuleBuilder("console").
		NewFunctionBuilder().
		WithFunc(func(msg int64) { printed++ }).
		Export("print").
		Instantiate(ctx)
	require.NoError(t, err)

	mod, err := runtime.Instantiate(ctx, wasmBytes)
	require.NoError(t, err)

	result := call(t, mod, "main")
	assert.Equal(t, uint64(0), result)
	assert.Equal(t, 1, printed)
}

func TestCompileRequiresCheckResult(t *testing.T) {
	program, err := covenant.Parse("")
	require.NoError(t, err)

	_, err = Compile(program, nil)
	require.ErrorIs(t, err, ErrNilCheckResult)
}

func TestMemoryExported(t *testing.T) {
	mod := compileSource(t, twoDataNodes)
	require.NotNil(t, mod.Memory())
	// Initial memory is at least 16 pages.
	assert.GreaterOrEqual(t, mod.Memory().Size(), uint32(16*65536))
}
