package covenant

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mathAddSource = `
snippet id="math.add" kind="fn"

signature
  fn name="add"
    param name="a" type="Int"
    param name="b" type="Int"
    returns type="Int"
  end
end

body
  step id="s1" kind="compute"
    op=add
    input var="a"
    input var="b"
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end

end
`

func TestParseFnSnippet(t *testing.T) {
	program, err := Parse(mathAddSource)
	require.NoError(t, err)
	require.Equal(t, ProgramSnippets, program.Kind)
	require.Len(t, program.Snippets, 1)

	snippet := program.Snippets[0]
	assert.Equal(t, "math.add", snippet.ID)
	assert.Equal(t, KindFn, snippet.Kind)

	sig := snippet.Signature()
	require.NotNil(t, sig)
	require.NotNil(t, sig.Fn)
	assert.Equal(t, "add", sig.Fn.Name)
	require.Len(t, sig.Fn.Params, 2)
	assert.Equal(t, "a", sig.Fn.Params[0].Name)
	assert.Equal(t, "Int", sig.Fn.Params[0].Type.String())
	require.NotNil(t, sig.Fn.Returns)
	assert.Equal(t, "Int", sig.Fn.Returns.String())

	body := snippet.Body()
	require.NotNil(t, body)
	require.Len(t, body.Steps, 2)

	compute := body.Steps[0]
	assert.Equal(t, StepCompute, compute.Kind)
	assert.Equal(t, "add", compute.Op)
	require.Len(t, compute.Inputs, 2)
	assert.Equal(t, "a", compute.Inputs[0].Var)
	assert.Equal(t, "b", compute.Inputs[1].Var)
	assert.Equal(t, "result", compute.Out)

	ret := body.Steps[1]
	assert.Equal(t, StepReturn, ret.Kind)
	assert.Equal(t, "result", ret.From)
}

func TestParseExternSnippet(t *testing.T) {
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

metadata
  contract="console.log@1"
end

end
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 1)

	snippet := program.Snippets[0]
	assert.Equal(t, KindExtern, snippet.Kind)
	assert.Equal(t, []string{"console"}, snippet.Effects())

	var meta *MetadataSection

	for _, sec := range snippet.Sections {
		if m, ok := sec.(*MetadataSection); ok {
			meta = m
		}
	}

	require.NotNil(t, meta)
	require.Len(t, meta.Entries, 1)
	assert.Equal(t, "contract", meta.Entries[0].Key)
	assert.Equal(t, "console.log@1", meta.Entries[0].Value)
}

func TestParseStructSnippet(t *testing.T) {
	source := `
snippet id="types.User" kind="struct"

signature
  struct name="User"
    field name="id" type="Int"
    field name="name" type="String"
    field name="email" type="String" optional
  end
end

end
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 1)

	sig := program.Snippets[0].Signature()
	require.NotNil(t, sig)
	require.NotNil(t, sig.Struct)
	assert.Equal(t, "User", sig.Struct.Name)
	require.Len(t, sig.Struct.Fields, 3)
	assert.True(t, sig.Struct.Fields[2].Optional)
}

func TestParseEnumSnippet(t *testing.T) {
	source := `
snippet id="types.Result" kind="enum"

signature
  enum name="Result"
    variant name="Ok"
      field name="value" type="Int"
    end
    variant name="Err"
      field name="message" type="String"
    end
  end
end

end
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 1)

	sig := program.Snippets[0].Signature()
	require.NotNil(t, sig)
	require.NotNil(t, sig.Enum)
	assert.Equal(t, "Result", sig.Enum.Name)
	require.Len(t, sig.Enum.Variants, 2)
	assert.Equal(t, "Ok", sig.Enum.Variants[0].Name)
	require.Len(t, sig.Enum.Variants[0].Fields, 1)
	assert.Equal(t, "value", sig.Enum.Variants[0].Fields[0].Name)
}

func TestParseCallStep(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
    param name="x" type="Int"
    returns type="Int"
  end
end
body
  step id="s1" kind="call"
    fn="math.double"
    arg name="x" from="x"
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	call := program.Snippets[0].Body().Steps[0]
	assert.Equal(t, StepCall, call.Kind)
	assert.Equal(t, "math.double", call.Fn)
	require.Len(t, call.Args, 1)
	assert.Equal(t, "x", call.Args[0].Name)
	assert.Equal(t, "x", call.Args[0].From)
}

func TestParseIfStep(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
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
	program, err := Parse(source)
	require.NoError(t, err)

	steps := program.Snippets[0].Body().Steps
	require.Len(t, steps, 2)

	ifStep := steps[1]
	assert.Equal(t, StepIf, ifStep.Kind)
	assert.Equal(t, "is_negative", ifStep.Condition)
	require.Len(t, ifStep.Then, 1)
	require.Len(t, ifStep.Else, 1)
	assert.Equal(t, StepReturn, ifStep.Then[0].Kind)
	require.NotNil(t, ifStep.Then[0].Lit)
	assert.Equal(t, int64(0), ifStep.Then[0].Lit.Int)
}

func TestParseMatchStep(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
    param name="value" type="Result"
    returns type="Int"
  end
end
body
  step id="s1" kind="match"
    on="value"
    case variant type="Result::Ok" bindings=("v")
      step id="s1a" kind="return"
        from="v"
        as="_"
      end
    end
    case wildcard
      step id="s1b" kind="return"
        lit=0
        as="_"
      end
    end
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	match := program.Snippets[0].Body().Steps[0]
	assert.Equal(t, StepMatch, match.Kind)
	assert.Equal(t, "value", match.On)
	require.Len(t, match.Cases, 2)

	okCase := match.Cases[0]
	assert.Equal(t, "Result::Ok", okCase.Variant)
	assert.Equal(t, "Ok", okCase.VariantName())
	assert.Equal(t, "Result", okCase.EnumName())
	assert.Equal(t, []string{"v"}, okCase.Bindings)
	require.Len(t, okCase.Steps, 1)

	assert.True(t, match.Cases[1].Wildcard)
}

func TestParseForStep(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
    param name="items" type="List<Int>"
    returns type="List<Int>"
  end
end
body
  step id="s1" kind="call"
    fn="new_list"
    as="result"
  end
  step id="s2" kind="for"
    var="item" in="items"
    step id="s2a" kind="call"
      fn="push"
      arg name="list" from="result"
      arg name="item" from="item"
      as="result"
    end
    as="_"
  end
  step id="s3" kind="return"
    from="result"
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	forStep := program.Snippets[0].Body().Steps[1]
	assert.Equal(t, StepFor, forStep.Kind)
	assert.Equal(t, "item", forStep.Var)
	assert.Equal(t, "items", forStep.In)
	require.Len(t, forStep.Body, 1)
	assert.Equal(t, StepCall, forStep.Body[0].Kind)
	require.Len(t, forStep.Body[0].Args, 2)
}

func TestParseQueryCovenantDialect(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
effects
  effect database
end
signature
  fn name="test_fn"
    returns type="List<User>"
  end
end
body
  step id="s1" kind="query"
    target="project"
    select all
    from="users"
    where
      equals field="active" lit=true
    end
    order by="name" dir="asc"
    limit=10
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	query := program.Snippets[0].Body().Steps[0]
	require.Equal(t, StepQuery, query.Kind)
	require.NotNil(t, query.Query)

	spec := query.Query
	assert.Empty(t, spec.Dialect)
	assert.Equal(t, "project", spec.Target)
	assert.True(t, spec.SelectAll)
	assert.Equal(t, "users", spec.From)
	require.Len(t, spec.Where, 1)
	assert.Equal(t, "equals", spec.Where[0].Op)
	assert.Equal(t, "active", spec.Where[0].Field)
	require.NotNil(t, spec.Where[0].Value)
	assert.True(t, spec.Where[0].Value.Bool)
	assert.Equal(t, "name", spec.OrderBy)
	assert.Equal(t, "asc", spec.OrderDir)
	require.NotNil(t, spec.Limit)
	assert.Equal(t, int64(10), *spec.Limit)
}

func TestParseQuerySQLDialect(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
effects
  effect database
end
signature
  fn name="test_fn"
    param name="user_id" type="Int"
    returns type="List<Order>"
  end
end
body
  step id="s1" kind="query"
    dialect="postgres"
    target="app_db"
    body
      SELECT * FROM orders WHERE user_id = :user_id
    end
    params
      param name="user_id" from="user_id"
    end
    returns collection of="Order"
    as="orders"
  end
  step id="s2" kind="return"
    from="orders"
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	spec := program.Snippets[0].Body().Steps[0].Query
	require.NotNil(t, spec)
	assert.Equal(t, "postgres", spec.Dialect)
	assert.Equal(t, "app_db", spec.Target)
	assert.Equal(t, "SELECT * FROM orders WHERE user_id = :user_id", spec.Body)
	require.Len(t, spec.Params, 1)
	assert.Equal(t, "user_id", spec.Params[0].Name)
	require.NotNil(t, spec.Returns)
	assert.True(t, spec.Returns.Collection)
	assert.Equal(t, "Order", spec.Returns.Of)
}

func TestParseOptionalReturn(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
    param name="value" type="Json"
    returns type="String" optional
  end
end
body
  step id="s1" kind="return"
    lit=none
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	returns := program.Snippets[0].Signature().Fn.Returns
	require.NotNil(t, returns)
	assert.Equal(t, TypeOptional, returns.Kind)
	assert.Equal(t, "String?", returns.String())
}

func TestParseUnionReturn(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test_fn"
    returns union
      type="Int"
      type="String"
      type="Error"
    end
  end
end
body
  step id="s1" kind="return"
    lit=0
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)

	returns := program.Snippets[0].Signature().Fn.Returns
	require.NotNil(t, returns)
	require.Equal(t, TypeUnion, returns.Kind)
	require.Len(t, returns.Args, 3)
	assert.Equal(t, "Int | String | Error", returns.String())
}

func TestParseAllSections(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"

effects
  effect database
  effect network
end

requires
  req id="R-001"
    text "Must handle null input"
    priority high
  end
end

signature
  fn name="test_fn"
    param name="x" type="Int"
    returns type="Int"
  end
end

body
  step id="s1" kind="return"
    from="x"
    as="_"
  end
end

tests
  test id="T-001" kind="unit" covers="R-001"
  end
end

metadata
  author="test"
  version="1.0"
end

end
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 1)

	snippet := program.Snippets[0]
	assert.Equal(t, []string{"database", "network"}, snippet.Effects())
	require.Len(t, snippet.Sections, 6)

	var requires *RequiresSection

	var tests *TestsSection

	for _, sec := range snippet.Sections {
		switch s := sec.(type) {
		case *RequiresSection:
			requires = s
		case *TestsSection:
			tests = s
		}
	}

	require.NotNil(t, requires)
	require.Len(t, requires.Requirements, 1)

	req := requires.Requirements[0]
	assert.Equal(t, "R-001", req.ID)
	require.NotNil(t, req.Text)
	assert.Equal(t, "Must handle null input", *req.Text)
	require.NotNil(t, req.Priority)
	assert.Equal(t, PriorityHigh, *req.Priority)

	require.NotNil(t, tests)
	require.Len(t, tests.Tests, 1)
	assert.Equal(t, "T-001", tests.Tests[0].ID)
	assert.Equal(t, TestUnit, tests.Tests[0].Kind)
	assert.Equal(t, []string{"R-001"}, tests.Tests[0].Covers)
}

func TestParseDataSnippetWithRelations(t *testing.T) {
	source := `
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
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 2)

	root := program.Snippets[0]
	assert.Contains(t, root.Content(), "Root knowledge node")

	rels := root.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "kb.child", rels[0].To)
	assert.Equal(t, "contains", rels[0].Type)

	assert.Empty(t, program.Snippets[1].Relations())
}

func TestParseMultipleSnippets(t *testing.T) {
	source := mathAddSource + `
snippet id="math.sub" kind="fn"
signature
  fn name="sub"
    param name="a" type="Int"
    param name="b" type="Int"
    returns type="Int"
  end
end
body
  step id="s1" kind="compute"
    op=sub
    input var="a"
    input var="b"
    as="result"
  end
  step id="s2" kind="return"
    from="result"
    as="_"
  end
end
end
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, program.Snippets, 2)
	assert.Equal(t, "math.add", program.Snippets[0].ID)
	assert.Equal(t, "math.sub", program.Snippets[1].ID)
}

func TestParseEmptySource(t *testing.T) {
	program, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, program.Snippets)
	assert.Empty(t, program.Declarations)
}

func TestParseCommentsOnly(t *testing.T) {
	program, err := Parse("// This is a comment\n// Another comment\n")
	require.NoError(t, err)
	assert.Empty(t, program.Snippets)
}

func TestParseUnclosedSnippet(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"
signature
  fn name="test"
    returns type="Int"
  end
end
body
end
`
	_, err := Parse(source)
	require.Error(t, err)

	var list ParseErrorList

	require.ErrorAs(t, err, &list)
	assert.Equal(t, ErrUnclosedBlock, list[0].Kind)
}

func TestParseMissingSnippetID(t *testing.T) {
	source := `
snippet kind="fn"
signature
  fn name="test"
    returns type="Int"
  end
end
body
end
end
`
	program, err := Parse(source)
	require.Error(t, err)
	assert.Empty(t, program.Snippets)

	var list ParseErrorList

	require.ErrorAs(t, err, &list)
	assert.Equal(t, ErrMissingAttribute, list[0].Kind)
}

func TestParseRecoversAcrossSnippets(t *testing.T) {
	source := `
snippet id="bad.fn" kind="bogus"
body
end
end

snippet id="good.data" kind="data"
content
  """
  ok
  """
end
end
`
	program, err := Parse(source)
	require.Error(t, err)
	require.Len(t, program.Snippets, 1)
	assert.Equal(t, "good.data", program.Snippets[0].ID)
}

func TestParseLegacyProgram(t *testing.T) {
	source := `
struct User {
    id: Int,
    name: String,
}

double(x: Int) -> Int {
    x * 2
}

main()
    import { println } from console
{
    println("Hello, world!")
}
`
	program, err := Parse(source)
	require.NoError(t, err)
	require.Equal(t, ProgramLegacy, program.Kind)
	require.Len(t, program.Declarations, 3)
	assert.Equal(t, "User", program.Declarations[0].Name)
	assert.Equal(t, DeclStruct, program.Declarations[0].Kind)
	assert.Equal(t, "double", program.Declarations[1].Name)
	assert.Equal(t, DeclFn, program.Declarations[1].Kind)
	assert.Equal(t, "main", program.Declarations[2].Name)
}

func TestParseTypeStrings(t *testing.T) {
	program, err := Parse(`
snippet id="t.fn" kind="fn"
signature
  fn name="t"
    param name="a" type="List<Int>"
    param name="b" type="Set<String>"
    param name="c" type="Optional<Float>"
    param name="d" type="Tuple<Int, String>"
    param name="e" type="Pair<Int, Bool>"
    returns type="Int"
  end
end
body
  step id="s1" kind="return" lit=0 as="_" end
end
end
`)
	require.NoError(t, err)

	params := program.Snippets[0].Signature().Fn.Params
	require.Len(t, params, 5)
	assert.Equal(t, TypeList, params[0].Type.Kind)
	assert.Equal(t, TypeSet, params[1].Type.Kind)
	assert.Equal(t, TypeOptional, params[2].Type.Kind)
	assert.Equal(t, TypeTuple, params[3].Type.Kind)
	assert.Equal(t, TypeNamed, params[4].Type.Kind)
	assert.Equal(t, "Pair<Int, Bool>", params[4].Type.String())
}

func TestParseTestsSectionShape(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"

tests
  test id="T-001" kind="unit" covers="R-001,R-002"
  end
  test id="T-002" kind="golden"
  end
end

end
`
	program, err := Parse(source)
	require.NoError(t, err)

	var section *TestsSection

	for _, sec := range program.Snippets[0].Sections {
		if s, ok := sec.(*TestsSection); ok {
			section = s
		}
	}

	require.NotNil(t, section)

	type decl struct {
		ID     string
		Kind   TestKind
		Covers []string
	}

	got := make([]decl, len(section.Tests))
	for i, test := range section.Tests {
		got[i] = decl{ID: test.ID, Kind: test.Kind, Covers: test.Covers}
	}

	want := []decl{
		{ID: "T-001", Kind: TestUnit, Covers: []string{"R-001", "R-002"}},
		{ID: "T-002", Kind: TestGolden},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tests section mismatch (-want +got):\n%s", diff)
	}
}

func TestSnippetIDsAreUniqueInParse(t *testing.T) {
	// Round-trip property: every parsed snippet ID appears exactly once.
	program, err := Parse(mathAddSource)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, s := range program.Snippets {
		seen[s.ID]++
	}

	for id, n := range seen {
		assert.Equal(t, 1, n, "snippet %q parsed %d times", id, n)
	}
}
