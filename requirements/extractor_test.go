package requirements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	covenant "github.com/Cyronius/covenant"
)

func parse(t *testing.T, source string) *covenant.Program {
	t.Helper()

	program, err := covenant.Parse(source)
	require.NoError(t, err)

	return program
}

func TestExtractEmptyProgram(t *testing.T) {
	extraction := Extract(parse(t, ""))
	assert.Empty(t, extraction.Requirements)
	assert.Empty(t, extraction.Tests)
	assert.Empty(t, extraction.Errors)
}

func TestExtractRequirementsOnly(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"

requires
  req id="R-001"
    text "First requirement"
    priority high
  end
  req id="R-002"
    text "Second requirement"
    priority low
  end
end

signature
  fn name="test_fn"
    returns type="Unit"
  end
end

body
end

end
`
	extraction := Extract(parse(t, source))

	require.Len(t, extraction.Requirements, 2)
	assert.Empty(t, extraction.Tests)
	assert.Empty(t, extraction.Errors)

	r1 := extraction.Requirements["R-001"]
	require.NotNil(t, r1)
	assert.Equal(t, covenant.PriorityHigh, r1.Priority)
	require.NotNil(t, r1.Text)
	assert.Equal(t, "First requirement", *r1.Text)
	assert.Equal(t, "test.fn", r1.SnippetID)

	r2 := extraction.Requirements["R-002"]
	require.NotNil(t, r2)
	assert.Equal(t, covenant.PriorityLow, r2.Priority)

	assert.Equal(t, []string{"R-001", "R-002"}, extraction.RequirementIDs())
}

func TestExtractDefaults(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"

requires
  req id="R-001"
  end
end

end
`
	extraction := Extract(parse(t, source))

	req := extraction.Requirements["R-001"]
	require.NotNil(t, req)
	assert.Equal(t, covenant.PriorityMedium, req.Priority)
	assert.Equal(t, covenant.StatusDraft, req.Status)
	assert.Nil(t, req.Text)
}

func TestExtractTestsOnly(t *testing.T) {
	source := `
snippet id="test.fn" kind="fn"

signature
  fn name="test_fn"
    returns type="Unit"
  end
end

body
end

tests
  test id="T-001" kind="unit" covers="R-001"
  end
  test id="T-002" kind="integration"
  end
end

end
`
	extraction := Extract(parse(t, source))

	assert.Empty(t, extraction.Requirements)
	require.Len(t, extraction.Tests, 2)

	t1 := extraction.Tests["T-001"]
	require.NotNil(t, t1)
	assert.Equal(t, covenant.TestUnit, t1.Kind)
	assert.Equal(t, []string{"R-001"}, t1.Covers)

	t2 := extraction.Tests["T-002"]
	require.NotNil(t, t2)
	assert.Equal(t, covenant.TestIntegration, t2.Kind)
	assert.Empty(t, t2.Covers)
}

func TestExtractFromMultipleSnippets(t *testing.T) {
	source := `
snippet id="a.fn" kind="fn"

requires
  req id="R-A-001"
    text "Requirement A"
  end
end

end

snippet id="b.fn" kind="fn"

requires
  req id="R-B-001"
    text "Requirement B"
  end
end

tests
  test id="T-B-001" kind="unit" covers="R-B-001"
  end
end

end
`
	extraction := Extract(parse(t, source))

	assert.Len(t, extraction.Requirements, 2)
	assert.Len(t, extraction.Tests, 1)
	assert.Contains(t, extraction.Requirements, "R-A-001")
	assert.Contains(t, extraction.Requirements, "R-B-001")
	assert.Contains(t, extraction.Tests, "T-B-001")
}

func TestDuplicateRequirementDetection(t *testing.T) {
	source := `
snippet id="a.fn" kind="fn"

requires
  req id="R-001"
    text "First"
  end
end

end

snippet id="b.fn" kind="fn"

requires
  req id="R-001"
    text "Duplicate"
  end
end

end
`
	extraction := Extract(parse(t, source))

	// First occurrence wins.
	require.Len(t, extraction.Requirements, 1)
	require.NotNil(t, extraction.Requirements["R-001"].Text)
	assert.Equal(t, "First", *extraction.Requirements["R-001"].Text)

	require.Len(t, extraction.Errors, 1)
	dup := extraction.Errors[0]
	assert.Equal(t, ErrDuplicateRequirement, dup.Kind)
	assert.Equal(t, "R-001", dup.ID)
	assert.Equal(t, "a.fn", dup.First)
	assert.Equal(t, "b.fn", dup.Second)
	assert.Equal(t, "E-REQ-003", dup.Code())
}

func TestDuplicateTestDetection(t *testing.T) {
	source := `
snippet id="a.fn" kind="fn"

tests
  test id="T-001" kind="unit"
  end
end

end

snippet id="b.fn" kind="fn"

tests
  test id="T-001" kind="integration"
  end
end

end
`
	extraction := Extract(parse(t, source))

	require.Len(t, extraction.Tests, 1)
	assert.Equal(t, covenant.TestUnit, extraction.Tests["T-001"].Kind)

	require.Len(t, extraction.Errors, 1)
	assert.Equal(t, ErrDuplicateTest, extraction.Errors[0].Kind)
	assert.Equal(t, "E-REQ-004", extraction.Errors[0].Code())
}

func TestExtractLegacyProgram(t *testing.T) {
	extraction := Extract(parse(t, "struct User {\n  id: Int,\n}\n"))
	assert.Empty(t, extraction.Requirements)
	assert.Empty(t, extraction.Tests)
}
