package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeDisplay(t *testing.T) {
	assert.Equal(t, "Int", TypeInt.Display())
	assert.Equal(t, "none", TypeNone.Display())
	assert.Equal(t, "Int?", Optional(TypeInt).Display())
	assert.Equal(t, "Int[]", List(TypeInt).Display())
	assert.Equal(t, "Set<String>", Set(TypeString).Display())
	assert.Equal(t, "Result", Named("Result", 1).Display())
	assert.Equal(t, "Pair<Int, Bool>", Named("Pair", 0, TypeInt, TypeBool).Display())
	assert.Equal(t, "Int | String", Type{Kind: KindUnion, Args: []Type{TypeInt, TypeString}}.Display())
	assert.Equal(t, "(Int, Bool)", Type{Kind: KindTuple, Args: []Type{TypeInt, TypeBool}}.Display())
	assert.Equal(t, "?", TypeUnknown.Display())
	assert.Equal(t, "<error>", TypeError.Display())

	ret := TypeBool
	fn := Type{Kind: KindFunction, Args: []Type{TypeInt}, Ret: &ret}
	assert.Equal(t, "(Int) -> Bool", fn.Display())

	structType := Type{Kind: KindStruct, Fields: []Field{{Name: "id", Type: TypeInt}}}
	assert.Equal(t, "{ id: Int }", structType.Display())
}

func TestTypeEqual(t *testing.T) {
	assert.True(t, TypeInt.Equal(TypeInt))
	assert.False(t, TypeInt.Equal(TypeFloat))
	assert.True(t, List(TypeInt).Equal(List(TypeInt)))
	assert.False(t, List(TypeInt).Equal(List(TypeString)))
	assert.True(t, Named("User", 1).Equal(Named("User", 2)))
	assert.False(t, Named("User", 1).Equal(Named("Order", 1)))

	// The error sentinel compares equal to everything.
	assert.True(t, TypeError.Equal(TypeInt))
	assert.True(t, List(TypeInt).Equal(TypeError))
}

func TestAssignableTo(t *testing.T) {
	union := Type{Kind: KindUnion, Args: []Type{TypeInt, TypeString}}

	assert.True(t, TypeInt.AssignableTo(TypeInt))
	assert.False(t, TypeInt.AssignableTo(TypeString))
	assert.True(t, TypeInt.AssignableTo(union))
	assert.False(t, TypeBool.AssignableTo(union))

	assert.True(t, TypeInt.AssignableTo(Optional(TypeInt)))
	assert.True(t, TypeNone.AssignableTo(Optional(TypeInt)))
	assert.True(t, Optional(TypeUnknown).AssignableTo(Optional(TypeString)))
	assert.False(t, TypeFloat.AssignableTo(Optional(TypeInt)))

	assert.True(t, TypeUnknown.AssignableTo(TypeInt))
	assert.True(t, TypeInt.AssignableTo(TypeUnknown))
	assert.True(t, TypeError.AssignableTo(TypeInt))
	assert.True(t, TypeInt.AssignableTo(TypeError))
}
