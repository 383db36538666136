// Package analysis provides semantic analysis for Covenant programs: name
// resolution, the type registry, and the step-level type checker.
package analysis

import "strings"

// SymbolID is the stable numeric handle assigned to each snippet during
// the resolve phase.
type SymbolID uint32

// TypeKind discriminates resolved type forms. The set is closed.
type TypeKind int

// Resolved type kinds.
const (
	KindInt TypeKind = iota
	KindFloat
	KindBool
	KindString
	KindChar
	KindBytes
	KindDateTime
	KindNone
	KindNamed
	KindOptional
	KindList
	KindSet
	KindUnion
	KindTuple
	KindFunction
	KindStruct
	KindUnknown
	KindError
)

// Type is a resolved type. Named carries Name, ID, and Args;
// Optional/List/Set wrap Elem; Union and Tuple hold members in Args;
// Function holds params in Args and the return in Ret; Struct carries
// Fields.
type Type struct {
	Kind   TypeKind
	Name   string
	ID     SymbolID
	Args   []Type
	Elem   *Type
	Ret    *Type
	Fields []Field
}

// Field is a named struct field.
type Field struct {
	Name string
	Type Type
}

// Predefined primitive types.
var (
	TypeInt      = Type{Kind: KindInt}
	TypeFloat    = Type{Kind: KindFloat}
	TypeBool     = Type{Kind: KindBool}
	TypeString   = Type{Kind: KindString}
	TypeChar     = Type{Kind: KindChar}
	TypeBytes    = Type{Kind: KindBytes}
	TypeDateTime = Type{Kind: KindDateTime}
	TypeNone     = Type{Kind: KindNone}
	TypeUnknown  = Type{Kind: KindUnknown}
	TypeError    = Type{Kind: KindError}
)

// Optional wraps a type in Optional.
func Optional(inner Type) Type { return Type{Kind: KindOptional, Elem: &inner} }

// List wraps a type in List.
func List(inner Type) Type { return Type{Kind: KindList, Elem: &inner} }

// Set wraps a type in Set.
func Set(inner Type) Type { return Type{Kind: KindSet, Elem: &inner} }

// Named builds a named type reference.
func Named(name string, id SymbolID, args ...Type) Type {
	return Type{Kind: KindNamed, Name: name, ID: id, Args: args}
}

// IsError reports whether the type is the error-recovery sentinel.
func (t Type) IsError() bool { return t.Kind == KindError }

// IsOptional reports whether the type is an Optional wrapper.
func (t Type) IsOptional() bool { return t.Kind == KindOptional }

// IsNumeric reports whether the type is Int or Float.
func (t Type) IsNumeric() bool { return t.Kind == KindInt || t.Kind == KindFloat }

// Equal reports structural equality. The Error sentinel compares equal to
// every type so that cascade diagnostics are suppressed.
func (t Type) Equal(other Type) bool {
	if t.Kind == KindError || other.Kind == KindError {
		return true
	}

	if t.Kind != other.Kind {
		return false
	}

	switch t.Kind {
	case KindNamed:
		if t.Name != other.Name || len(t.Args) != len(other.Args) {
			return false
		}

		for i := range t.Args {
			if !t.Args[i].Equal(other.Args[i]) {
				return false
			}
		}

		return true

	case KindOptional, KindList, KindSet:
		return t.Elem.Equal(*other.Elem)

	case KindUnion, KindTuple:
		if len(t.Args) != len(other.Args) {
			return false
		}

		for i := range t.Args {
			if !t.Args[i].Equal(other.Args[i]) {
				return false
			}
		}

		return true

	case KindFunction:
		if len(t.Args) != len(other.Args) || !t.Ret.Equal(*other.Ret) {
			return false
		}

		for i := range t.Args {
			if !t.Args[i].Equal(other.Args[i]) {
				return false
			}
		}

		return true

	case KindStruct:
		if len(t.Fields) != len(other.Fields) {
			return false
		}

		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name ||
				!t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}

		return true

	default:
		return true
	}
}

// Display renders the type for diagnostics.
func (t Type) Display() string {
	switch t.Kind {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindChar:
		return "Char"
	case KindBytes:
		return "Bytes"
	case KindDateTime:
		return "DateTime"
	case KindNone:
		return "none"
	case KindNamed:
		if len(t.Args) == 0 {
			return t.Name
		}

		return t.Name + "<" + joinTypes(t.Args, ", ") + ">"
	case KindOptional:
		return t.Elem.Display() + "?"
	case KindList:
		return t.Elem.Display() + "[]"
	case KindSet:
		return "Set<" + t.Elem.Display() + ">"
	case KindUnion:
		return joinTypes(t.Args, " | ")
	case KindTuple:
		return "(" + joinTypes(t.Args, ", ") + ")"
	case KindFunction:
		return "(" + joinTypes(t.Args, ", ") + ") -> " + t.Ret.Display()
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ": " + f.Type.Display()
		}

		return "{ " + strings.Join(parts, ", ") + " }"
	case KindUnknown:
		return "?"
	default:
		return "<error>"
	}
}

func joinTypes(types []Type, sep string) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.Display()
	}

	return strings.Join(parts, sep)
}

// AssignableTo reports whether a value of type t can be assigned where dst
// is expected. Error is compatible with everything; Unknown accepts and
// provides anything (propagating inference); a Union accepts any member
// type; an Optional accepts its element type or none.
func (t Type) AssignableTo(dst Type) bool {
	if t.Kind == KindError || dst.Kind == KindError {
		return true
	}

	if t.Kind == KindUnknown || dst.Kind == KindUnknown {
		return true
	}

	if dst.Kind == KindUnion {
		for _, member := range dst.Args {
			if t.AssignableTo(member) {
				return true
			}
		}

		return false
	}

	if dst.Kind == KindOptional {
		if t.Kind == KindNone {
			return true
		}

		if t.Kind == KindOptional {
			return t.Elem.AssignableTo(*dst.Elem)
		}

		return t.AssignableTo(*dst.Elem)
	}

	return t.Equal(dst)
}
