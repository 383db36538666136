// Package covenant provides the front end for the Covenant snippet
// language: tokenization, parsing, and the AST shared by the checker,
// the code generator, and the runtime.
package covenant

import "fmt"

// Span is a half-open byte range [Start, End) into the original source.
// Every token and AST node carries one for diagnostics.
type Span struct {
	Start int
	End   int
}

// NewSpan creates a span covering [start, end).
func NewSpan(start, end int) Span { return Span{Start: start, End: end} }

// Merge returns the smallest span covering both s and other.
func (s Span) Merge(other Span) Span {
	out := s
	if other.Start < out.Start {
		out.Start = other.Start
	}

	if other.End > out.End {
		out.End = other.End
	}

	return out
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

func (s Span) String() string { return fmt.Sprintf("%d..%d", s.Start, s.End) }

// TokenKind identifies a lexical token class.
type TokenKind int

// Token kinds. Keywords are listed after the literal classes; operators and
// delimiters last. IsKeyword looks kinds up in the keywords table, so the
// order does not affect it.
const (
	TokEOF TokenKind = iota
	TokError
	TokIdent
	TokInt
	TokFloat
	TokString
	TokTripleString

	// Structural keywords
	TokSnippet
	TokEnd
	TokId
	TokKind
	TokSignature
	TokBody
	TokEffects
	TokRequires
	TokTests
	TokRelations
	TokMetadata
	TokContent

	// Section-item keywords
	TokStep
	TokOp
	TokInput
	TokVar
	TokLit
	TokAs
	TokFn
	TokParam
	TokReturns
	TokField
	TokStruct
	TokEnum
	TokVariant
	TokName
	TokType
	TokOptional
	TokEffect
	TokReq
	TokTest
	TokCovers
	TokPriority
	TokStatus
	TokText
	TokRel
	TokTo
	TokFrom
	TokArg
	TokCondition
	TokThen
	TokElse
	TokOn
	TokCase
	TokWildcard
	TokBindings
	TokIn
	TokImport
	TokUnion
	TokCollection
	TokOf

	// Query keywords
	TokTarget
	TokSelect
	TokAll
	TokWhere
	TokOrder
	TokBy
	TokDir
	TokLimit
	TokDialect
	TokParams

	// Literals and logic keywords
	TokLet
	TokTrue
	TokFalse
	TokNone
	TokAnd
	TokOr
	TokNot

	// Step-operation keywords
	TokAdd
	TokSub
	TokMul
	TokDiv
	TokMod
	TokEquals
	TokNotEquals
	TokLess
	TokLessEq
	TokGreater
	TokGreaterEq
	TokNeg

	// Operators. Eq is equality; ColonEq is assignment.
	TokEq
	TokNe
	TokLt
	TokLe
	TokGt
	TokGe
	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokPercent
	TokAndAnd
	TokOrOr
	TokBang
	TokArrow
	TokFatArrow
	TokColonColon
	TokColonEq

	// Delimiters
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokPipe
	TokComma
	TokColon
	TokSemicolon
	TokDot
	TokQuestion
)

// keywords maps keyword spellings to their token kinds. Identifiers not in
// this map lex as TokIdent.
var keywords = map[string]TokenKind{
	"snippet":    TokSnippet,
	"end":        TokEnd,
	"id":         TokId,
	"kind":       TokKind,
	"signature":  TokSignature,
	"body":       TokBody,
	"effects":    TokEffects,
	"requires":   TokRequires,
	"tests":      TokTests,
	"relations":  TokRelations,
	"metadata":   TokMetadata,
	"content":    TokContent,
	"step":       TokStep,
	"op":         TokOp,
	"input":      TokInput,
	"var":        TokVar,
	"lit":        TokLit,
	"as":         TokAs,
	"fn":         TokFn,
	"param":      TokParam,
	"returns":    TokReturns,
	"field":      TokField,
	"struct":     TokStruct,
	"enum":       TokEnum,
	"variant":    TokVariant,
	"name":       TokName,
	"type":       TokType,
	"optional":   TokOptional,
	"effect":     TokEffect,
	"req":        TokReq,
	"test":       TokTest,
	"covers":     TokCovers,
	"priority":   TokPriority,
	"status":     TokStatus,
	"text":       TokText,
	"rel":        TokRel,
	"to":         TokTo,
	"from":       TokFrom,
	"arg":        TokArg,
	"condition":  TokCondition,
	"then":       TokThen,
	"else":       TokElse,
	"on":         TokOn,
	"case":       TokCase,
	"wildcard":   TokWildcard,
	"bindings":   TokBindings,
	"in":         TokIn,
	"import":     TokImport,
	"union":      TokUnion,
	"collection": TokCollection,
	"of":         TokOf,
	"target":     TokTarget,
	"select":     TokSelect,
	"all":        TokAll,
	"where":      TokWhere,
	"order":      TokOrder,
	"by":         TokBy,
	"dir":        TokDir,
	"limit":      TokLimit,
	"dialect":    TokDialect,
	"params":     TokParams,
	"let":        TokLet,
	"true":       TokTrue,
	"false":      TokFalse,
	"none":       TokNone,
	"and":        TokAnd,
	"or":         TokOr,
	"not":        TokNot,
	"add":        TokAdd,
	"sub":        TokSub,
	"mul":        TokMul,
	"div":        TokDiv,
	"mod":        TokMod,
	"equals":     TokEquals,
	"not_equals": TokNotEquals,
	"less":       TokLess,
	"less_eq":    TokLessEq,
	"greater":    TokGreater,
	"greater_eq": TokGreaterEq,
	"neg":        TokNeg,
}

// tokenNames holds display names for non-keyword kinds.
var tokenNames = map[TokenKind]string{
	TokEOF:          "EOF",
	TokError:        "Error",
	TokIdent:        "Ident",
	TokInt:          "Int",
	TokFloat:        "Float",
	TokString:       "String",
	TokTripleString: "TripleString",
	TokEq:           "=",
	TokNe:           "!=",
	TokLt:           "<",
	TokLe:           "<=",
	TokGt:           ">",
	TokGe:           ">=",
	TokPlus:         "+",
	TokMinus:        "-",
	TokStar:         "*",
	TokSlash:        "/",
	TokPercent:      "%",
	TokAndAnd:       "&&",
	TokOrOr:         "||",
	TokBang:         "!",
	TokArrow:        "->",
	TokFatArrow:     "=>",
	TokColonColon:   "::",
	TokColonEq:      ":=",
	TokLParen:       "(",
	TokRParen:       ")",
	TokLBrace:       "{",
	TokRBrace:       "}",
	TokLBracket:     "[",
	TokRBracket:     "]",
	TokPipe:         "|",
	TokComma:        ",",
	TokColon:        ":",
	TokSemicolon:    ";",
	TokDot:          ".",
	TokQuestion:     "?",
}

// keywordNames is the inverse of keywords, built once at init.
var keywordNames = func() map[TokenKind]string {
	m := make(map[TokenKind]string, len(keywords))
	for name, kind := range keywords {
		m[kind] = name
	}

	return m
}()

// String returns the display name of the token kind: the keyword spelling,
// the operator glyph, or the class name for literal kinds.
func (k TokenKind) String() string {
	if name, ok := keywordNames[k]; ok {
		return name
	}

	if name, ok := tokenNames[k]; ok {
		return name
	}

	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// IsKeyword reports whether the kind is a reserved word.
func (k TokenKind) IsKeyword() bool {
	_, ok := keywordNames[k]

	return ok
}

// Token is a lexical token: a kind and the byte span it covers. Tokens do
// not own text; use Text with the original source to recover it.
type Token struct {
	Kind TokenKind
	Span Span
}

// Text returns the source slice covered by the token.
func (t Token) Text(source string) string {
	return source[t.Span.Start:t.Span.End]
}
