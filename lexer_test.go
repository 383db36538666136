package covenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}

	return out
}

func TestAssignmentVsEquality(t *testing.T) {
	tokens := Tokenize("x := 5")
	require.Equal(t, []TokenKind{TokIdent, TokColonEq, TokInt, TokEOF}, kinds(tokens))
	assert.Equal(t, NewSpan(0, 1), tokens[0].Span)
	assert.Equal(t, NewSpan(2, 4), tokens[1].Span)
	assert.Equal(t, NewSpan(5, 6), tokens[2].Span)
	assert.Equal(t, NewSpan(6, 6), tokens[3].Span)

	tokens = Tokenize("x = 5")
	require.Equal(t, []TokenKind{TokIdent, TokEq, TokInt, TokEOF}, kinds(tokens))
}

func TestSnippetKeywords(t *testing.T) {
	tokens := Tokenize("snippet id kind signature body end")
	require.Equal(t,
		[]TokenKind{TokSnippet, TokId, TokKind, TokSignature, TokBody, TokEnd, TokEOF},
		kinds(tokens))
}

func TestSectionKeywords(t *testing.T) {
	tokens := Tokenize("effects requires tests relations metadata")
	require.Equal(t,
		[]TokenKind{TokEffects, TokRequires, TokTests, TokRelations, TokMetadata, TokEOF},
		kinds(tokens))
}

func TestStepKeywords(t *testing.T) {
	tokens := Tokenize("step op input var lit as")
	require.Equal(t,
		[]TokenKind{TokStep, TokOp, TokInput, TokVar, TokLit, TokAs, TokEOF},
		kinds(tokens))
}

func TestOperationKeywords(t *testing.T) {
	tokens := Tokenize("add sub mul div equals not and or")
	require.Equal(t,
		[]TokenKind{TokAdd, TokSub, TokMul, TokDiv, TokEquals, TokNot, TokAnd, TokOr, TokEOF},
		kinds(tokens))
}

func TestQueryKeywords(t *testing.T) {
	tokens := Tokenize("select from where order by limit")
	require.Equal(t,
		[]TokenKind{TokSelect, TokFrom, TokWhere, TokOrder, TokBy, TokLimit, TokEOF},
		kinds(tokens))
}

func TestAllOperators(t *testing.T) {
	tokens := Tokenize("= != < <= > >=")
	require.Equal(t, []TokenKind{TokEq, TokNe, TokLt, TokLe, TokGt, TokGe, TokEOF}, kinds(tokens))

	tokens = Tokenize("+ - * / %")
	require.Equal(t, []TokenKind{TokPlus, TokMinus, TokStar, TokSlash, TokPercent, TokEOF}, kinds(tokens))

	tokens = Tokenize("&& || !")
	require.Equal(t, []TokenKind{TokAndAnd, TokOrOr, TokBang, TokEOF}, kinds(tokens))

	tokens = Tokenize("-> => :: :=")
	require.Equal(t, []TokenKind{TokArrow, TokFatArrow, TokColonColon, TokColonEq, TokEOF}, kinds(tokens))
}

func TestDelimiters(t *testing.T) {
	tokens := Tokenize("( ) { } [ ] | , : ; . ?")
	require.Equal(t, []TokenKind{
		TokLParen, TokRParen, TokLBrace, TokRBrace, TokLBracket, TokRBracket,
		TokPipe, TokComma, TokColon, TokSemicolon, TokDot, TokQuestion, TokEOF,
	}, kinds(tokens))
}

func TestLiteralKeywords(t *testing.T) {
	tokens := Tokenize("true false none")
	require.Equal(t, []TokenKind{TokTrue, TokFalse, TokNone, TokEOF}, kinds(tokens))
}

func TestSimpleString(t *testing.T) {
	source := `"hello world"`
	tokens := Tokenize(source)
	require.Equal(t, []TokenKind{TokString, TokEOF}, kinds(tokens))
	assert.Equal(t, source, tokens[0].Text(source))
}

func TestStringEscapesNotDecoded(t *testing.T) {
	source := `"hello \"world\""`
	tokens := Tokenize(source)
	require.Equal(t, TokString, tokens[0].Kind)
	// The lexer keeps the raw text; decoding is the parser's concern.
	assert.Equal(t, source, tokens[0].Text(source))
}

func TestTripleQuotedString(t *testing.T) {
	source := "\"\"\"multi\nline\nstring\"\"\""
	tokens := Tokenize(source)
	require.Equal(t, []TokenKind{TokTripleString, TokEOF}, kinds(tokens))
	assert.Equal(t, source, tokens[0].Text(source))
}

func TestIntegerFormats(t *testing.T) {
	source := "0 42 12345"
	tokens := Tokenize(source)
	require.Equal(t, []TokenKind{TokInt, TokInt, TokInt, TokEOF}, kinds(tokens))
	assert.Equal(t, "0", tokens[0].Text(source))
	assert.Equal(t, "42", tokens[1].Text(source))
	assert.Equal(t, "12345", tokens[2].Text(source))
}

func TestFloatFormats(t *testing.T) {
	source := "1.0 0.5 123.456"
	tokens := Tokenize(source)
	require.Equal(t, []TokenKind{TokFloat, TokFloat, TokFloat, TokEOF}, kinds(tokens))
	assert.Equal(t, "123.456", tokens[2].Text(source))
}

func TestNegativeNumberIsTwoTokens(t *testing.T) {
	tokens := Tokenize("-5")
	require.Equal(t, []TokenKind{TokMinus, TokInt, TokEOF}, kinds(tokens))
}

func TestInvalidByteProducesError(t *testing.T) {
	tokens := Tokenize("let x @ 5")
	require.Equal(t, []TokenKind{TokLet, TokIdent, TokError, TokInt, TokEOF}, kinds(tokens))
}

func TestUnterminatedString(t *testing.T) {
	tokens := Tokenize(`"unclosed string`)
	assert.Equal(t, TokError, tokens[0].Kind)
	assert.Equal(t, TokEOF, tokens[len(tokens)-1].Kind)
}

func TestEmptyInput(t *testing.T) {
	tokens := Tokenize("")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokEOF, tokens[0].Kind)
	assert.Equal(t, NewSpan(0, 0), tokens[0].Span)
}

func TestWhitespaceOnly(t *testing.T) {
	tokens := Tokenize("   \n\t\r\n  ")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokEOF, tokens[0].Kind)
}

func TestLineCommentsStripped(t *testing.T) {
	tokens := Tokenize("let x // this is a comment\n= 5")
	require.Equal(t, []TokenKind{TokLet, TokIdent, TokEq, TokInt, TokEOF}, kinds(tokens))
}

func TestIdentifiers(t *testing.T) {
	source := "my_variable _private var1"
	tokens := Tokenize(source)
	require.Equal(t, []TokenKind{TokIdent, TokIdent, TokIdent, TokEOF}, kinds(tokens))
	assert.Equal(t, "my_variable", tokens[0].Text(source))
	assert.Equal(t, "_private", tokens[1].Text(source))
	assert.Equal(t, "var1", tokens[2].Text(source))
}

func TestKeywordIsKeyword(t *testing.T) {
	assert.True(t, TokLet.IsKeyword())
	assert.True(t, TokSnippet.IsKeyword())
	assert.True(t, TokAdd.IsKeyword())
	assert.False(t, TokIdent.IsKeyword())
	assert.False(t, TokInt.IsKeyword())
	assert.False(t, TokEq.IsKeyword())
}

// Tokenization is total: spans are strictly increasing, never overlap, and
// the stream always ends with exactly one EOF token at [len, len).
func TestTokenSpansCoverSource(t *testing.T) {
	source := `snippet id="math.add" kind="fn" // trailing
body
  step id="s1" kind="compute" op=add input var="a" as="r" end
end
end`
	tokens := Tokenize(source)

	last := 0

	for i, tok := range tokens {
		if tok.Kind == TokEOF {
			require.Equal(t, len(tokens)-1, i, "EOF must be the final token")
			assert.Equal(t, NewSpan(len(source), len(source)), tok.Span)

			break
		}

		assert.GreaterOrEqual(t, tok.Span.Start, last, "token %d overlaps predecessor", i)
		assert.Greater(t, tok.Span.End, tok.Span.Start, "token %d is empty", i)
		last = tok.Span.End
	}
}

func TestLineOf(t *testing.T) {
	source := "a\nbb\nccc"
	assert.Equal(t, 1, LineOf(source, 0))
	assert.Equal(t, 2, LineOf(source, 2))
	assert.Equal(t, 3, LineOf(source, 5))
	assert.Equal(t, 3, LineOf(source, 99))
}

func TestParticipleDefinition(t *testing.T) {
	def := NewDefinition()
	require.NotEmpty(t, def.Symbols())

	lex, err := def.LexString("test.cov", `x := 5`)
	require.NoError(t, err)

	tok, err := lex.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", tok.Value)
	assert.Equal(t, 1, tok.Pos.Line)

	tok, err = lex.Next()
	require.NoError(t, err)
	assert.Equal(t, ":=", tok.Value)

	tok, err = lex.Next()
	require.NoError(t, err)
	assert.Equal(t, "5", tok.Value)

	tok, err = lex.Next()
	require.NoError(t, err)
	assert.True(t, tok.EOF())
}
