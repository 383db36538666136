package covenant

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses Covenant source into a Program. The parser recovers at step
// and section granularity: constructs that fail to parse are dropped and
// parsing continues. When any diagnostics were produced the returned error
// is a ParseErrorList; the Program still contains everything that parsed.
func Parse(source string) (*Program, error) {
	p := &parser{source: source, tokens: Tokenize(source)}
	program := p.parseProgram()

	if len(p.errors) > 0 {
		return program, p.errors
	}

	return program, nil
}

// parser is a recursive-descent parser with a single token of lookahead.
type parser struct {
	source string
	tokens []Token
	pos    int
	errors ParseErrorList
}

// openers are keywords that begin an end-terminated block when they are
// not used in attribute position (followed by '=').
var openers = map[TokenKind]bool{
	TokSnippet:   true,
	TokSignature: true,
	TokBody:      true,
	TokEffects:   true,
	TokRequires:  true,
	TokTests:     true,
	TokRelations: true,
	TokMetadata:  true,
	TokContent:   true,
	TokStep:      true,
	TokThen:      true,
	TokElse:      true,
	TokCase:      true,
	TokWhere:     true,
	TokParams:    true,
	TokUnion:     true,
	TokReq:       true,
	TokTest:      true,
	TokFn:        true,
	TokStruct:    true,
	TokEnum:      true,
	TokVariant:   true,
}

func (p *parser) cur() Token { return p.tokens[p.pos] }

func (p *parser) at(kind TokenKind) bool { return p.cur().Kind == kind }

func (p *parser) nextIs(kind TokenKind) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}

	return p.tokens[p.pos+1].Kind == kind
}

func (p *parser) advance() Token {
	tok := p.cur()
	if tok.Kind != TokEOF {
		p.pos++
	}

	return tok
}

func (p *parser) text(tok Token) string { return tok.Text(p.source) }

func (p *parser) errorf(kind ParseErrorKind, span Span, expected []string, format string, args ...any) {
	p.errors = append(p.errors, &ParseError{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Expected: expected,
		SrcSpan:  span,
	})
}

// expect consumes a token of the given kind, or records an error and
// leaves the position unchanged.
func (p *parser) expect(kind TokenKind) (Token, bool) {
	if p.at(kind) {
		return p.advance(), true
	}

	tok := p.cur()
	errKind := ErrUnexpectedToken

	if tok.Kind == TokEOF {
		errKind = ErrUnexpectedEOF
	}

	p.errorf(errKind, tok.Span, []string{kind.String()}, "found %q", p.text(tok))

	return tok, false
}

// recover skips tokens until the next `end` (consumed) or `step` (left in
// place), the standard resynchronization points.
func (p *parser) recover() {
	for {
		switch p.cur().Kind {
		case TokEOF:
			return
		case TokEnd:
			p.advance()

			return
		case TokStep:
			return
		default:
			p.advance()
		}
	}
}

// skipBalanced consumes tokens until depth opened blocks have been closed
// by matching `end` tokens. Used to drop a whole snippet.
func (p *parser) skipBalanced(depth int) {
	for depth > 0 {
		tok := p.cur()

		switch {
		case tok.Kind == TokEOF:
			return
		case tok.Kind == TokEnd:
			depth--
			p.advance()
		case openers[tok.Kind] && !p.nextIs(TokEq):
			depth++
			p.advance()
		default:
			p.advance()
		}
	}
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

func (p *parser) parseProgram() *Program {
	full := NewSpan(0, len(p.source))

	if p.at(TokEOF) {
		return &Program{Kind: ProgramSnippets, SrcSpan: full}
	}

	if p.at(TokSnippet) {
		program := &Program{Kind: ProgramSnippets, SrcSpan: full}

		for !p.at(TokEOF) {
			if !p.at(TokSnippet) {
				tok := p.cur()
				p.errorf(ErrUnexpectedToken, tok.Span, []string{"snippet"}, "found %q", p.text(tok))
				p.advance()

				continue
			}

			if snippet := p.parseSnippet(); snippet != nil {
				program.Snippets = append(program.Snippets, snippet)
			}
		}

		return program
	}

	return p.parseLegacyProgram(full)
}

// ---------------------------------------------------------------------------
// Snippets
// ---------------------------------------------------------------------------

func (p *parser) parseSnippet() *Snippet {
	keyword := p.advance() // snippet

	var id, kindStr string

	for p.isAttrKey() {
		key, val, ok := p.parseStringAttr()
		if !ok {
			continue
		}

		switch key {
		case "id":
			id = val
		case "kind":
			kindStr = val
		default:
			p.errorf(ErrUnknownAttribute, keyword.Span, nil, "unknown snippet attribute %q", key)
		}
	}

	if id == "" || kindStr == "" {
		p.errorf(ErrMissingAttribute, keyword.Span, nil, "snippet requires id and kind attributes")
		p.skipBalanced(1)

		return nil
	}

	kind := SnippetKind(kindStr)
	if !kind.IsValid() {
		p.errorf(ErrUnexpectedToken, keyword.Span, nil, "unknown snippet kind %q", kindStr)
		p.skipBalanced(1)

		return nil
	}

	snippet := &Snippet{ID: id, Kind: kind}

	for {
		tok := p.cur()

		switch tok.Kind {
		case TokEnd:
			p.advance()
			snippet.SrcSpan = keyword.Span.Merge(tok.Span)

			return snippet

		case TokEOF:
			p.errorf(ErrUnclosedBlock, keyword.Span, []string{"end"}, "snippet %q is not closed", id)

			return nil

		case TokSignature:
			if sec := p.parseSignatureSection(); sec != nil {
				snippet.Sections = append(snippet.Sections, sec)
			}

		case TokBody:
			snippet.Sections = append(snippet.Sections, p.parseBodySection())

		case TokEffects:
			snippet.Sections = append(snippet.Sections, p.parseEffectsSection())

		case TokRequires:
			snippet.Sections = append(snippet.Sections, p.parseRequiresSection())

		case TokTests:
			snippet.Sections = append(snippet.Sections, p.parseTestsSection())

		case TokRelations:
			snippet.Sections = append(snippet.Sections, p.parseRelationsSection())

		case TokMetadata:
			snippet.Sections = append(snippet.Sections, p.parseMetadataSection())

		case TokContent:
			if sec := p.parseContentSection(); sec != nil {
				snippet.Sections = append(snippet.Sections, sec)
			}

		default:
			p.errorf(ErrUnexpectedToken, tok.Span,
				[]string{"signature", "body", "effects", "requires", "tests", "relations", "metadata", "content", "end"},
				"found %q", p.text(tok))
			p.recover()
		}
	}
}

// isAttrKey reports whether the current token starts a key=value attribute.
func (p *parser) isAttrKey() bool {
	kind := p.cur().Kind

	return (kind == TokIdent || kind.IsKeyword()) && p.nextIs(TokEq)
}

// atAttr reports whether the current token is a key=value attribute whose
// key is one of the given names. Keeps header loops from swallowing
// element attributes that share the key=value shape.
func (p *parser) atAttr(names ...string) bool {
	if !p.isAttrKey() {
		return false
	}

	text := p.text(p.cur())

	for _, name := range names {
		if text == name {
			return true
		}
	}

	return false
}

// parseStringAttr consumes key="value" and returns the pair.
func (p *parser) parseStringAttr() (key, value string, ok bool) {
	keyTok := p.advance()
	p.advance() // =

	val := p.cur()
	if val.Kind != TokString {
		p.errorf(ErrUnexpectedToken, val.Span, []string{"String"}, "attribute %q needs a string value", p.text(keyTok))
		p.advance()

		return p.text(keyTok), "", false
	}

	p.advance()

	return p.text(keyTok), decodeString(p.text(val)), true
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func (p *parser) parseSignatureSection() *SignatureSection {
	keyword := p.advance() // signature
	sec := &SignatureSection{}

	switch p.cur().Kind {
	case TokFn:
		sec.Fn = p.parseFnSig()
	case TokStruct:
		sec.Struct = p.parseStructSig()
	case TokEnum:
		sec.Enum = p.parseEnumSig()
	default:
		tok := p.cur()
		p.errorf(ErrUnexpectedToken, tok.Span, []string{"fn", "struct", "enum"}, "found %q", p.text(tok))
		p.recover()

		return nil
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseFnSig() *FnSig {
	keyword := p.advance() // fn
	sig := &FnSig{}

	for p.atAttr("name") {
		_, val, ok := p.parseStringAttr()
		if ok {
			sig.Name = val
		}
	}

	for {
		switch p.cur().Kind {
		case TokParam:
			if param := p.parseParamDecl(); param != nil {
				sig.Params = append(sig.Params, param)
			}

		case TokReturns:
			sig.Returns = p.parseReturnsType()

		case TokEnd:
			endTok := p.advance()
			sig.SrcSpan = keyword.Span.Merge(endTok.Span)

			return sig

		case TokEOF:
			p.errorf(ErrUnclosedBlock, keyword.Span, []string{"end"}, "fn signature is not closed")

			return sig

		default:
			tok := p.cur()
			p.errorf(ErrUnexpectedToken, tok.Span, []string{"param", "returns", "end"}, "found %q", p.text(tok))
			p.recover()

			return sig
		}
	}
}

func (p *parser) parseParamDecl() *ParamDecl {
	keyword := p.advance() // param
	param := &ParamDecl{SrcSpan: keyword.Span}

	for {
		switch {
		case p.isAttrKey():
			keyTok := p.cur()
			key, val, ok := p.parseStringAttr()

			if !ok {
				continue
			}

			switch key {
			case "name":
				param.Name = val
			case "type":
				param.Type = p.parseTypeString(val, keyTok.Span)
			default:
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown param attribute %q", key)
			}

		case p.at(TokOptional):
			p.advance()
			param.Optional = true

		default:
			if param.Name == "" {
				p.errorf(ErrMissingAttribute, keyword.Span, nil, "param requires a name attribute")

				return nil
			}

			return param
		}
	}
}

// parseReturnsType parses the returns clause of a signature: either a
// single type (optionally marked optional) or a union block.
func (p *parser) parseReturnsType() *TypeExpr {
	keyword := p.advance() // returns

	if p.at(TokUnion) {
		p.advance()

		union := &TypeExpr{Kind: TypeUnion, SrcSpan: keyword.Span}

		for p.isAttrKey() {
			keyTok := p.cur()
			key, val, ok := p.parseStringAttr()

			if ok && key == "type" {
				union.Args = append(union.Args, p.parseTypeString(val, keyTok.Span))
			} else if ok {
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown union attribute %q", key)
			}
		}

		p.expect(TokEnd)

		return union
	}

	var typ *TypeExpr

	for {
		switch {
		case p.isAttrKey():
			keyTok := p.cur()
			key, val, ok := p.parseStringAttr()

			if ok && key == "type" {
				typ = p.parseTypeString(val, keyTok.Span)
			} else if ok {
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown returns attribute %q", key)
			}

		case p.at(TokOptional):
			opt := p.advance()

			if typ != nil {
				typ = &TypeExpr{Kind: TypeOptional, Args: []*TypeExpr{typ}, SrcSpan: typ.SrcSpan.Merge(opt.Span)}
			}

		default:
			if typ == nil {
				p.errorf(ErrMissingAttribute, keyword.Span, nil, "returns requires a type attribute")
			}

			return typ
		}
	}
}

func (p *parser) parseStructSig() *StructSig {
	keyword := p.advance() // struct
	sig := &StructSig{}

	for p.atAttr("name") {
		_, val, ok := p.parseStringAttr()
		if ok {
			sig.Name = val
		}
	}

	for p.at(TokField) {
		if field := p.parseFieldDecl(); field != nil {
			sig.Fields = append(sig.Fields, field)
		}
	}

	endTok, _ := p.expect(TokEnd)
	sig.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sig
}

func (p *parser) parseFieldDecl() *FieldDecl {
	keyword := p.advance() // field
	field := &FieldDecl{SrcSpan: keyword.Span}

	for {
		switch {
		case p.isAttrKey():
			keyTok := p.cur()
			key, val, ok := p.parseStringAttr()

			if !ok {
				continue
			}

			switch key {
			case "name":
				field.Name = val
			case "type":
				field.Type = p.parseTypeString(val, keyTok.Span)
			default:
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown field attribute %q", key)
			}

		case p.at(TokOptional):
			p.advance()
			field.Optional = true

		default:
			if field.Name == "" {
				p.errorf(ErrMissingAttribute, keyword.Span, nil, "field requires a name attribute")

				return nil
			}

			return field
		}
	}
}

func (p *parser) parseEnumSig() *EnumSig {
	keyword := p.advance() // enum
	sig := &EnumSig{}

	for p.atAttr("name") {
		_, val, ok := p.parseStringAttr()
		if ok {
			sig.Name = val
		}
	}

	for p.at(TokVariant) {
		variantKeyword := p.advance()
		variant := &VariantDecl{SrcSpan: variantKeyword.Span}

		for p.atAttr("name") {
			_, val, ok := p.parseStringAttr()
			if ok {
				variant.Name = val
			}
		}

		for p.at(TokField) {
			if field := p.parseFieldDecl(); field != nil {
				variant.Fields = append(variant.Fields, field)
			}
		}

		endTok, _ := p.expect(TokEnd)
		variant.SrcSpan = variant.SrcSpan.Merge(endTok.Span)
		sig.Variants = append(sig.Variants, variant)
	}

	endTok, _ := p.expect(TokEnd)
	sig.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sig
}

func (p *parser) parseBodySection() *BodySection {
	keyword := p.advance() // body
	sec := &BodySection{}

	for {
		switch p.cur().Kind {
		case TokStep:
			if step := p.parseStep(); step != nil {
				sec.Steps = append(sec.Steps, step)
			}

		case TokEnd:
			endTok := p.advance()
			sec.SrcSpan = keyword.Span.Merge(endTok.Span)

			return sec

		case TokEOF:
			p.errorf(ErrUnclosedBlock, keyword.Span, []string{"end"}, "body section is not closed")
			sec.SrcSpan = keyword.Span

			return sec

		default:
			tok := p.cur()
			p.errorf(ErrUnexpectedToken, tok.Span, []string{"step", "end"}, "found %q", p.text(tok))
			p.recover()
		}
	}
}

func (p *parser) parseEffectsSection() *EffectsSection {
	keyword := p.advance() // effects
	sec := &EffectsSection{}

	for p.at(TokEffect) {
		p.advance()

		nameTok := p.cur()
		if nameTok.Kind == TokIdent || nameTok.Kind.IsKeyword() {
			p.advance()
			sec.Effects = append(sec.Effects, p.text(nameTok))
		} else {
			p.errorf(ErrUnexpectedToken, nameTok.Span, []string{"Ident"}, "effect needs a name")
			p.advance()
		}
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseRequiresSection() *RequiresSection {
	keyword := p.advance() // requires
	sec := &RequiresSection{}

	for p.at(TokReq) {
		if req := p.parseRequirement(); req != nil {
			sec.Requirements = append(sec.Requirements, req)
		}
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseRequirement() *Requirement {
	keyword := p.advance() // req
	req := &Requirement{SrcSpan: keyword.Span}

	for p.atAttr("id") {
		_, val, ok := p.parseStringAttr()
		if ok {
			req.ID = val
		}
	}

	if req.ID == "" {
		p.errorf(ErrMissingAttribute, keyword.Span, nil, "req requires an id attribute")
		p.recover()

		return nil
	}

	for {
		switch p.cur().Kind {
		case TokText:
			p.advance()

			if strTok, ok := p.expect(TokString); ok {
				text := decodeString(p.text(strTok))
				req.Text = &text
			}

		case TokPriority:
			p.advance()
			valTok := p.advance()

			if priority, ok := ParsePriority(p.text(valTok)); ok {
				req.Priority = &priority
			} else {
				p.errorf(ErrUnexpectedToken, valTok.Span,
					[]string{"critical", "high", "medium", "low"}, "unknown priority %q", p.text(valTok))
			}

		case TokStatus:
			p.advance()
			valTok := p.advance()

			if status, ok := ParseReqStatus(p.text(valTok)); ok {
				req.Status = &status
			} else {
				p.errorf(ErrUnexpectedToken, valTok.Span,
					[]string{"draft", "approved", "implemented", "tested"}, "unknown status %q", p.text(valTok))
			}

		case TokEnd:
			endTok := p.advance()
			req.SrcSpan = req.SrcSpan.Merge(endTok.Span)

			return req

		default:
			tok := p.cur()
			p.errorf(ErrUnexpectedToken, tok.Span, []string{"text", "priority", "status", "end"}, "found %q", p.text(tok))
			p.recover()

			return req
		}
	}
}

func (p *parser) parseTestsSection() *TestsSection {
	keyword := p.advance() // tests
	sec := &TestsSection{}

	for p.at(TokTest) {
		testKeyword := p.advance()
		decl := &TestDecl{Kind: TestUnit, SrcSpan: testKeyword.Span}

		for p.isAttrKey() {
			keyTok := p.cur()
			key, val, ok := p.parseStringAttr()

			if !ok {
				continue
			}

			switch key {
			case "id":
				decl.ID = val
			case "kind":
				kind := TestKind(val)
				if !kind.IsValid() {
					p.errorf(ErrUnexpectedToken, keyTok.Span,
						[]string{"unit", "integration", "golden", "property"}, "unknown test kind %q", val)
				} else {
					decl.Kind = kind
				}
			case "covers":
				for _, part := range strings.Split(val, ",") {
					if trimmed := strings.TrimSpace(part); trimmed != "" {
						decl.Covers = append(decl.Covers, trimmed)
					}
				}
			default:
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown test attribute %q", key)
			}
		}

		endTok, _ := p.expect(TokEnd)
		decl.SrcSpan = decl.SrcSpan.Merge(endTok.Span)

		if decl.ID == "" {
			p.errorf(ErrMissingAttribute, testKeyword.Span, nil, "test requires an id attribute")
		} else {
			sec.Tests = append(sec.Tests, decl)
		}
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseRelationsSection() *RelationsSection {
	keyword := p.advance() // relations
	sec := &RelationsSection{}

	for p.at(TokRel) {
		relKeyword := p.advance()
		rel := &Relation{SrcSpan: relKeyword.Span}

		for p.isAttrKey() {
			keyTok := p.advance()
			p.advance() // =
			valTok := p.cur()

			switch p.text(keyTok) {
			case "to":
				if valTok.Kind == TokString {
					rel.To = decodeString(p.text(valTok))
				} else {
					p.errorf(ErrUnexpectedToken, valTok.Span, []string{"String"}, "rel to needs a string value")
				}

				p.advance()
			case "type":
				// Relation types are bare words (type=contains).
				rel.Type = p.text(valTok)
				p.advance()
			default:
				p.errorf(ErrUnknownAttribute, keyTok.Span, nil, "unknown rel attribute %q", p.text(keyTok))
				p.advance()
			}
		}

		if rel.To == "" || rel.Type == "" {
			p.errorf(ErrMissingAttribute, relKeyword.Span, nil, "rel requires to and type attributes")
		} else {
			sec.Relations = append(sec.Relations, rel)
		}
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseMetadataSection() *MetadataSection {
	keyword := p.advance() // metadata
	sec := &MetadataSection{}

	for p.isAttrKey() {
		keyTok := p.cur()

		key, val, ok := p.parseStringAttr()
		if ok {
			sec.Entries = append(sec.Entries, MetadataEntry{Key: key, Value: val, SrcSpan: keyTok.Span})
		}
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

func (p *parser) parseContentSection() *ContentSection {
	keyword := p.advance() // content
	sec := &ContentSection{}

	tok := p.cur()

	switch tok.Kind {
	case TokTripleString:
		p.advance()
		sec.Text = decodeTripleString(p.text(tok))
	case TokString:
		p.advance()
		sec.Text = decodeString(p.text(tok))
	default:
		p.errorf(ErrUnexpectedToken, tok.Span, []string{"TripleString", "String"}, "content needs a string body")
		p.recover()

		return nil
	}

	endTok, _ := p.expect(TokEnd)
	sec.SrcSpan = keyword.Span.Merge(endTok.Span)

	return sec
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

func (p *parser) parseStep() *Step {
	keyword := p.advance() // step

	var id, kindStr string

	for p.atAttr("id", "kind") {
		key, val, ok := p.parseStringAttr()
		if !ok {
			continue
		}

		switch key {
		case "id":
			id = val
		case "kind":
			kindStr = val
		}
	}

	kind := StepKind(kindStr)

	switch kind {
	case StepBind, StepCompute, StepCall, StepIf, StepMatch, StepFor, StepQuery, StepReturn:
	default:
		p.errorf(ErrUnexpectedToken, keyword.Span, nil, "unknown step kind %q", kindStr)
		p.recover()

		return nil
	}

	step := &Step{ID: id, Kind: kind, SrcSpan: keyword.Span}

	if kind == StepQuery {
		step.Query = &QuerySpec{SrcSpan: keyword.Span}
	}

	for {
		tok := p.cur()

		switch tok.Kind {
		case TokEnd:
			endTok := p.advance()
			step.SrcSpan = step.SrcSpan.Merge(endTok.Span)

			return step

		case TokEOF:
			p.errorf(ErrUnclosedBlock, keyword.Span, []string{"end"}, "step %q is not closed", id)

			return nil

		default:
			if !p.parseStepElement(step) {
				return step
			}
		}
	}
}

// parseStepElement parses one element inside a step block. Returns false
// when the caller should stop (after recovery consumed the step's end).
func (p *parser) parseStepElement(step *Step) bool {
	tok := p.cur()

	switch tok.Kind {
	case TokOp:
		p.advance()
		p.expect(TokEq)

		opTok := p.cur()
		if opTok.Kind == TokIdent || opTok.Kind.IsKeyword() {
			p.advance()
			step.Op = p.text(opTok)
		} else {
			p.errorf(ErrUnexpectedToken, opTok.Span, []string{"Ident"}, "op needs an operator name")
			p.advance()
		}

	case TokInput:
		p.advance()

		if input := p.parseInput(); input != nil {
			step.Inputs = append(step.Inputs, input)
		}

	case TokAs:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.Out = decodeString(p.text(strTok))
		}

	case TokFrom:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			if step.Query != nil {
				step.Query.From = decodeString(p.text(strTok))
			} else {
				step.From = decodeString(p.text(strTok))
			}
		}

	case TokLit:
		p.advance()
		p.expect(TokEq)
		step.Lit = p.parseLiteral()

	case TokFn:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.Fn = decodeString(p.text(strTok))
		}

	case TokArg:
		p.advance()

		if arg := p.parseCallArg(); arg != nil {
			step.Args = append(step.Args, arg)
		}

	case TokCondition:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.Condition = decodeString(p.text(strTok))
		}

	case TokThen:
		p.advance()
		step.Then = p.parseStepList()

	case TokElse:
		p.advance()
		step.Else = p.parseStepList()

	case TokOn:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.On = decodeString(p.text(strTok))
		}

	case TokCase:
		if matchCase := p.parseMatchCase(); matchCase != nil {
			step.Cases = append(step.Cases, matchCase)
		}

	case TokVar:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.Var = decodeString(p.text(strTok))
		}

	case TokIn:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			step.In = decodeString(p.text(strTok))
		}

	case TokStep:
		// Nested steps form the body of a for loop.
		if nested := p.parseStep(); nested != nil {
			step.Body = append(step.Body, nested)
		}

	case TokTarget, TokSelect, TokWhere, TokOrder, TokLimit, TokDialect, TokBody, TokParams, TokReturns:
		if step.Query == nil {
			p.errorf(ErrUnknownAttribute, tok.Span, nil, "%q is only valid in query steps", p.text(tok))
			p.recover()

			return false
		}

		p.parseQueryElement(step.Query)

	default:
		p.errorf(ErrUnknownAttribute, tok.Span, nil, "unexpected %q in step", p.text(tok))
		p.recover()

		return false
	}

	return true
}

// parseStepList parses steps until the block's own `end` is consumed.
func (p *parser) parseStepList() []*Step {
	var steps []*Step

	for {
		switch p.cur().Kind {
		case TokStep:
			if step := p.parseStep(); step != nil {
				steps = append(steps, step)
			}

		case TokEnd:
			p.advance()

			return steps

		case TokEOF:
			p.errorf(ErrUnexpectedEOF, p.cur().Span, []string{"step", "end"}, "unterminated step block")

			return steps

		default:
			tok := p.cur()
			p.errorf(ErrUnexpectedToken, tok.Span, []string{"step", "end"}, "found %q", p.text(tok))
			p.recover()

			return steps
		}
	}
}

func (p *parser) parseInput() *Input {
	tok := p.cur()

	switch tok.Kind {
	case TokVar:
		p.advance()
		p.expect(TokEq)

		strTok, ok := p.expect(TokString)
		if !ok {
			return nil
		}

		return &Input{Var: decodeString(p.text(strTok)), SrcSpan: tok.Span.Merge(strTok.Span)}

	case TokLit:
		p.advance()
		p.expect(TokEq)

		lit := p.parseLiteral()
		if lit == nil {
			return nil
		}

		return &Input{Lit: lit, SrcSpan: tok.Span.Merge(lit.SrcSpan)}

	default:
		p.errorf(ErrUnexpectedToken, tok.Span, []string{"var", "lit"}, "found %q", p.text(tok))
		p.advance()

		return nil
	}
}

func (p *parser) parseCallArg() *CallArg {
	arg := &CallArg{SrcSpan: p.cur().Span}

	for {
		tok := p.cur()

		switch tok.Kind {
		case TokName:
			p.advance()
			p.expect(TokEq)

			if strTok, ok := p.expect(TokString); ok {
				arg.Name = decodeString(p.text(strTok))
			}

		case TokFrom:
			p.advance()
			p.expect(TokEq)

			if strTok, ok := p.expect(TokString); ok {
				arg.From = decodeString(p.text(strTok))
			}

		case TokLit:
			p.advance()
			p.expect(TokEq)
			arg.Lit = p.parseLiteral()

		default:
			if arg.Name == "" {
				p.errorf(ErrMissingAttribute, arg.SrcSpan, nil, "arg requires a name attribute")

				return nil
			}

			return arg
		}
	}
}

func (p *parser) parseMatchCase() *MatchCase {
	keyword := p.advance() // case
	matchCase := &MatchCase{SrcSpan: keyword.Span}

	switch p.cur().Kind {
	case TokWildcard:
		p.advance()
		matchCase.Wildcard = true

	case TokVariant:
		p.advance()

		for {
			tok := p.cur()

			if tok.Kind == TokType && p.nextIs(TokEq) {
				p.advance()
				p.advance()

				if strTok, ok := p.expect(TokString); ok {
					matchCase.Variant = decodeString(p.text(strTok))
				}

				continue
			}

			if tok.Kind == TokBindings {
				p.advance()
				p.expect(TokEq)
				p.expect(TokLParen)

				for p.at(TokString) {
					strTok := p.advance()
					matchCase.Bindings = append(matchCase.Bindings, decodeString(p.text(strTok)))

					if p.at(TokComma) {
						p.advance()
					}
				}

				p.expect(TokRParen)

				continue
			}

			break
		}

		if matchCase.Variant == "" {
			p.errorf(ErrMissingAttribute, keyword.Span, nil, "variant case requires a type attribute")
			p.recover()

			return nil
		}

	default:
		tok := p.cur()
		p.errorf(ErrUnexpectedToken, tok.Span, []string{"variant", "wildcard"}, "found %q", p.text(tok))
		p.recover()

		return nil
	}

	matchCase.Steps = p.parseStepList()

	return matchCase
}

// parseQueryElement parses one query-specific clause.
func (p *parser) parseQueryElement(query *QuerySpec) {
	tok := p.cur()

	switch tok.Kind {
	case TokTarget:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			query.Target = decodeString(p.text(strTok))
		}

	case TokDialect:
		p.advance()
		p.expect(TokEq)

		if strTok, ok := p.expect(TokString); ok {
			query.Dialect = decodeString(p.text(strTok))
		}

	case TokSelect:
		p.advance()

		if p.at(TokAll) {
			p.advance()
			query.SelectAll = true

			return
		}

		if strTok, ok := p.expect(TokString); ok {
			for _, part := range strings.Split(decodeString(p.text(strTok)), ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					query.Select = append(query.Select, trimmed)
				}
			}
		}

	case TokWhere:
		p.advance()

		for !p.at(TokEnd) && !p.at(TokEOF) {
			if cond := p.parseQueryCond(); cond == nil {
				break
			} else {
				query.Where = append(query.Where, cond)
			}
		}

		p.expect(TokEnd)

	case TokOrder:
		p.advance()

		for p.atAttr("by", "dir") {
			key, val, ok := p.parseStringAttr()
			if !ok {
				continue
			}

			switch key {
			case "by":
				query.OrderBy = val
			case "dir":
				query.OrderDir = val
			}
		}

	case TokLimit:
		p.advance()
		p.expect(TokEq)

		if intTok, ok := p.expect(TokInt); ok {
			if n, err := strconv.ParseInt(p.text(intTok), 10, 64); err == nil {
				query.Limit = &n
			}
		}

	case TokBody:
		bodyTok := p.advance()
		rawStart := p.cur().Span.Start

		for !p.at(TokEnd) && !p.at(TokEOF) {
			p.advance()
		}

		rawEnd := p.cur().Span.Start
		if rawEnd > rawStart {
			query.Body = strings.TrimSpace(p.source[rawStart:rawEnd])
		}

		if _, ok := p.expect(TokEnd); !ok {
			p.errorf(ErrUnclosedBlock, bodyTok.Span, []string{"end"}, "query body is not closed")
		}

	case TokParams:
		p.advance()

		for p.at(TokParam) {
			paramKeyword := p.advance()
			param := &QueryParam{SrcSpan: paramKeyword.Span}

			for p.isAttrKey() {
				key, val, ok := p.parseStringAttr()
				if !ok {
					continue
				}

				switch key {
				case "name":
					param.Name = val
				case "from":
					param.From = val
				}
			}

			query.Params = append(query.Params, param)
		}

		p.expect(TokEnd)

	case TokReturns:
		returnsTok := p.advance()
		returns := &QueryReturns{SrcSpan: returnsTok.Span}

		if p.at(TokCollection) {
			p.advance()
			returns.Collection = true

			if p.at(TokOf) && p.nextIs(TokEq) {
				p.advance()
				p.advance()

				if strTok, ok := p.expect(TokString); ok {
					returns.Of = decodeString(p.text(strTok))
				}
			}
		} else if p.at(TokType) && p.nextIs(TokEq) {
			keyTok := p.cur()
			p.advance()
			p.advance()

			if strTok, ok := p.expect(TokString); ok {
				returns.Type = p.parseTypeString(decodeString(p.text(strTok)), keyTok.Span)
			}
		}

		query.Returns = returns
	}
}

func (p *parser) parseQueryCond() *QueryCond {
	opTok := p.cur()

	if opTok.Kind != TokIdent && !opTok.Kind.IsKeyword() {
		p.errorf(ErrUnexpectedToken, opTok.Span, []string{"Ident"}, "where condition needs an operator")
		p.recover()

		return nil
	}

	p.advance()

	cond := &QueryCond{Op: p.text(opTok), SrcSpan: opTok.Span}

	for {
		tok := p.cur()

		switch {
		case tok.Kind == TokField && p.nextIs(TokEq):
			p.advance()
			p.advance()

			if strTok, ok := p.expect(TokString); ok {
				cond.Field = decodeString(p.text(strTok))
			}

		case tok.Kind == TokLit && p.nextIs(TokEq):
			p.advance()
			p.advance()
			cond.Value = p.parseLiteral()

		default:
			return cond
		}
	}
}

// parseLiteral materializes a literal from the current token. Negative
// numbers arrive as two tokens; the minus is folded here.
func (p *parser) parseLiteral() *Literal {
	tok := p.cur()
	negative := false

	if tok.Kind == TokMinus {
		negative = true
		p.advance()
		tok = p.cur()
	}

	switch tok.Kind {
	case TokInt:
		p.advance()

		value, err := strconv.ParseInt(p.text(tok), 10, 64)
		if err != nil {
			p.errorf(ErrUnexpectedToken, tok.Span, nil, "invalid integer literal %q", p.text(tok))

			return nil
		}

		if negative {
			value = -value
		}

		return &Literal{Kind: LitInt, Int: value, SrcSpan: tok.Span}

	case TokFloat:
		p.advance()

		value, err := strconv.ParseFloat(p.text(tok), 64)
		if err != nil {
			p.errorf(ErrUnexpectedToken, tok.Span, nil, "invalid float literal %q", p.text(tok))

			return nil
		}

		if negative {
			value = -value
		}

		return &Literal{Kind: LitFloat, Float: value, SrcSpan: tok.Span}

	case TokString:
		p.advance()

		return &Literal{Kind: LitString, Str: decodeString(p.text(tok)), SrcSpan: tok.Span}

	case TokTripleString:
		p.advance()

		return &Literal{Kind: LitString, Str: decodeTripleString(p.text(tok)), SrcSpan: tok.Span}

	case TokTrue:
		p.advance()

		return &Literal{Kind: LitBool, Bool: true, SrcSpan: tok.Span}

	case TokFalse:
		p.advance()

		return &Literal{Kind: LitBool, Bool: false, SrcSpan: tok.Span}

	case TokNone:
		p.advance()

		return &Literal{Kind: LitNone, SrcSpan: tok.Span}

	default:
		p.errorf(ErrUnexpectedToken, tok.Span,
			[]string{"Int", "Float", "String", "true", "false", "none"}, "found %q", p.text(tok))
		p.advance()

		return nil
	}
}

// ---------------------------------------------------------------------------
// Type expressions
// ---------------------------------------------------------------------------

// parseTypeString parses the contents of a type="…" attribute into a
// TypeExpr. The grammar covers named types with angle-bracket arguments,
// `?` optional suffixes, `|` unions, tuples, and function arrows.
func (p *parser) parseTypeString(text string, span Span) *TypeExpr {
	tp := &typeParser{input: text, span: span}

	typ := tp.parseUnion()
	if typ == nil || tp.err {
		p.errorf(ErrUnexpectedToken, span, nil, "invalid type expression %q", text)

		return &TypeExpr{Kind: TypeNamed, Name: text, SrcSpan: span}
	}

	return typ
}

// typeParser is a tiny parser over the text of a type attribute.
type typeParser struct {
	input string
	pos   int
	span  Span
	err   bool
}

func (t *typeParser) parseUnion() *TypeExpr {
	first := t.parseSingle()
	if first == nil {
		return nil
	}

	t.skipSpaces()

	if !t.atByte('|') {
		return first
	}

	union := &TypeExpr{Kind: TypeUnion, Args: []*TypeExpr{first}, SrcSpan: t.span}

	for t.atByte('|') {
		t.pos++

		member := t.parseSingle()
		if member == nil {
			return nil
		}

		union.Args = append(union.Args, member)
		t.skipSpaces()
	}

	return union
}

func (t *typeParser) parseSingle() *TypeExpr {
	typ := t.parsePrimary()
	if typ == nil {
		return nil
	}

	t.skipSpaces()

	for t.atByte('?') {
		t.pos++
		typ = &TypeExpr{Kind: TypeOptional, Args: []*TypeExpr{typ}, SrcSpan: t.span}
		t.skipSpaces()
	}

	return typ
}

func (t *typeParser) parsePrimary() *TypeExpr {
	t.skipSpaces()

	if t.atByte('(') {
		t.pos++

		var elems []*TypeExpr

		t.skipSpaces()

		for !t.atByte(')') {
			elem := t.parseUnion()
			if elem == nil {
				return nil
			}

			elems = append(elems, elem)
			t.skipSpaces()

			if t.atByte(',') {
				t.pos++
			}
		}

		t.pos++ // )
		t.skipSpaces()

		if strings.HasPrefix(t.input[t.pos:], "->") {
			t.pos += 2

			ret := t.parseSingle()
			if ret == nil {
				return nil
			}

			return &TypeExpr{Kind: TypeFunction, Args: elems, Ret: ret, SrcSpan: t.span}
		}

		return &TypeExpr{Kind: TypeTuple, Args: elems, SrcSpan: t.span}
	}

	name := t.parseName()
	if name == "" {
		t.err = true

		return nil
	}

	var args []*TypeExpr

	if t.atByte('<') {
		t.pos++

		for {
			arg := t.parseUnion()
			if arg == nil {
				return nil
			}

			args = append(args, arg)
			t.skipSpaces()

			if t.atByte(',') {
				t.pos++

				continue
			}

			break
		}

		if !t.atByte('>') {
			t.err = true

			return nil
		}

		t.pos++
	}

	switch {
	case name == "List" && len(args) == 1:
		return &TypeExpr{Kind: TypeList, Args: args, SrcSpan: t.span}
	case name == "Set" && len(args) == 1:
		return &TypeExpr{Kind: TypeSet, Args: args, SrcSpan: t.span}
	case (name == "Optional" || name == "Option") && len(args) == 1:
		return &TypeExpr{Kind: TypeOptional, Args: args, SrcSpan: t.span}
	case name == "Tuple":
		return &TypeExpr{Kind: TypeTuple, Args: args, SrcSpan: t.span}
	default:
		return &TypeExpr{Kind: TypeNamed, Name: name, Args: args, SrcSpan: t.span}
	}
}

func (t *typeParser) parseName() string {
	t.skipSpaces()
	start := t.pos

	for t.pos < len(t.input) {
		b := t.input[t.pos]
		if isIdentContinue(b) || b == '.' {
			t.pos++

			continue
		}

		break
	}

	return t.input[start:t.pos]
}

func (t *typeParser) skipSpaces() {
	for t.pos < len(t.input) && (t.input[t.pos] == ' ' || t.input[t.pos] == '\t') {
		t.pos++
	}
}

func (t *typeParser) atByte(b byte) bool {
	return t.pos < len(t.input) && t.input[t.pos] == b
}

// ---------------------------------------------------------------------------
// Legacy programs
// ---------------------------------------------------------------------------

// parseLegacyProgram handles the pre-snippet surface: brace-style structs
// and functions declared by signature shape (no `fn` keyword). Bodies are
// skipped with brace balancing; only names, kinds, and spans survive.
func (p *parser) parseLegacyProgram(full Span) *Program {
	program := &Program{Kind: ProgramLegacy, SrcSpan: full}

	for !p.at(TokEOF) {
		tok := p.cur()

		switch {
		case tok.Kind == TokStruct:
			if decl := p.parseLegacyStruct(); decl != nil {
				program.Declarations = append(program.Declarations, decl)
			}

		case tok.Kind == TokIdent && p.nextIs(TokLParen):
			if decl := p.parseLegacyFn(); decl != nil {
				program.Declarations = append(program.Declarations, decl)
			}

		default:
			p.errorf(ErrUnexpectedToken, tok.Span, []string{"struct", "Ident"}, "found %q", p.text(tok))
			p.advance()
		}
	}

	return program
}

func (p *parser) parseLegacyStruct() *Declaration {
	keyword := p.advance() // struct

	nameTok := p.cur()
	if nameTok.Kind != TokIdent {
		p.errorf(ErrUnexpectedToken, nameTok.Span, []string{"Ident"}, "struct needs a name")
		p.advance()

		return nil
	}

	p.advance()

	if _, ok := p.expect(TokLBrace); !ok {
		return nil
	}

	endSpan := p.skipBraces()

	return &Declaration{
		Name:    p.text(nameTok),
		Kind:    DeclStruct,
		SrcSpan: keyword.Span.Merge(endSpan),
	}
}

func (p *parser) parseLegacyFn() *Declaration {
	nameTok := p.advance()
	p.advance() // (

	depth := 1

	for depth > 0 && !p.at(TokEOF) {
		switch p.cur().Kind {
		case TokLParen:
			depth++
		case TokRParen:
			depth--
		}

		p.advance()
	}

	// Skip return arrow and import clauses up to the body brace.
	for !p.at(TokLBrace) && !p.at(TokEOF) {
		if p.at(TokImport) {
			p.advance()

			if p.at(TokLBrace) {
				p.advance()
				p.skipBraces()
			}

			continue
		}

		p.advance()
	}

	if p.at(TokEOF) {
		p.errorf(ErrUnexpectedEOF, p.cur().Span, []string{"{"}, "function %q has no body", p.text(nameTok))

		return nil
	}

	p.advance() // {
	endSpan := p.skipBraces()

	return &Declaration{
		Name:    p.text(nameTok),
		Kind:    DeclFn,
		SrcSpan: nameTok.Span.Merge(endSpan),
	}
}

// skipBraces consumes a brace-balanced region whose opening brace has
// already been consumed and returns the span of the closing brace.
func (p *parser) skipBraces() Span {
	depth := 1

	for !p.at(TokEOF) {
		tok := p.advance()

		switch tok.Kind {
		case TokLBrace:
			depth++
		case TokRBrace:
			depth--

			if depth == 0 {
				return tok.Span
			}
		}
	}

	p.errorf(ErrUnclosedBlock, p.cur().Span, []string{"}"}, "unbalanced braces")

	return p.cur().Span
}

// ---------------------------------------------------------------------------
// String decoding
// ---------------------------------------------------------------------------

// decodeString strips the surrounding quotes and decodes the recognized
// escape sequences.
func decodeString(raw string) string {
	if len(raw) < 2 {
		return raw
	}

	s := raw[1 : len(raw)-1]
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])

			continue
		}

		i++

		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}

	return b.String()
}

// decodeTripleString strips the surrounding triple quotes, preserving all
// interior whitespace including newlines.
func decodeTripleString(raw string) string {
	if len(raw) < 6 {
		return raw
	}

	return raw[3 : len(raw)-3]
}
