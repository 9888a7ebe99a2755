// Package jsparse implements the "Parser & scope tracker" component of
// spec.md §4.1: it consumes JavaScript/TypeScript source text, produces a
// flat list of function nodes (declarations, function expressions, arrow
// expressions, default exports), and maintains the lexical scope chain
// needed by the collector (internal/collector) to resolve closure captures.
//
// It does not build a full ECMAScript AST. No example in the reference
// corpus ships a general-purpose, stable, externally-consumable JS/TS AST
// library (github.com/dop251/goja's parser/ast packages are an internal
// compiler detail of its own bytecode VM, not documented for third-party
// source rewriting), so this package is a deliberately narrow, hand-written
// scanner: balanced-brace function-boundary detection plus identifier
// tracking, which is exactly the surface spec.md §4.1 and §4.2 require.
package jsparse

import "strings"

// ImportSpec is one import statement found at the top of a source file.
type ImportSpec struct {
	Raw        string // verbatim source text of the import statement
	ModulePath string // the string literal module specifier
	TypeOnly   bool   // `import type { ... } from '...'`
}

// FunctionNode is one function found anywhere in the source: a candidate
// for the collector to inspect for the "use sandbox" directive.
type FunctionNode struct {
	Name    string // empty for anonymous default-export function expressions
	Scope   *Scope // the scope introduced by this function's own body
	IsAsync bool

	ParamsSource string   // raw text between the outer parens, verbatim
	ParamNames   []string // best-effort top-level parameter identifiers

	HeaderStart int // byte offset of the first token of the declaration
	BodyStart   int // byte offset of the opening '{'
	BodyEnd     int // byte offset one past the matching closing '}'
	DeclEnd     int // byte offset one past the whole declaration/expression

	TopLevel        bool
	Exported        bool
	DefaultExported bool
	VarBound        bool // true if this is `const/let/var NAME = function/arrow ...`
}

// Program is the result of parsing one source file.
type Program struct {
	Source    string
	Filename  string
	Imports   []ImportSpec
	Functions []*FunctionNode
	FileScope *Scope
}

// Parse tokenizes and walks src, returning every function node found and
// the scope chain in effect at each one.
func Parse(filename, src string) (*Program, error) {
	p := &parser{toks: lex(src), src: src}
	prog := &Program{Source: src, Filename: filename, FileScope: newScope(nil, "")}
	p.scope = prog.FileScope
	p.walkStatements(prog, len(p.toks), true)
	return prog, nil
}

type parser struct {
	toks  []token
	src   string
	pos   int
	scope *Scope
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(off int) token {
	i := p.pos + off
	if i >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[i]
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return (t.kind == tokPunct || t.kind == tokKeyword) && t.text == text
}

// walkStatements advances p.pos through statements until it reaches a `}`
// at the caller's nesting level or runs out of tokens (end exclusive index
// into p.toks, used for imports at top level). topLevel controls whether
// function declarations are marked TopLevel.
func (p *parser) walkStatements(prog *Program, end int, topLevel bool) {
	for p.pos < end && p.peek().kind != tokEOF {
		if p.is("}") {
			return
		}
		p.statement(prog, topLevel)
	}
}

func (p *parser) statement(prog *Program, topLevel bool) {
	t := p.peek()

	switch {
	case topLevel && t.kind == tokKeyword && t.text == "import":
		p.importStatement(prog)
		return

	case t.kind == tokKeyword && t.text == "export":
		p.exportStatement(prog, topLevel)
		return

	case t.kind == tokKeyword && t.text == "async" && p.peekAt(1).text == "function":
		p.functionDeclaration(prog, topLevel, false, false)
		return

	case t.kind == tokKeyword && t.text == "function":
		p.functionDeclaration(prog, topLevel, false, false)
		return

	case t.kind == tokKeyword && (t.text == "const" || t.text == "let" || t.text == "var"):
		p.variableDeclaration(prog, topLevel)
		return

	case t.text == "{":
		start := p.pos
		end := p.matchBrace(start)
		p.pos++
		p.scope = newScope(p.scope, "")
		p.walkStatements(prog, end, false)
		p.scope = p.scope.parent
		p.pos = end + 1
		return

	case t.kind == tokKeyword && (t.text == "if" || t.text == "for" || t.text == "while" || t.text == "switch" || t.text == "catch"):
		p.pos++ // keyword
		if p.is("(") {
			closeIdx := p.matchParen(p.pos)
			p.pos = closeIdx + 1
		}
		p.statement(prog, false)
		if t.text == "if" && p.is("else") {
			p.pos++
			p.statement(prog, false)
		}
		return

	case t.kind == tokKeyword && (t.text == "do" || t.text == "try" || t.text == "finally" || t.text == "else"):
		p.pos++
		p.statement(prog, false)
		return

	default:
		// Still recurse into any nested function expressions appearing as
		// part of an ordinary expression statement (e.g. an IIFE or a
		// callback argument), without modelling the surrounding expression.
		p.scanStatementForFunctionExpressions(prog)
	}
}

// scanStatementForFunctionExpressions balances one statement's tokens while
// still dispatching into any (async) function/arrow literal it contains, so
// that annotated functions passed as callback arguments or invoked
// immediately are still discovered. Declarations made by such nested
// literals land in the current scope's descendant chain as usual.
func (p *parser) scanStatementForFunctionExpressions(prog *Program) {
	depth := 0
	for p.pos < len(p.toks) {
		t := p.peek()
		if t.kind == tokEOF {
			return
		}
		if depth == 0 && t.text == ";" {
			p.pos++
			return
		}
		if depth == 0 && t.text == "}" {
			return
		}

		if (t.text == "async" && p.peekAt(1).text == "function") || t.text == "function" {
			p.parseInlineFunctionExpression(prog)
			continue
		}
		if (t.text == "async" && isArrowAhead(p.toks, p.pos+1)) || isArrowAhead(p.toks, p.pos) {
			p.maybeFunctionExpression(prog, "", p.pos, false, false, false)
			continue
		}

		switch t.text {
		case "{", "(", "[":
			depth++
		case "}", ")", "]":
			depth--
		}
		p.pos++
	}
}

func (p *parser) importStatement(prog *Program) {
	start := p.pos
	typeOnly := p.peekAt(1).text == "type"
	for p.pos < len(p.toks) && !p.is(";") && p.peek().kind != tokEOF {
		if p.peek().kind == tokTemplate {
			p.pos++
			continue
		}
		p.pos++
	}
	raw := p.src[p.toks[start].pos:min(p.peek().end, len(p.src))]
	var modPath string
	for i := start; i < p.pos; i++ {
		if p.toks[i].kind == tokString {
			modPath = unquote(p.toks[i].text)
		}
	}
	if p.is(";") {
		p.pos++
	}
	prog.Imports = append(prog.Imports, ImportSpec{Raw: strings.TrimSpace(raw), ModulePath: modPath, TypeOnly: typeOnly})
}

func (p *parser) exportStatement(prog *Program, topLevel bool) {
	headerStart := p.pos
	p.pos++ // consume 'export'
	isDefault := false
	if p.is("default") {
		isDefault = true
		p.pos++
	}

	if p.peek().text == "async" && p.peekAt(1).text == "function" {
		p.functionDeclaration(prog, topLevel, true, isDefault)
		return
	}
	if p.peek().text == "function" {
		p.functionDeclaration(prog, topLevel, true, isDefault)
		return
	}
	if isDefault {
		// `export default <expr>;` where expr might be an anonymous async
		// function/arrow, or an identifier referring to one declared above.
		if p.peek().text == "async" && p.peekAt(1).text == "(" || isArrowAhead(p.toks, p.pos) {
			p.maybeFunctionExpression(prog, "", p.pos, topLevel, true, true)
			return
		}
	}
	if p.peek().kind == tokKeyword && (p.peek().text == "const" || p.peek().text == "let" || p.peek().text == "var") {
		p.variableDeclaration(prog, topLevel)
		return
	}
	p.pos = headerStart
	p.skipStatement()
}

// functionDeclaration parses `[async] function NAME(params) { body }`.
func (p *parser) functionDeclaration(prog *Program, topLevel, exported, isDefault bool) {
	headerStart := p.pos
	if exported {
		// exportStatement has already consumed `export` (and `default`);
		// the declaration's first token is the `export` keyword.
		headerStart--
		if isDefault {
			headerStart--
		}
	}
	isAsync := false
	if p.peek().text == "async" {
		isAsync = true
		p.pos++
	}
	p.pos++ // consume 'function'
	if p.is("*") {
		p.pos++ // generator marker, treated as ordinary function
	}
	name := ""
	if p.peek().kind == tokIdent {
		name = p.peek().text
		p.scope.declare(name)
		p.pos++
	}
	p.finishFunction(prog, name, headerStart, isAsync, topLevel, exported, isDefault, false)
}

// variableDeclaration parses `const/let/var NAME = ...;` and, if the
// initializer is a function/arrow expression, records it as a var-bound
// function node. Declares NAME in the current scope either way.
func (p *parser) variableDeclaration(prog *Program, topLevel bool) {
	p.pos++ // consume const/let/var
	for {
		if p.peek().kind != tokIdent {
			p.skipStatement()
			return
		}
		name := p.peek().text
		p.scope.declare(name)
		p.pos++

		if p.is("=") {
			p.pos++
			if (p.peek().text == "async" && p.peekAt(1).text == "function") || p.peek().text == "function" {
				p.funcExpressionAssignedTo(prog, name, topLevel)
			} else if p.peek().text == "async" && p.peekAt(1).text == "(" || isArrowAhead(p.toks, p.pos) {
				p.maybeFunctionExpression(prog, name, p.pos, topLevel, false, false)
			} else {
				p.skipExpressionUntilCommaOrSemi()
			}
		}

		if p.is(",") {
			p.pos++
			continue
		}
		break
	}
	if p.is(";") {
		p.pos++
	}
}

func (p *parser) funcExpressionAssignedTo(prog *Program, varName string, topLevel bool) {
	headerStart := p.pos
	isAsync := false
	if p.peek().text == "async" {
		isAsync = true
		p.pos++
	}
	p.pos++ // 'function'
	if p.is("*") {
		p.pos++
	}
	fnName := varName
	if p.peek().kind == tokIdent {
		fnName = p.peek().text
		p.pos++
	}
	p.finishFunction(prog, fnName, headerStart, isAsync, topLevel, false, false, true)
}

// maybeFunctionExpression parses an (optionally async) arrow function
// expression starting at headerStart: `[async] (params) => body` or
// `[async] ident => body`.
func (p *parser) maybeFunctionExpression(prog *Program, name string, headerStart int, topLevel, exported, isDefault bool) {
	p.pos = headerStart
	isAsync := false
	if p.peek().text == "async" {
		isAsync = true
		p.pos++
	}

	paramsStart := p.pos
	var paramsSrc string
	if p.is("(") {
		closeIdx := p.matchParen(p.pos)
		paramsSrc = p.src[p.toks[paramsStart].pos:p.toks[closeIdx].end]
		p.pos = closeIdx + 1
	} else if p.peek().kind == tokIdent {
		paramsSrc = p.peek().text
		p.pos++
	}
	if !p.is("=>") {
		// Not actually an arrow; bail out conservatively.
		p.skipExpressionUntilCommaOrSemi()
		return
	}
	p.pos++ // consume '=>'

	fn := &FunctionNode{
		Name:            name,
		IsAsync:         isAsync,
		ParamsSource:    paramsSrc,
		ParamNames:      splitParamNames(paramsSrc),
		HeaderStart:     p.toks[headerStart].pos,
		TopLevel:        topLevel,
		Exported:        exported,
		DefaultExported: isDefault,
		VarBound:        name != "",
	}

	if p.is("{") {
		bodyStart := p.pos
		bodyEndIdx := p.matchBrace(bodyStart)
		fn.BodyStart = p.toks[bodyStart].pos
		fn.BodyEnd = p.toks[bodyEndIdx].end
		fn.DeclEnd = fn.BodyEnd

		fn.Scope = newScope(p.scope, name)
		for _, pn := range fn.ParamNames {
			fn.Scope.declare(pn)
		}
		prog.Functions = append(prog.Functions, fn)

		outer := p.scope
		p.scope = fn.Scope
		p.pos = bodyStart + 1
		p.walkStatements(prog, bodyEndIdx, false)
		p.scope = outer
		p.pos = bodyEndIdx + 1
	} else {
		// Expression-bodied arrow: contributes no scope (spec.md §4.1) and
		// is never itself an annotated function (the directive requires a
		// block body whose first statement is a string literal).
		p.skipExpressionUntilCommaOrSemi()
		fn.DeclEnd = p.toks[min(p.pos, len(p.toks)-1)].pos
	}

	if p.is(";") {
		p.pos++
	}
}

// finishFunction parses the parameter list and block body shared by
// function declarations and function expressions, pushes a new scope, and
// recurses into the body.
func (p *parser) finishFunction(prog *Program, name string, headerStart int, isAsync, topLevel, exported, isDefault, isExpression bool) {
	paramsStart := p.pos
	var paramsSrc string
	if p.is("(") {
		closeIdx := p.matchParen(paramsStart)
		paramsSrc = p.src[p.toks[paramsStart].pos:p.toks[closeIdx].end]
		p.pos = closeIdx + 1
	}

	fn := &FunctionNode{
		Name:            name,
		IsAsync:         isAsync,
		ParamsSource:    paramsSrc,
		ParamNames:      splitParamNames(paramsSrc),
		HeaderStart:     p.toks[headerStart].pos,
		TopLevel:        topLevel && !isExpression,
		Exported:        exported,
		DefaultExported: isDefault,
	}

	if !p.is("{") {
		p.skipStatement()
		return
	}
	bodyStart := p.pos
	bodyEndIdx := p.matchBrace(bodyStart)
	fn.BodyStart = p.toks[bodyStart].pos
	fn.BodyEnd = p.toks[bodyEndIdx].end
	fn.DeclEnd = fn.BodyEnd

	fn.Scope = newScope(p.scope, name)
	for _, pn := range fn.ParamNames {
		fn.Scope.declare(pn)
	}
	prog.Functions = append(prog.Functions, fn)

	outer := p.scope
	p.scope = fn.Scope
	p.pos = bodyStart + 1
	p.walkStatements(prog, bodyEndIdx, false)
	p.scope = outer
	p.pos = bodyEndIdx + 1
}

// parseInlineFunctionExpression consumes `[async] function [NAME] (params)
// { body }` appearing inline inside an expression (IIFE, callback
// argument), e.g. `setTimeout(async function tick() { "use sandbox"; ... },
// 0)`.
func (p *parser) parseInlineFunctionExpression(prog *Program) {
	headerStart := p.pos
	isAsync := false
	if p.peek().text == "async" {
		isAsync = true
		p.pos++
	}
	p.pos++ // 'function'
	if p.is("*") {
		p.pos++
	}
	name := ""
	if p.peek().kind == tokIdent {
		name = p.peek().text
		p.pos++
	}
	p.finishFunction(prog, name, headerStart, isAsync, false, false, false, true)
}

// --- low-level helpers ---

func (p *parser) matchBrace(openIdx int) int { return p.matchPunctPair(openIdx, "{", "}") }
func (p *parser) matchParen(openIdx int) int { return p.matchPunctPair(openIdx, "(", ")") }

func (p *parser) matchPunctPair(openIdx int, open, close string) int {
	depth := 0
	for i := openIdx; i < len(p.toks); i++ {
		switch p.toks[i].text {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(p.toks) - 1
}

// skipStatement advances past tokens until a statement-ending `;` or a
// balanced `{...}` block, used for constructs this package does not model
// in detail. It only tracks bracket depth: function literals inside the
// skipped tokens are not recorded and their declarations are not scoped.
func (p *parser) skipStatement() {
	depth := 0
	for p.pos < len(p.toks) {
		t := p.peek()
		switch t.text {
		case "{", "(", "[":
			depth++
		case "}", ")", "]":
			if depth == 0 && t.text == "}" {
				return
			}
			depth--
		case ";":
			if depth == 0 {
				p.pos++
				return
			}
		}
		if t.kind == tokEOF {
			return
		}
		p.pos++
	}
}

func (p *parser) skipExpressionUntilCommaOrSemi() {
	depth := 0
	for p.pos < len(p.toks) {
		t := p.peek()
		if depth == 0 && (t.text == ";" || t.text == ",") {
			return
		}
		switch t.text {
		case "{", "(", "[":
			depth++
		case "}", ")", "]":
			if depth == 0 {
				return
			}
			depth--
		}
		if t.kind == tokEOF {
			return
		}
		p.pos++
	}
}

// isArrowAhead scans forward from idx to see whether a `(...)` group (or a
// bare identifier) is followed by `=>`, without consuming tokens.
func isArrowAhead(toks []token, idx int) bool {
	if idx >= len(toks) {
		return false
	}
	if toks[idx].kind == tokIdent {
		return idx+1 < len(toks) && toks[idx+1].text == "=>"
	}
	if toks[idx].text != "(" {
		return false
	}
	depth := 0
	for i := idx; i < len(toks); i++ {
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i+1 < len(toks) && toks[i+1].text == "=>"
			}
		}
	}
	return false
}

// splitParamNames extracts top-level parameter identifiers from raw
// parameter-list source, best-effort: destructured and defaulted
// parameters are preserved in ParamsSource verbatim but contribute their
// outer bound name(s) here for declare() purposes (spec.md boundary
// behaviour: "destructured and defaulted parameters are preserved
// verbatim").
func splitParamNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := splitTopLevel(raw, ',')
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.Index(part, "="); eq >= 0 {
			part = strings.TrimSpace(part[:eq])
		}
		name := firstIdentifier(part)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// (), [], {}.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func firstIdentifier(s string) string {
	s = strings.TrimLeft(s, "{[...")
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && isIdentPart(s[i]) {
		i++
	}
	return s[:i]
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}
