package jsparse

import "strings"

// DirectiveLiteral is the exact string the spec requires as the directive.
const DirectiveLiteral = "use sandbox"

// HasSandboxDirective reports whether fn's body begins with an expression
// statement whose sole expression is the string literal "use sandbox"
// (spec.md §6, "Directive surface"). Any other placement is ignored.
func (fn *FunctionNode) HasSandboxDirective(src string) bool {
	if fn.BodyStart >= fn.BodyEnd || fn.BodyStart >= len(src) {
		return false
	}
	inner := src[fn.BodyStart+1 : fn.BodyEnd-1]
	toks := lex(inner)
	if len(toks) == 0 || toks[0].kind != tokString {
		return false
	}
	if unquote(toks[0].text) != DirectiveLiteral {
		return false
	}
	// The statement must end here: either a semicolon, ASI, or the token
	// is the only content before the next statement begins (we accept any
	// immediately following token since ASI makes an explicit semicolon
	// optional).
	return true
}

// BodyAfterDirective returns the body source with the outer braces and the
// leading directive statement (plus its terminating ';' if present)
// stripped, ready to become the generated module's function body.
func (fn *FunctionNode) BodyAfterDirective(src string) string {
	inner := src[fn.BodyStart+1 : fn.BodyEnd-1]
	toks := lex(inner)
	if len(toks) == 0 || toks[0].kind != tokString {
		return inner
	}
	cut := toks[0].end
	if len(toks) > 1 && toks[1].text == ";" {
		cut = toks[1].end
	}
	return inner[cut:]
}

// HeaderSource returns the verbatim source text from the start of the
// declaration up to (not including) the function body's opening brace,
// e.g. "export async function readFile(path)" or "async (x) =>".
func (fn *FunctionNode) HeaderSource(src string) string {
	return strings.TrimRight(src[fn.HeaderStart:fn.BodyStart], " \t\r\n")
}

// FullSource returns the verbatim source span of the entire declaration,
// from its first token to the end of its body (or expression, for
// non-block arrows — though those never carry the directive).
func (fn *FunctionNode) FullSource(src string) string {
	return src[fn.HeaderStart:fn.DeclEnd]
}
