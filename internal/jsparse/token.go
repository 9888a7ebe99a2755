package jsparse

import "strings"

// tokenKind classifies a lexical token. The lexer is intentionally shallow:
// it knows enough ECMAScript grammar to find function boundaries, balanced
// braces/parens/brackets, identifiers, and string literals, but it does not
// build a full expression AST. That is sufficient for everything the
// collector and generator need (spec.md §4.1: "Parser & scope tracker").
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokTemplate
	tokNumber
	tokPunct
	tokRegex
)

type token struct {
	kind tokenKind
	text string // raw source text, including quotes for strings
	pos  int    // byte offset of first rune
	end  int    // byte offset one past the last rune
}

var keywords = map[string]bool{
	"async": true, "function": true, "const": true, "let": true, "var": true,
	"return": true, "if": true, "else": true, "for": true, "while": true,
	"do": true, "switch": true, "case": true, "default": true, "break": true,
	"continue": true, "try": true, "catch": true, "finally": true, "throw": true,
	"new": true, "delete": true, "typeof": true, "instanceof": true, "in": true,
	"of": true, "this": true, "super": true, "class": true, "extends": true,
	"import": true, "export": true, "from": true, "as": true, "yield": true,
	"await": true, "static": true, "get": true, "set": true, "null": true,
	"true": true, "false": true, "void": true,
}

// lexer turns source text into a flat token stream. Comments are dropped.
type lexer struct {
	src    string
	tokens []token
}

func lex(src string) []token {
	l := &lexer{src: src}
	l.run()
	return l.tokens
}

func isIdentStart(r byte) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r >= 0x80
}

func isIdentPart(r byte) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isDigit(r byte) bool { return r >= '0' && r <= '9' }

func (l *lexer) run() {
	src := l.src
	i := 0
	n := len(src)
	// prevSignificant tracks the last non-trivial token to disambiguate `/`
	// as division vs. the start of a regex literal.
	var prevSignificant *token

	for i < n {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
			continue

		case c == '/' && i+1 < n && src[i+1] == '/':
			j := i + 2
			for j < n && src[j] != '\n' {
				j++
			}
			i = j
			continue

		case c == '/' && i+1 < n && src[i+1] == '*':
			j := i + 2
			for j+1 < n && !(src[j] == '*' && src[j+1] == '/') {
				j++
			}
			i = j + 2
			continue

		case c == '"' || c == '\'':
			j := i + 1
			for j < n && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			j++ // consume closing quote
			t := token{kind: tokString, text: src[i:min(j, n)], pos: i, end: min(j, n)}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i = j
			continue

		case c == '`':
			// Template literals are treated as one opaque token; nested
			// ${...} expressions are not parsed into the scope tree. This
			// is a deliberate approximation (see SPEC_FULL.md §9, open
			// question (b), on dynamic/opaque constructs).
			j := i + 1
			depth := 0
			for j < n {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == '`' && depth == 0 {
					j++
					break
				}
				if src[j] == '$' && j+1 < n && src[j+1] == '{' {
					depth++
					j += 2
					continue
				}
				if src[j] == '}' && depth > 0 {
					depth--
				}
				j++
			}
			t := token{kind: tokTemplate, text: src[i:min(j, n)], pos: i, end: min(j, n)}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i = j
			continue

		case c == '/' && regexAllowedAfter(prevSignificant):
			j := i + 1
			inClass := false
			for j < n {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == '[' {
					inClass = true
				} else if src[j] == ']' {
					inClass = false
				} else if src[j] == '/' && !inClass {
					j++
					break
				}
				j++
			}
			for j < n && isIdentPart(src[j]) { // flags
				j++
			}
			t := token{kind: tokRegex, text: src[i:min(j, n)], pos: i, end: min(j, n)}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i = j
			continue

		case isDigit(c):
			j := i + 1
			for j < n && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			t := token{kind: tokNumber, text: src[i:j], pos: i, end: j}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i = j
			continue

		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			kind := tokIdent
			if keywords[word] {
				kind = tokKeyword
			}
			t := token{kind: kind, text: word, pos: i, end: j}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i = j
			continue

		default:
			// multi-char punctuators handled greedily
			punct := matchPunct(src[i:])
			t := token{kind: tokPunct, text: punct, pos: i, end: i + len(punct)}
			l.tokens = append(l.tokens, t)
			prevSignificant = &l.tokens[len(l.tokens)-1]
			i += len(punct)
		}
	}
}

var multiCharPuncts = []string{
	"...", "=>", "===", "!==", "**=", "?.", "??=", "&&=", "||=",
	"==", "!=", "<=", ">=", "&&", "||", "??", "**", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<", ">>",
}

func matchPunct(rest string) string {
	for _, p := range multiCharPuncts {
		if strings.HasPrefix(rest, p) {
			return p
		}
	}
	return rest[:1]
}

// regexAllowedAfter reports whether, given the previous significant token, a
// `/` at the current position should be lexed as the start of a regex
// literal rather than a division operator.
func regexAllowedAfter(prev *token) bool {
	if prev == nil {
		return true
	}
	switch prev.kind {
	case tokIdent, tokNumber, tokString, tokTemplate, tokRegex:
		return false
	case tokKeyword:
		switch prev.text {
		case "this", "super", "true", "false", "null":
			return false
		}
		return true
	case tokPunct:
		switch prev.text {
		case ")", "]", "}":
			return false
		}
		return true
	}
	return true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
