package jsparse

// LocallyDeclaredNames returns every name bound anywhere within fn's body,
// at any nesting depth: its own parameters, every var/let/const binding
// (including destructured bindings, by their outer name), and the name and
// parameters of every function nested inside it (spec.md §4.2: "locally
// declared" is computed "recursively within the body").
func LocallyDeclaredNames(prog *Program, fn *FunctionNode) map[string]bool {
	declared := make(map[string]bool)
	for _, p := range fn.ParamNames {
		declared[p] = true
	}

	for _, other := range prog.Functions {
		if other == fn {
			continue
		}
		if other.HeaderStart < fn.BodyStart || other.DeclEnd > fn.BodyEnd {
			continue
		}
		if other.Name != "" {
			declared[other.Name] = true
		}
		for _, p := range other.ParamNames {
			declared[p] = true
		}
	}

	body := prog.Source[fn.BodyStart:fn.BodyEnd]
	toks := lex(body)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokKeyword || (t.text != "const" && t.text != "let" && t.text != "var") {
			continue
		}
		j := i + 1
		depth := 0
		start := j
		for j < len(toks) {
			tt := toks[j]
			if depth == 0 && (tt.text == ";" || tt.text == "}") {
				break
			}
			switch tt.text {
			case "{", "(", "[":
				depth++
			case "}", ")", "]":
				depth--
			}
			if depth == 0 && tt.text == "," {
				for _, n := range bindingNames(toks[start:j]) {
					declared[n] = true
				}
				start = j + 1
			}
			j++
		}
		for _, n := range bindingNames(toks[start:min(j, len(toks))]) {
			declared[n] = true
		}
		i = j
	}
	return declared
}

// bindingNames extracts the bound identifier name(s) from one comma-separated
// binding clause's tokens, stopping at a top-level '=' (initializer) and
// unwrapping simple destructuring patterns by taking every identifier that
// is not itself a nested property key.
func bindingNames(toks []token) []string {
	var names []string
	depth := 0
	for i, t := range toks {
		switch t.text {
		case "{", "[":
			depth++
			continue
		case "}", "]":
			depth--
			continue
		case "=":
			if depth == 0 {
				return names
			}
			continue
		case ":":
			// object destructuring `{ a: renamed }` — the bound name is
			// what follows the colon, not the key; skip the key itself if
			// already appended.
			if len(names) > 0 {
				names = names[:len(names)-1]
			}
			continue
		case ",":
			continue
		}
		if t.kind == tokIdent {
			// Skip the default-value side of `{ a = 1 }` destructuring:
			// handled by the top-level '=' check above for simple cases;
			// nested defaults are an accepted approximation.
			_ = i
			names = append(names, t.text)
		}
	}
	return names
}

// ReferencedIdentifiers returns every identifier referenced in fn's body
// (directive already removed), excluding member-access property names and
// object-literal `key:` property names, in first-seen order. A shorthand
// property (`{ name }`) counts as a reference to name.
func ReferencedIdentifiers(fn *FunctionNode, bodyAfterDirective string) []string {
	toks := lex(bodyAfterDirective)
	seen := make(map[string]bool)
	var out []string
	for i, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if i > 0 && (toks[i-1].text == "." || toks[i-1].text == "?.") {
			continue
		}
		if i+1 < len(toks) && toks[i+1].text == ":" && i > 0 &&
			(toks[i-1].text == "{" || toks[i-1].text == ",") {
			continue // object-literal `key:` property name
		}
		if !seen[t.text] {
			seen[t.text] = true
			out = append(out, t.text)
		}
	}
	return out
}

// builtinGlobals is the closed enumeration from spec.md §4.2: standard value
// constants, common constructors/collections, timer/microtask functions,
// and the ambient process object.
var builtinGlobals = map[string]bool{
	"undefined": true, "NaN": true, "Infinity": true, "globalThis": true,
	"Object": true, "Array": true, "String": true, "Number": true, "Boolean": true,
	"Function": true, "Symbol": true, "BigInt": true,
	"Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Promise": true, "Proxy": true, "Reflect": true,
	"RegExp": true, "Date": true, "Math": true, "JSON": true,
	"Error": true, "TypeError": true, "RangeError": true, "SyntaxError": true,
	"ReferenceError": true, "EvalError": true, "URIError": true,
	"ArrayBuffer": true, "SharedArrayBuffer": true, "DataView": true,
	"Int8Array": true, "Uint8Array": true, "Uint8ClampedArray": true,
	"Int16Array": true, "Uint16Array": true, "Int32Array": true, "Uint32Array": true,
	"Float32Array": true, "Float64Array": true, "BigInt64Array": true, "BigUint64Array": true,
	"setTimeout": true, "setInterval": true, "clearTimeout": true, "clearInterval": true,
	"setImmediate": true, "clearImmediate": true, "queueMicrotask": true,
	"process": true, "console": true, "require": true, "module": true,
	"exports": true, "__dirname": true, "__filename": true, "Buffer": true,
	"fetch": true, "structuredClone": true, "encodeURIComponent": true,
	"decodeURIComponent": true, "parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
}

// IsBuiltinGlobal reports whether name is in the closed builtin enumeration.
func IsBuiltinGlobal(name string) bool { return builtinGlobals[name] }
