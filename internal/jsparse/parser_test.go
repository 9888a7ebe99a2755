package jsparse

import "testing"

func TestParseTopLevelDirective(t *testing.T) {
	src := `export async function readFile(path) { "use sandbox"; return path.length; }`
	prog, err := Parse("app/api/x.ts", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	fn := prog.Functions[0]
	if fn.Name != "readFile" || !fn.IsAsync || !fn.Exported || !fn.TopLevel {
		t.Fatalf("unexpected function node: %+v", fn)
	}
	if !fn.HasSandboxDirective(src) {
		t.Fatalf("expected directive to be detected")
	}
	if got := fn.ParamNames; len(got) != 1 || got[0] != "path" {
		t.Fatalf("unexpected param names: %v", got)
	}
}

func TestParseNestedClosure(t *testing.T) {
	src := `async function outer(prefix) {
		async function inner(x) { "use sandbox"; return prefix + x; }
		return inner("y");
	}`
	prog, err := Parse("app/api/y.ts", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Functions) != 2 {
		t.Fatalf("expected 2 functions (outer, inner), got %d", len(prog.Functions))
	}
	var inner *FunctionNode
	for _, fn := range prog.Functions {
		if fn.Name == "inner" {
			inner = fn
		}
	}
	if inner == nil {
		t.Fatalf("inner function not found")
	}
	if !inner.HasSandboxDirective(src) {
		t.Fatalf("expected inner to carry directive")
	}
	path := inner.Scope.parent.path()
	if len(path) != 1 || path[0] != "outer" {
		t.Fatalf("unexpected scope path: %v", path)
	}
}

func TestParseNoDirectiveRoundTrips(t *testing.T) {
	src := `export function plain(a, b) { return a + b; }`
	prog, err := Parse("f.ts", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function")
	}
	if prog.Functions[0].HasSandboxDirective(src) {
		t.Fatalf("plain function must not be treated as annotated")
	}
}

func TestArrowFunctionExpressionAssignedToConst(t *testing.T) {
	src := `const writeFile = async (path, data) => { "use sandbox"; return data.length; };`
	prog, err := Parse("f.ts", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	fn := prog.Functions[0]
	if fn.Name != "writeFile" || !fn.VarBound || !fn.IsAsync {
		t.Fatalf("unexpected arrow function node: %+v", fn)
	}
	if !fn.HasSandboxDirective(src) {
		t.Fatalf("expected directive detection on arrow function")
	}
}

func TestZeroParameterFunctionRoundTrips(t *testing.T) {
	src := `export async function ping() { "use sandbox"; return "pong"; }`
	prog, err := Parse("f.ts", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := prog.Functions[0].ParamNames; len(got) != 0 {
		t.Fatalf("expected zero params, got %v", got)
	}
}
