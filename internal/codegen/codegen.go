// Package codegen implements spec.md §4.3: given a parsed source file
// (internal/jsparse) and the sandbox functions found in it (internal/
// collector), it produces the two artefacts the build needs — the
// in-place stub that replaces each annotated declaration, and the
// generated per-file module that re-exports the original bodies under
// their stable function ids.
package codegen

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sandboxjs/runtime/internal/collector"
	"github.com/sandboxjs/runtime/internal/jsparse"
)

// RuntimeImportPath is the module specifier host source imports to obtain
// the sandbox factory (`run`, `stop`, `stopAll`, the `$` shell-template
// helper). Symbols from it are host-only except `$`.
const RuntimeImportPath = "@sandbox/runtime"

// RuntimeShellImportPath is the runtime-free subpath the `$` shell helper is
// rewritten to inside the generated module, so the bundle installed in the
// VM never pulls in the host-only orchestrator package (spec.md §9,
// "Filtering imports for the sandbox bundle").
const RuntimeShellImportPath = "@sandbox/runtime/shell"

// ShellHelperName is the one symbol from RuntimeImportPath that survives
// into the sandbox: the `$`-template shell-command helper.
const ShellHelperName = "$"

// sandboxFnEntryPoint is the internal entry point generated stubs call
// (spec.md §4.6, "__runSandboxFn").
const sandboxFnEntryPoint = "__runSandboxFn"

// Result is the pair of artefacts Transform produces for one source file.
type Result struct {
	StubbedSource   string // original file with every annotated declaration replaced
	GeneratedModule string // adjacent module re-exporting extracted bodies
	GeneratedPath   string // deterministic output path for GeneratedModule
}

// Generate produces the stub source and generated module for prog, given
// the function records the collector found in it. projectRelativePath is
// also used (via GeneratedModulePath) to name the generated module.
//
// An empty records slice still returns a Result: StubbedSource equals
// prog.Source verbatim and GeneratedModule is empty, matching a file with
// no annotated functions contributing nothing to the bundle.
func Generate(prog *jsparse.Program, records []*collector.FunctionRecord, projectRelativePath string) *Result {
	return &Result{
		StubbedSource:   StubSource(prog, records),
		GeneratedModule: GeneratedModule(prog, records),
		GeneratedPath:   GeneratedModulePath(projectRelativePath),
	}
}

// GeneratedModulePath implements spec.md §4.4's "deterministic transformation
// of its source path (path separators replaced, project root stripped)",
// rooted under the `.sandbox-temp/` staging directory (spec.md §6).
func GeneratedModulePath(projectRelativePath string) string {
	clean := strings.TrimPrefix(filepath.ToSlash(projectRelativePath), "/")
	mangled := strings.ReplaceAll(clean, "/", "$")
	return filepath.ToSlash(filepath.Join(".sandbox-temp", mangled+".sandbox.mjs"))
}

// StubSource returns prog.Source with every record's declaration replaced
// by its stub (spec.md §4.3.1). Replacements are applied from the last
// declaration to the first so earlier byte offsets stay valid.
func StubSource(prog *jsparse.Program, records []*collector.FunctionRecord) string {
	type span struct {
		start, end int
		text       string
	}
	spans := make([]span, 0, len(records))
	for _, rec := range records {
		spans = append(spans, span{rec.Node.HeaderStart, rec.Node.DeclEnd, stubReplacement(rec)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	out := prog.Source
	for _, sp := range spans {
		out = out[:sp.start] + sp.text + out[sp.end:]
	}
	return out
}

// stubReplacement returns the text that replaces one FunctionNode's
// [HeaderStart, DeclEnd) span.
//
// For a var-bound function (`const name = async (...) => {...}` or
// `const name = async function(...) {...}`), HeaderStart already excludes
// the `const name = ` prefix — jsparse only spans the right-hand-side
// expression for that case — so the replacement is just a new arrow
// expression; the surrounding `const name = ...;` is left untouched.
//
// For a plain top-level declaration, the replacement keeps the original
// declaration form (preserving exportedness, per spec.md §8 "same name,
// arity, async-ness... preserves exportedness").
//
// For a plain nested declaration, spec.md §4.3.1 requires rewriting it to
// an arrow expression assigned to a const with the same name.
func stubReplacement(rec *collector.FunctionRecord) string {
	fn := rec.Node
	params := wrapParams(fn.ParamsSource)
	asyncKw := ""
	if fn.IsAsync {
		asyncKw = "async "
	}
	call := callExpr(rec)

	if fn.VarBound {
		return fmt.Sprintf("%s%s => %s", asyncKw, params, call)
	}
	if fn.TopLevel {
		exportPrefix := ""
		switch {
		case fn.DefaultExported:
			exportPrefix = "export default "
		case fn.Exported:
			exportPrefix = "export "
		}
		return fmt.Sprintf("%s%sfunction %s%s {\n  return %s;\n}", exportPrefix, asyncKw, fn.Name, params, call)
	}
	return fmt.Sprintf("const %s = %s%s => %s;", fn.Name, asyncKw, params, call)
}

// callExpr builds the `__runSandboxFn({ fnId, args, closureVars? })`
// forwarding call (spec.md §4.3.1).
func callExpr(rec *collector.FunctionRecord) string {
	args := strings.Join(rec.ParamNames, ", ")
	closure := ""
	if len(rec.ClosureVars) > 0 {
		closure = fmt.Sprintf(", closureVars: { %s }", strings.Join(rec.ClosureVars, ", "))
	}
	return fmt.Sprintf("%s({ fnId: %q, args: [%s]%s })", sandboxFnEntryPoint, rec.FnID, args, closure)
}

func wrapParams(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "()"
	}
	if strings.HasPrefix(raw, "(") {
		return raw
	}
	return "(" + raw + ")"
}

// GeneratedModule returns the per-file generated module: the original
// file's non-type-only imports (categorised per CategorizeImport), then one
// exported async function per record (spec.md §4.3.2).
func GeneratedModule(prog *jsparse.Program, records []*collector.FunctionRecord) string {
	var b strings.Builder
	wroteImport := false
	for _, imp := range prog.Imports {
		if imp.TypeOnly {
			continue
		}
		decision, rewritten := CategorizeImport(imp)
		switch decision {
		case ImportDrop:
			continue
		case ImportRewriteShell:
			b.WriteString(rewritten)
		case ImportPassThrough:
			b.WriteString(imp.Raw)
		}
		b.WriteString("\n")
		wroteImport = true
	}
	if wroteImport {
		b.WriteString("\n")
	}

	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(generatedExport(rec))
	}
	return b.String()
}

// generatedExport renders one `export async function <fnId>(...) {...}`
// entry. When rec captures closure variables, its first parameter is
// `__closure`, destructured into those names as the body's first line
// (spec.md §4.3.2).
func generatedExport(rec *collector.FunctionRecord) string {
	params := make([]string, 0, len(rec.ParamNames)+1)
	var closureLine string
	if len(rec.ClosureVars) > 0 {
		params = append(params, "__closure")
		closureLine = fmt.Sprintf("  const { %s } = __closure;\n", strings.Join(rec.ClosureVars, ", "))
	}
	params = append(params, rec.ParamNames...)
	body := strings.TrimSpace(rec.BodySource)
	return fmt.Sprintf("export async function %s(%s) {\n%s%s\n}", rec.FnID, strings.Join(params, ", "), closureLine, body)
}

// ImportDecision is the drop / rewrite / pass-through classification spec.md
// §9 requires for each import of the generated module.
type ImportDecision int

const (
	// ImportPassThrough re-imports the module verbatim; it has nothing to do
	// with the host-only runtime package.
	ImportPassThrough ImportDecision = iota
	// ImportDrop elides an import of host-only runtime symbols entirely.
	ImportDrop
	// ImportRewriteShell rewrites an import of the `$` shell helper to the
	// runtime-free shell subpath.
	ImportRewriteShell
)

// CategorizeImport classifies one import statement from the original file
// for inclusion in the generated module (spec.md §9). Only imports of
// RuntimeImportPath are ever dropped or rewritten; every other import,
// including other packages the project depends on, passes through verbatim.
func CategorizeImport(imp jsparse.ImportSpec) (ImportDecision, string) {
	if imp.ModulePath != RuntimeImportPath {
		return ImportPassThrough, ""
	}
	if !importsNamedSpecifier(imp.Raw, ShellHelperName) {
		return ImportDrop, ""
	}
	return ImportRewriteShell, fmt.Sprintf("import { %s } from %q;", ShellHelperName, RuntimeShellImportPath)
}

// importsNamedSpecifier reports whether raw's `{ ... }` named-import clause
// contains name, matching either side of an `x as y` alias.
func importsNamedSpecifier(raw, name string) bool {
	open := strings.IndexByte(raw, '{')
	close := strings.IndexByte(raw, '}')
	if open < 0 || close < 0 || close < open {
		return false
	}
	for _, part := range strings.Split(raw[open+1:close], ",") {
		for _, f := range strings.Fields(strings.TrimSpace(part)) {
			if f == name {
				return true
			}
		}
	}
	return false
}
