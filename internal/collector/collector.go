// Package collector implements spec.md §4.2: given a parsed source file
// (internal/jsparse), it identifies every annotated ("use sandbox") async
// function, records its identity and closure captures, and assigns it a
// stable function id.
package collector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sandboxjs/runtime/internal/jsparse"
	"github.com/sandboxjs/runtime/internal/pkg/crypto"
)

// FunctionRecord is the "Sandbox function record" entity from spec.md §3.
type FunctionRecord struct {
	FnID         string
	OriginalName string
	ScopePath    []string
	ParamNames   []string
	ClosureVars  []string
	BodySource   string // printable body, directive already removed
	SourcePath   string // project-relative path used in the fnId digest
	Node         *jsparse.FunctionNode
}

// Nested reports whether this record is for a function declared inside
// another function (scopePath length > 1), the condition under which
// closure capture applies (spec.md §4.2).
func (r *FunctionRecord) Nested() bool { return len(r.ScopePath) > 1 }

// Collect walks prog and returns one FunctionRecord per annotated async
// function found, in source order. projectRelativePath must already be
// normalised relative to the project root (spec.md §4.2: "The filename used
// for the digest is normalised to a project-relative path").
//
// An anonymous default-exported annotated function (spec.md §9, Open
// Question (a)) fails loudly instead of being assigned a synthesised name:
// a synthesised name is exactly the id-instability the digest scheme in
// §4.2 exists to avoid, so this is treated as a transform error rather than
// guessed at (spec.md §7: "No partial transforms are ever emitted").
func Collect(prog *jsparse.Program, projectRelativePath string) ([]*FunctionRecord, error) {
	var records []*FunctionRecord
	for _, fn := range prog.Functions {
		if !fn.IsAsync || !fn.HasSandboxDirective(prog.Source) {
			continue
		}
		if fn.Name == "" {
			return nil, fmt.Errorf("%s: anonymous sandbox function has no stable name; "+
				"export it as a named function or assign it to a named const", projectRelativePath)
		}

		sp := scopePathFor(fn)
		rec := &FunctionRecord{
			OriginalName: fn.Name,
			ScopePath:    sp,
			ParamNames:   fn.ParamNames,
			BodySource:   fn.BodyAfterDirective(prog.Source),
			SourcePath:   projectRelativePath,
			Node:         fn,
		}
		rec.FnID = fnID(sp, projectRelativePath)

		if rec.Nested() {
			rec.ClosureVars = closureVars(prog, fn)
		}

		records = append(records, rec)
	}
	return records, nil
}

// fnID implements spec.md §4.2: `scopePath.join('$') + '_' + digest(filename
// + scopePath)`.
func fnID(scopePath []string, projectRelativePath string) string {
	joined := strings.Join(scopePath, "$")
	return joined + "_" + crypto.HashString(projectRelativePath+"#"+joined)
}

// scopePathFor returns the ordered chain of enclosing function names,
// innermost last, including fn's own name. Collect has already rejected
// anonymous functions, so fn.Name is always non-empty here.
func scopePathFor(fn *jsparse.FunctionNode) []string {
	parentPath := fn.Scope.Parent().Path()
	return append(append([]string{}, parentPath...), fn.Name)
}

// closureVars implements spec.md §4.2's closure-variable computation.
func closureVars(prog *jsparse.Program, fn *jsparse.FunctionNode) []string {
	declared := jsparse.LocallyDeclaredNames(prog, fn)
	body := fn.BodyAfterDirective(prog.Source)
	refs := jsparse.ReferencedIdentifiers(fn, body)

	var captured []string
	for _, name := range refs {
		if declared[name] {
			continue
		}
		if jsparse.IsBuiltinGlobal(name) {
			continue
		}
		if fn.Scope.ResolvesInAncestor(name) {
			captured = append(captured, name)
		}
	}
	sort.Strings(captured)
	return dedupe(captured)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
