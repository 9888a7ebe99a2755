package hostintegration

import "testing"

type fakeHooks struct {
	dir   string
	dev   bool
	exts  []string
	funcs []TransformFunc
}

func (h *fakeHooks) RegisterTransform(exts []string, fn TransformFunc) {
	h.exts = append(h.exts, exts...)
	h.funcs = append(h.funcs, fn)
}

func (h *fakeHooks) BuildOutputDir() string { return h.dir }
func (h *fakeHooks) IsDevelopment() bool    { return h.dev }

var _ Hooks = (*fakeHooks)(nil)

func TestRegisterTransformAccumulatesRegistrations(t *testing.T) {
	h := &fakeHooks{dir: "/build", dev: true}
	h.RegisterTransform([]string{".js", ".ts"}, func(path, source string) (string, error) {
		return source, nil
	})
	if len(h.exts) != 2 || len(h.funcs) != 1 {
		t.Fatalf("expected 2 extensions and 1 registered func, got exts=%v funcs=%d", h.exts, len(h.funcs))
	}
	if h.BuildOutputDir() != "/build" {
		t.Fatalf("unexpected BuildOutputDir: %q", h.BuildOutputDir())
	}
	if !h.IsDevelopment() {
		t.Fatalf("expected IsDevelopment true")
	}
}

func TestTransformFuncPassesThroughUnchangedSource(t *testing.T) {
	var fn TransformFunc = func(path, source string) (string, error) { return source, nil }
	out, err := fn("a.ts", "const x = 1;")
	if err != nil {
		t.Fatalf("TransformFunc: %v", err)
	}
	if out != "const x = 1;" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}
