package callctx

import (
	"context"
	"testing"

	"github.com/sandboxjs/runtime/internal/sandboxapi"
)

func TestSessionCallFromAbsentByDefault(t *testing.T) {
	if _, ok := SessionCallFrom(context.Background()); ok {
		t.Fatalf("expected no SessionCall bound on a fresh context")
	}
}

func TestWithSessionCallRoundTrips(t *testing.T) {
	vm := sandboxapi.VMHandle{ID: "vm-1"}
	ctx := WithSessionCall(context.Background(), SessionCall{VM: vm, Sudo: true})

	got, ok := SessionCallFrom(ctx)
	if !ok {
		t.Fatalf("expected SessionCall to be present")
	}
	if got.VM != vm || !got.Sudo {
		t.Fatalf("unexpected SessionCall: %+v", got)
	}
}

func TestNestedWithSessionCallShadowsOuter(t *testing.T) {
	outer := WithSessionCall(context.Background(), SessionCall{VM: sandboxapi.VMHandle{ID: "outer"}, Sudo: true})
	inner := WithSessionCall(outer, SessionCall{VM: sandboxapi.VMHandle{ID: "inner"}, Sudo: false})

	got, ok := SessionCallFrom(inner)
	if !ok || got.VM.ID != "inner" || got.Sudo {
		t.Fatalf("expected inner SessionCall to shadow outer, got %+v ok=%v", got, ok)
	}

	got, ok = SessionCallFrom(outer)
	if !ok || got.VM.ID != "outer" {
		t.Fatalf("expected outer context unaffected by inner binding, got %+v ok=%v", got, ok)
	}
}

func TestDistinctBranchesDoNotObserveEachOther(t *testing.T) {
	base := context.Background()
	a := WithSessionCall(base, SessionCall{VM: sandboxapi.VMHandle{ID: "a"}})
	b := WithSessionCall(base, SessionCall{VM: sandboxapi.VMHandle{ID: "b"}})

	ca, _ := SessionCallFrom(a)
	cb, _ := SessionCallFrom(b)
	if ca.VM.ID == cb.VM.ID {
		t.Fatalf("expected distinct branches to carry distinct VMs, got %q and %q", ca.VM.ID, cb.VM.ID)
	}
}
