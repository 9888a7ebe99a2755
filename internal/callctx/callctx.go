// Package callctx implements the call-context propagation spec.md §4.8
// calls for: a value bound for the dynamic extent of a `run` call, carrying
// `{ vm, sudo }`, so a nested annotated function invoked from inside
// another one reuses the same VM instead of provisioning its own.
//
// Go has no async-local-storage primitive, but context.Context is its
// idiomatic dynamic-extent-scoped propagation mechanism: a value threaded
// through context.Context flows through exactly the call chain that
// created it, is immutable per node, and — unlike a package-level
// variable — is scoped per call-graph branch, so concurrent calls with
// distinct session keys never observe each other's contexts (spec.md §9's
// explicit requirement). The same context.Context also carries the
// span internal/sandboxpool.Pool.execute starts; its W3C trace context
// is extracted (internal/observability.ExtractTraceContext) and sent
// alongside the call payload, the same propagation pattern teacher
// threads down to its vsock call, substituting a VM binding for a trace
// span as the extra value riding along.
package callctx

import (
	"context"

	"github.com/sandboxjs/runtime/internal/sandboxapi"
)

type sessionCallKey struct{}

// SessionCall is the value bound into a context for the dynamic extent of
// one `run` invocation.
type SessionCall struct {
	VM   sandboxapi.VMHandle
	Sudo bool
}

// WithSessionCall returns a context carrying call, shadowing any
// outer SessionCall already bound on ctx.
func WithSessionCall(ctx context.Context, call SessionCall) context.Context {
	return context.WithValue(ctx, sessionCallKey{}, call)
}

// SessionCallFrom returns the SessionCall bound on ctx, if any. A
// present, ok==true result means __runSandboxFn must short-circuit VM
// provisioning and dispatch to call.VM directly (spec.md §4.6,
// "__runSandboxFn": "If a call-context is present, execute against that
// VM with its sudo flag").
func SessionCallFrom(ctx context.Context) (call SessionCall, ok bool) {
	call, ok = ctx.Value(sessionCallKey{}).(SessionCall)
	return call, ok
}
