// Package wire defines the JSON protocol shared by the orchestrator and the
// runner script installed into every sandbox VM. Both sides marshal/unmarshal
// these types so the field names never drift between host and guest.
package wire

import "encoding/json"

// CallPayload is the host->VM request body for one sandbox function call.
// It is JSON-encoded and passed to the runner as a single command-line
// argument. TraceParent/TraceState carry the W3C trace context of the
// call (internal/observability.ExtractTraceContext) for correlation in
// whatever the runner itself logs; the runner does not need to
// understand them to execute the call.
type CallPayload struct {
	Args        []json.RawMessage `json:"args"`
	ClosureVars json.RawMessage   `json:"closureVars,omitempty"`
	TraceParent string            `json:"traceparent,omitempty"`
	TraceState  string            `json:"tracestate,omitempty"`
}

// Reply is the VM->host response: the final line the runner writes to
// stdout. Exactly one of Result or Error is populated.
type Reply struct {
	Result json.RawMessage `json:"__result,omitempty"`
	Error  string          `json:"__error,omitempty"`
	Stack  string          `json:"__stack,omitempty"`
}

// IsError reports whether the reply carries a VM-side failure.
func (r *Reply) IsError() bool {
	return r != nil && r.Error != ""
}
