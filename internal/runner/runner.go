// Package runner embeds the fixed sandbox runner script (spec.md §4.5):
// a small, self-contained module installed byte-for-byte into every
// sandbox VM, invariant across builds so the orchestrator installs it once
// per VM and relies on it thereafter. Only the bundle it dynamically
// imports changes between builds.
//
// Grounded on teacher's own go:embed idiom for a fixed text asset
// (internal/ai/prompts.go's `//go:embed prompt_templates/*.tmpl` +
// embed.FS).
package runner

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/sandboxjs/runtime/internal/wire"
)

//go:embed runner.js
var source string

// Source returns the runner's fixed JS source, to be written verbatim to
// InstallPath inside a sandbox VM.
func Source() string { return source }

// InstallPath is the fixed on-disk path the runner is written to inside
// every sandbox VM (spec.md §4.5: "a known path").
const InstallPath = "/opt/sandbox/runner.js"

// BundleInstallPath is the fixed on-disk path the bundle is written to;
// the runner imports it by this relative/absolute path (spec.md §4.5
// step 2).
const BundleInstallPath = "/opt/sandbox/bundle.js"

// Payload is the JSON object the runner parses from its second argv
// position (spec.md §4.5 step 1): "{ args: unknown[], closureVars?:
// object }". Defined in internal/wire so the orchestrator and this
// package agree on field names without either importing the other's
// internals.
type Payload = wire.CallPayload

// Command returns the program name and argv the orchestrator must pass to
// the VM's command interface to invoke the runner (spec.md §4.6:
// "program `node`, arguments `[runnerPath, fnId, JSON.stringify(payload)]`").
func Command(fnID string, payload Payload) (program string, args []string, err error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encode runner payload: %w", err)
	}
	return "node", []string{InstallPath, fnID, string(encoded)}, nil
}
