// Package sandboxapi defines the boundary this module drives but does not
// implement: the external VM/container provisioner that actually runs
// sandboxed code (spec.md §1, "Out of scope" — "the VM pool/runtime
// backend itself"). Everything upstream of this package (collector,
// codegen, bundler, sandboxpool) treats SandboxProvisioner as a given.
//
// Grounded on the union of teacher's internal/backend.Backend
// (CreateVM/CreateVMWithFiles/StopVM/NewClient) and internal/backend.Client
// (Execute/ExecuteWithTrace/ExecuteStream/Reload/Ping/Close): this spec
// needs neither streaming execution nor hot file reload as a distinct
// verb, so the two teacher interfaces collapse onto the four operations
// spec.md's orchestration flow actually calls: Create, WriteFiles,
// RunCommand, Stop.
package sandboxapi

import (
	"context"
	"fmt"
)

// VMHandle identifies one provisioned sandbox VM. Opaque to callers beyond
// its ID; a provisioner implementation is free to carry more state behind
// it (the teacher's own *backend.VM is a good example of this shape).
type VMHandle struct {
	ID string
}

// Config carries the sizing and timeout knobs a provisioner needs to
// create a VM. Analogous to the fields teacher's backend implementations
// read off *domain.Function (memory/CPU/timeout) before calling CreateVM.
type Config struct {
	MemoryMB int
	CPUCount int
	TimeoutS int

	// Env is the environment a provisioner should set inside every VM it
	// creates. When internal/sandboxpool.Config.Secrets is set, any
	// "$SECRET:name" reference is expanded before Config reaches a
	// provisioner; without it, values are passed as given.
	Env map[string]string
}

// CommandResult is the outcome of RunCommand: captured stdout/stderr and
// the process exit code. The orchestrator (internal/sandboxpool) parses
// the final line of Stdout as the runner's JSON protocol envelope.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SandboxProvisioner is the external collaborator spec.md assumes exists.
// Implementations own VM/container lifecycle; this module only calls
// these four methods in sequence: Create once per session, WriteFiles to
// install the runner and bundle, RunCommand once per sandboxed call, and
// Stop when a session's VM is evicted.
type SandboxProvisioner interface {
	// Create provisions a new, otherwise-empty sandbox VM per cfg.
	Create(ctx context.Context, cfg Config) (VMHandle, error)

	// WriteFiles writes the given path -> content pairs into vm,
	// creating any needed parent directories. Used both for the
	// one-time runner install and for every bundle (re)install.
	WriteFiles(ctx context.Context, vm VMHandle, files map[string][]byte) error

	// RunCommand executes program with args inside vm and blocks until
	// it exits or ctx is done. sudo requests the VM run the command
	// with elevated privileges; the orchestrator passes the session's
	// sudo flag on each sandboxed call (installs go through WriteFiles).
	RunCommand(ctx context.Context, vm VMHandle, program string, args []string, sudo bool) (CommandResult, error)

	// Stop tears down vm and releases any resources backing it.
	Stop(ctx context.Context, vm VMHandle) error
}

// ErrVMNotFound is returned by provisioner implementations when asked to
// operate on a VMHandle they no longer recognize (already stopped, or
// never created by this instance).
var ErrVMNotFound = fmt.Errorf("sandboxapi: vm not found")
