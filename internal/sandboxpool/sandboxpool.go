// Package sandboxpool implements spec.md §4.6-§4.8: the runtime
// orchestrator. It maintains a strict one-key-one-VM mapping from
// caller-supplied session key to live sandbox handle (spec.md §3,
// "Session / VM binding"), installs the fixed runner and the current
// bundle into each VM on first use and on bundle change (§4.7), and
// serialises calls through the VM's command interface, parsing the
// runner's single-line JSON reply (§4.6).
//
// This is the heaviest adaptation of teacher's internal/pool.Pool.
// Teacher pools VMs keyed by a hash of function configuration, so that
// many functions sharing configuration share a warm set of
// interchangeable VMs guarded by a waiter queue (functionPool.cond).
// This spec has no such sharing: one session key always maps to exactly
// one VM (spec.md §5, "same key <-> same VM"), so there is no warm set to
// wait on — "acquire" only ever blocks on provisioning a VM that does not
// exist yet, which is a single in-flight operation per key, guarded by
// singleflight exactly as teacher guards concurrent cold starts
// (Pool.group).
package sandboxpool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandboxjs/runtime/internal/callctx"
	"github.com/sandboxjs/runtime/internal/installstore"
	"github.com/sandboxjs/runtime/internal/logging"
	"github.com/sandboxjs/runtime/internal/metrics"
	"github.com/sandboxjs/runtime/internal/observability"
	"github.com/sandboxjs/runtime/internal/runner"
	"github.com/sandboxjs/runtime/internal/sandboxapi"
	"github.com/sandboxjs/runtime/internal/secrets"
	"github.com/sandboxjs/runtime/internal/wire"
)

// BundleSource is consulted for the bundle the orchestrator must keep
// installed in every VM (spec.md §4.7 step 1: "reads the current bundle
// content and digest (cached in production, re-read per call in
// development so hot-reload propagates)"). internal/bundler.Builder
// satisfies this via its CurrentBundle method.
type BundleSource interface {
	CurrentBundle() (content []byte, digest string, err error)
}

// RunOptions is spec.md §4.6's normalised `{ key, sudo }`. Sudo is a
// pointer so "omitted" (nil, defaults to true per spec.md §4.6 step 1)
// is distinguishable from an explicit false — a plain bool's zero value
// cannot express that distinction.
type RunOptions struct {
	Key  string
	Sudo *bool
}

// Normalize fills RunOptions defaults (spec.md §4.6 step 1: "sudo
// defaulting true").
func Normalize(keyOrOptions RunOptions) RunOptions {
	if keyOrOptions.Sudo == nil {
		t := true
		keyOrOptions.Sudo = &t
	}
	return keyOrOptions
}

// session is one live {key, vm, sudo} binding (spec.md §3's "Session /
// VM binding" entity). Unlike teacher's functionPool, there is exactly
// one VM per session: no warm set, no waiter queue.
type session struct {
	mu   sync.Mutex
	key  string
	vm   sandboxapi.VMHandle
	sudo bool
}

// Config configures a Pool.
type Config struct {
	Provisioner   sandboxapi.SandboxProvisioner
	Store         installstore.Store
	Bundle        BundleSource
	VM            sandboxapi.Config
	IsDevelopment bool // spec.md §6: distinguishes the install-state read-cache policy

	// Secrets, if set, resolves any "$SECRET:name" reference in VM.Env
	// before each VM is created, so a provisioner never sees an
	// unresolved reference.
	Secrets *secrets.Resolver
}

// Pool is spec.md §4.6's sandbox pool & orchestrator.
type Pool struct {
	provisioner   sandboxapi.SandboxProvisioner
	store         installstore.Store
	bundle        BundleSource
	vmConfig      sandboxapi.Config
	isDevelopment bool
	secrets       *secrets.Resolver

	sessions sync.Map // map[string]*session, keyed by session key
	group    singleflight.Group

	runnerMu        sync.Mutex
	runnerInstalled map[string]bool // vm.ID -> installed (spec.md §4.7's in-process weak map)

	digestMu     sync.Mutex
	cachedDigest string // production-mode cache of the last-read bundle digest
	digestValid  bool
}

// New constructs a Pool. cfg.Provisioner, cfg.Store, and cfg.Bundle are
// required.
func New(cfg Config) *Pool {
	return &Pool{
		provisioner:     cfg.Provisioner,
		store:           cfg.Store,
		bundle:          cfg.Bundle,
		vmConfig:        cfg.VM,
		isDevelopment:   cfg.IsDevelopment,
		secrets:         cfg.Secrets,
		runnerInstalled: make(map[string]bool),
	}
}

// vmConfigForCreate returns the VM config to pass to Create, with any
// "$SECRET:name" reference in Env resolved if a secrets resolver is
// configured. Falls back to the unresolved config otherwise, so a Pool
// built without Secrets behaves exactly as before this field existed.
func (p *Pool) vmConfigForCreate(ctx context.Context) (sandboxapi.Config, error) {
	if p.secrets == nil || len(p.vmConfig.Env) == 0 {
		return p.vmConfig, nil
	}
	resolved, err := p.secrets.ResolveEnvVars(ctx, p.vmConfig.Env)
	if err != nil {
		return sandboxapi.Config{}, fmt.Errorf("resolve sandbox VM secrets: %w", err)
	}
	cfg := p.vmConfig
	cfg.Env = resolved
	return cfg, nil
}

// Size reports the number of live sessions (spec.md §4.6's observable
// "size").
func (p *Pool) Size() int {
	n := 0
	p.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Run is spec.md §4.6's `run(keyOrOptions, fn, args)`. fn is invoked with
// a context carrying the session's call-context (internal/callctx), so
// that any nested __runSandboxFn call reached from within fn reuses this
// VM without the caller threading a key through every call site.
func (p *Pool) Run(ctx context.Context, opts RunOptions, fn func(ctx context.Context) (any, error)) (any, error) {
	opts = Normalize(opts)
	if opts.Key == "" {
		return nil, fmt.Errorf("sandboxpool: run requires a non-empty session key")
	}

	sess, err := p.getOrCreateSession(ctx, opts.Key, *opts.Sudo)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	vm, sudo := sess.vm, sess.sudo
	sess.mu.Unlock()

	if err := p.ensureReady(ctx, opts.Key, vm); err != nil {
		return nil, err
	}

	callCtx := callctx.WithSessionCall(ctx, callctx.SessionCall{VM: vm, Sudo: sudo})
	return fn(callCtx)
}

// getOrCreateSession returns the existing session for key, or provisions
// one. Concurrent first-uses of the same key are deduplicated via
// singleflight (spec.md §5: "On simultaneous first uses of the same key,
// at most one duplicate VM may be provisioned"), carried over unchanged
// from teacher's Pool.group dedup of concurrent cold starts.
func (p *Pool) getOrCreateSession(ctx context.Context, key string, sudo bool) (*session, error) {
	if v, ok := p.sessions.Load(key); ok {
		return v.(*session), nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		if v, ok := p.sessions.Load(key); ok {
			return v.(*session), nil
		}
		vmCfg, err := p.vmConfigForCreate(ctx)
		if err != nil {
			return nil, err
		}
		vm, err := p.provisioner.Create(ctx, vmCfg)
		if err != nil {
			return nil, fmt.Errorf("provision sandbox VM for session %q: %w", key, err)
		}
		metrics.Global().RecordVMCreated()
		sess := &session{key: key, vm: vm, sudo: sudo}
		actual, loaded := p.sessions.LoadOrStore(key, sess)
		if loaded {
			// Lost the race after all; release our extra VM.
			if stopErr := p.provisioner.Stop(ctx, vm); stopErr != nil {
				logging.Op().Warn("failed to stop redundant sandbox VM", "session", key, "error", stopErr)
			}
			metrics.Global().RecordVMStopped()
			return actual.(*session), nil
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// Stop evicts the session for key, stopping its VM (spec.md §4.6's
// `stop(key)`).
func (p *Pool) Stop(ctx context.Context, key string) error {
	v, ok := p.sessions.LoadAndDelete(key)
	if !ok {
		return nil
	}
	sess := v.(*session)
	p.runnerMu.Lock()
	delete(p.runnerInstalled, sess.vm.ID)
	p.runnerMu.Unlock()
	err := p.provisioner.Stop(ctx, sess.vm)
	metrics.Global().RecordVMStopped()
	return err
}

// StopAll evicts every session (spec.md §4.6's `stopAll()`).
func (p *Pool) StopAll(ctx context.Context) error {
	var firstErr error
	p.sessions.Range(func(k, v any) bool {
		sess := v.(*session)
		p.sessions.Delete(k)
		p.runnerMu.Lock()
		delete(p.runnerInstalled, sess.vm.ID)
		p.runnerMu.Unlock()
		if err := p.provisioner.Stop(ctx, sess.vm); err != nil && firstErr == nil {
			firstErr = err
		}
		metrics.Global().RecordVMStopped()
		return true
	})
	return firstErr
}

// ensureReady implements spec.md §4.7: ensures the runner and current
// bundle are installed in vm before a call proceeds.
func (p *Pool) ensureReady(ctx context.Context, key string, vm sandboxapi.VMHandle) error {
	content, digest, err := p.currentBundle()
	if err != nil {
		return fmt.Errorf("read current bundle: %w", err)
	}

	files := make(map[string][]byte)

	if !p.isRunnerInstalled(vm.ID) {
		files[runner.InstallPath] = []byte(runner.Source())
	}

	installed, ok, err := p.store.GetInstalledHash(ctx, key)
	if err != nil {
		return fmt.Errorf("read installed bundle hash: %w", err)
	}
	if !ok || installed != digest {
		files[runner.BundleInstallPath] = content
	}

	if len(files) == 0 {
		return nil
	}

	if err := p.provisioner.WriteFiles(ctx, vm, files); err != nil {
		return fmt.Errorf("install sandbox files: %w", err)
	}

	if _, hasRunner := files[runner.InstallPath]; hasRunner {
		p.markRunnerInstalled(vm.ID)
	}
	if _, hasBundle := files[runner.BundleInstallPath]; hasBundle {
		if err := p.store.SetInstalledHash(ctx, key, digest); err != nil {
			return fmt.Errorf("record installed bundle hash: %w", err)
		}
	}
	return nil
}

// currentBundle reads the bundle through p.bundle on every call, in both
// modes, so a changed bundle is picked up by the next call. In production
// the last digest read is kept in cachedDigest, but the bundle content is
// still fetched from p.bundle each time; nothing is served from a cache.
func (p *Pool) currentBundle() ([]byte, string, error) {
	if !p.isDevelopment {
		p.digestMu.Lock()
		cached, valid := p.cachedDigest, p.digestValid
		p.digestMu.Unlock()
		if valid {
			content, digest, err := p.bundle.CurrentBundle()
			if err == nil && digest == cached {
				return content, digest, nil
			}
		}
	}
	content, digest, err := p.bundle.CurrentBundle()
	if err != nil {
		return nil, "", err
	}
	if !p.isDevelopment {
		p.digestMu.Lock()
		p.cachedDigest, p.digestValid = digest, true
		p.digestMu.Unlock()
	}
	return content, digest, nil
}

func (p *Pool) isRunnerInstalled(vmID string) bool {
	p.runnerMu.Lock()
	defer p.runnerMu.Unlock()
	return p.runnerInstalled[vmID]
}

func (p *Pool) markRunnerInstalled(vmID string) {
	p.runnerMu.Lock()
	defer p.runnerMu.Unlock()
	p.runnerInstalled[vmID] = true
}

// CallSandboxFn is spec.md §4.6's internal entry point
// `__runSandboxFn({ fnId, args, closureVars? })`, used by generated stubs
// (internal/codegen). If ctx carries a call-context, the call executes
// against that session's VM; otherwise an ephemeral VM is created,
// readied, used once, and guaranteed to be stopped afterward.
func (p *Pool) CallSandboxFn(ctx context.Context, fnID string, payload runner.Payload) (json.RawMessage, error) {
	if call, ok := callctx.SessionCallFrom(ctx); ok {
		return p.execute(ctx, call.VM, call.Sudo, fnID, payload)
	}
	return p.callEphemeral(ctx, fnID, payload)
}

// callEphemeral implements spec.md §4.6's fallback path: "create an
// ephemeral VM, ensure readiness, execute, and stop the VM in a
// guaranteed-release cleanup path."
func (p *Pool) callEphemeral(ctx context.Context, fnID string, payload runner.Payload) (json.RawMessage, error) {
	vmCfg, err := p.vmConfigForCreate(ctx)
	if err != nil {
		return nil, err
	}
	vm, err := p.provisioner.Create(ctx, vmCfg)
	if err != nil {
		return nil, fmt.Errorf("provision ephemeral sandbox VM: %w", err)
	}
	metrics.Global().RecordVMCreated()
	defer func() {
		if stopErr := p.provisioner.Stop(ctx, vm); stopErr != nil {
			logging.Op().Warn("failed to stop ephemeral sandbox VM", "vm", vm.ID, "error", stopErr)
		}
		metrics.Global().RecordVMStopped()
	}()

	ephemeralKey := "ephemeral:" + vm.ID
	if err := p.ensureReady(ctx, ephemeralKey, vm); err != nil {
		return nil, err
	}
	return p.execute(ctx, vm, true, fnID, payload)
}

// execute invokes the runner inside vm and parses its reply (spec.md
// §4.6: "invokes the VM's command interface ... The orchestrator
// captures the VM's stdout and stderr, splits stdout into lines, parses
// the final line as JSON"). The call is wrapped in a span carrying vm.ID
// and fnID, and the span's W3C trace context is injected into the
// payload sent to the VM (internal/observability.ExtractTraceContext),
// so a call nested through callctx keeps the same trace across the
// sandbox boundary.
func (p *Pool) execute(ctx context.Context, vm sandboxapi.VMHandle, sudo bool, fnID string, payload runner.Payload) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "sandboxpool.execute",
		observability.AttrFunctionID.String(fnID),
		observability.AttrVMID.String(vm.ID),
	)
	defer span.End()

	start := time.Now()
	result, err := p.doExecute(ctx, vm, sudo, fnID, payload)
	metrics.Global().RecordInvocation(fnID, fnID, time.Since(start), err == nil)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	observability.SetSpanOK(span)
	return result, nil
}

func (p *Pool) doExecute(ctx context.Context, vm sandboxapi.VMHandle, sudo bool, fnID string, payload runner.Payload) (json.RawMessage, error) {
	tc := observability.ExtractTraceContext(ctx)
	payload.TraceParent = tc.TraceParent
	payload.TraceState = tc.TraceState

	program, args, err := runner.Command(fnID, payload)
	if err != nil {
		return nil, err
	}

	res, err := p.provisioner.RunCommand(ctx, vm, program, args, sudo)
	if err != nil {
		return nil, fmt.Errorf("run sandboxed call: %w", err)
	}

	line := lastNonEmptyLine(res.Stdout)
	var r wire.Reply
	if line == "" || json.Unmarshal([]byte(line), &r) != nil {
		return nil, fmt.Errorf("sandbox call produced no parsable reply\nstdout:\n%s\nstderr:\n%s", res.Stdout, res.Stderr)
	}
	if r.Error != "" {
		if r.Stack != "" {
			return nil, fmt.Errorf("%s\n%s", r.Error, r.Stack)
		}
		return nil, fmt.Errorf("%s", r.Error)
	}
	return r.Result, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}
