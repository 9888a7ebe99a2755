package sandboxpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/sandboxjs/runtime/internal/callctx"
	"github.com/sandboxjs/runtime/internal/runner"
	"github.com/sandboxjs/runtime/internal/sandboxapi"
)

// fakeProvisioner is a minimal in-memory SandboxProvisioner that, on
// RunCommand, returns a canned reply so execute()'s parsing can be
// exercised without a real node runtime.
type fakeProvisioner struct {
	mu         sync.Mutex
	created    int
	stopped    []string
	writes     []map[string][]byte
	createEnvs []map[string]string
	nextReply  string
	runErr     error
}

func (f *fakeProvisioner) Create(ctx context.Context, cfg sandboxapi.Config) (sandboxapi.VMHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.createEnvs = append(f.createEnvs, cfg.Env)
	return sandboxapi.VMHandle{ID: fmt.Sprintf("vm-%d", f.created)}, nil
}

func (f *fakeProvisioner) WriteFiles(ctx context.Context, vm sandboxapi.VMHandle, files map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, files)
	return nil
}

func (f *fakeProvisioner) RunCommand(ctx context.Context, vm sandboxapi.VMHandle, program string, args []string, sudo bool) (sandboxapi.CommandResult, error) {
	if f.runErr != nil {
		return sandboxapi.CommandResult{}, f.runErr
	}
	return sandboxapi.CommandResult{Stdout: f.nextReply, ExitCode: 0}, nil
}

func (f *fakeProvisioner) Stop(ctx context.Context, vm sandboxapi.VMHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, vm.ID)
	return nil
}

// fakeBundle is a static BundleSource.
type fakeBundle struct {
	content []byte
	digest  string
}

func (b *fakeBundle) CurrentBundle() ([]byte, string, error) {
	return b.content, b.digest, nil
}

// fakeStore is an in-memory installstore.Store.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]string)} }

func (s *fakeStore) GetInstalledHash(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) SetInstalledHash(ctx context.Context, key string, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = digest
	return nil
}

func (s *fakeStore) Close() error { return nil }

func newTestPool(prov *fakeProvisioner) *Pool {
	return New(Config{
		Provisioner: prov,
		Store:       newFakeStore(),
		Bundle:      &fakeBundle{content: []byte("bundle-v1"), digest: "digest-v1"},
	})
}

func TestRunProvisionsOneVMPerKey(t *testing.T) {
	prov := &fakeProvisioner{}
	p := newTestPool(prov)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Run(ctx, RunOptions{Key: "session-a"}, func(ctx context.Context) (any, error) {
			call, ok := callctx.SessionCallFrom(ctx)
			if !ok {
				t.Fatalf("expected call-context to be bound inside Run")
			}
			_ = call
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	if prov.created != 1 {
		t.Fatalf("expected exactly 1 VM created across repeated Run calls with the same key, got %d", prov.created)
	}
	if p.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p.Size())
	}
}

func TestRunDistinctKeysGetDistinctVMs(t *testing.T) {
	prov := &fakeProvisioner{}
	p := newTestPool(prov)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := p.Run(ctx, RunOptions{Key: key}, func(ctx context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatalf("Run(%s): %v", key, err)
		}
	}
	if prov.created != 3 {
		t.Fatalf("expected 3 VMs for 3 distinct keys, got %d", prov.created)
	}
}

func TestEnsureReadyInstallsRunnerAndBundleOnce(t *testing.T) {
	prov := &fakeProvisioner{}
	p := newTestPool(prov)
	ctx := context.Background()

	run := func() {
		_, err := p.Run(ctx, RunOptions{Key: "k"}, func(ctx context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	run()
	run()
	run()

	if len(prov.writes) != 1 {
		t.Fatalf("expected exactly 1 WriteFiles call (runner+bundle installed once), got %d", len(prov.writes))
	}
	files := prov.writes[0]
	if _, ok := files[runner.InstallPath]; !ok {
		t.Fatalf("expected runner to be written on first install")
	}
	if _, ok := files[runner.BundleInstallPath]; !ok {
		t.Fatalf("expected bundle to be written on first install")
	}
}

func TestEnsureReadyReinstallsBundleOnDigestChange(t *testing.T) {
	prov := &fakeProvisioner{}
	store := newFakeStore()
	bundle := &fakeBundle{content: []byte("v1"), digest: "digest-1"}
	p := New(Config{Provisioner: prov, Store: store, Bundle: bundle})
	ctx := context.Background()

	if _, err := p.Run(ctx, RunOptions{Key: "k"}, func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bundle.content, bundle.digest = []byte("v2"), "digest-2"
	if _, err := p.Run(ctx, RunOptions{Key: "k"}, func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(prov.writes) != 2 {
		t.Fatalf("expected a second WriteFiles call after digest change, got %d writes", len(prov.writes))
	}
	second := prov.writes[1]
	if _, ok := second[runner.InstallPath]; ok {
		t.Fatalf("runner should not be rewritten once installed")
	}
	if string(second[runner.BundleInstallPath]) != "v2" {
		t.Fatalf("expected updated bundle content to be written, got %q", second[runner.BundleInstallPath])
	}
}

func TestStopRemovesSessionAndStopsVM(t *testing.T) {
	prov := &fakeProvisioner{}
	p := newTestPool(prov)
	ctx := context.Background()

	if _, err := p.Run(ctx, RunOptions{Key: "k"}, func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := p.Stop(ctx, "k"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Size() != 0 {
		t.Fatalf("expected pool size 0 after Stop, got %d", p.Size())
	}
	if len(prov.stopped) != 1 {
		t.Fatalf("expected exactly 1 VM stopped, got %d", len(prov.stopped))
	}
}

func TestCallSandboxFnUsesSessionVMWhenContextPresent(t *testing.T) {
	prov := &fakeProvisioner{nextReply: `{"__result":42}`}
	p := newTestPool(prov)
	ctx := context.Background()

	result, err := p.Run(ctx, RunOptions{Key: "k"}, func(ctx context.Context) (any, error) {
		return p.CallSandboxFn(ctx, "fn_abc", runner.Payload{})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	raw, ok := result.(json.RawMessage)
	if !ok {
		t.Fatalf("expected json.RawMessage result, got %T", result)
	}
	if string(raw) != "42" {
		t.Fatalf("expected __result 42, got %s", raw)
	}
	// Session VM creation (1) should be the only VM; no ephemeral VM created.
	if prov.created != 1 {
		t.Fatalf("expected no ephemeral VM when a call-context is present, got %d VMs created", prov.created)
	}
}

func TestCallSandboxFnCreatesEphemeralVMWithoutContext(t *testing.T) {
	prov := &fakeProvisioner{nextReply: `{"__result":"ok"}`}
	p := newTestPool(prov)
	ctx := context.Background()

	result, err := p.CallSandboxFn(ctx, "fn_abc", runner.Payload{})
	if err != nil {
		t.Fatalf("CallSandboxFn: %v", err)
	}
	if string(result) != `"ok"` {
		t.Fatalf("expected __result \"ok\", got %s", result)
	}
	if prov.created != 1 || len(prov.stopped) != 1 {
		t.Fatalf("expected ephemeral VM to be created and stopped exactly once, got created=%d stopped=%d", prov.created, len(prov.stopped))
	}
}

func TestCallSandboxFnReconstructsErrorWithStack(t *testing.T) {
	prov := &fakeProvisioner{nextReply: `{"__error":"boom","__stack":"at fn (bundle.js:1:1)"}`}
	p := newTestPool(prov)

	_, err := p.CallSandboxFn(context.Background(), "fn_abc", runner.Payload{})
	if err == nil {
		t.Fatalf("expected error from __error reply")
	}
	if got := err.Error(); got != "boom\nat fn (bundle.js:1:1)" {
		t.Fatalf("unexpected error message: %q", got)
	}
}

func TestCallSandboxFnWrapsUnparsableReply(t *testing.T) {
	prov := &fakeProvisioner{nextReply: "not json at all\n"}
	p := newTestPool(prov)

	_, err := p.CallSandboxFn(context.Background(), "fn_abc", runner.Payload{})
	if err == nil {
		t.Fatalf("expected an error for unparsable reply")
	}
}

func TestRunRejectsEmptyKey(t *testing.T) {
	p := newTestPool(&fakeProvisioner{})
	_, err := p.Run(context.Background(), RunOptions{}, func(ctx context.Context) (any, error) { return nil, nil })
	if err == nil {
		t.Fatalf("expected error for empty session key")
	}
}

func TestCreatePassesThroughEnvUnresolvedWithoutSecretsResolver(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(Config{
		Provisioner: prov,
		Store:       newFakeStore(),
		Bundle:      &fakeBundle{content: []byte("bundle-v1"), digest: "digest-v1"},
		VM:          sandboxapi.Config{Env: map[string]string{"API_KEY": "$SECRET:api-key"}},
	})

	_, err := p.Run(context.Background(), RunOptions{Key: "session-a"}, func(ctx context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(prov.createEnvs) != 1 {
		t.Fatalf("expected exactly one Create call, got %d", len(prov.createEnvs))
	}
	if got := prov.createEnvs[0]["API_KEY"]; got != "$SECRET:api-key" {
		t.Fatalf("expected unresolved secret reference without a resolver, got %q", got)
	}
}
