// Package bundler implements spec.md §4.4: the project-level bundler.
//
// It accepts generated-module registrations as files are transformed,
// maintains a durable staging directory so multiple worker processes
// contribute to the same build, and — on request — scans that directory,
// computes a content digest, and shells out to an external ES-module
// bundler to produce a single installable bundle plus a manifest.
//
// Grounded on teacher's internal/compiler.Compiler: the same os/exec,
// external-toolchain-via-CommandContext, hash-and-skip-if-unchanged shape,
// with an external `esbuild` binary standing in for compiler.go's Docker
// invocation, and the same sha256-hex-truncated-to-16 digest convention
// used throughout the teacher (internal/pkg/crypto, compiler.go's
// hashBytes).
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sandboxjs/runtime/internal/observability"
	"github.com/sandboxjs/runtime/internal/pkg/crypto"
	"golang.org/x/sync/singleflight"
)

// Manifest is the "Bundle manifest" entity from spec.md §3.
type Manifest struct {
	Hash         string   `json:"hash"`
	BundleFile   string   `json:"bundleFile"`
	SandboxFiles []string `json:"sandboxFiles"`
	GeneratedAt  string   `json:"generatedAt"`
}

// generatedModuleExt is the suffix codegen.GeneratedModulePath always
// produces; Scan only considers files with this suffix staged.
const generatedModuleExt = ".sandbox.mjs"

// externalModules is spec.md §4.4's "standard list of externals (node
// built-ins and common framework packages)": these are never bundled, only
// referenced, because the sandbox VM's own Node runtime resolves them.
var externalModules = []string{
	"node:fs", "node:path", "node:os", "node:crypto", "node:http", "node:https",
	"node:stream", "node:events", "node:url", "node:util", "node:child_process",
	"node:buffer", "node:net", "node:tls", "node:zlib", "node:querystring",
	"node:assert", "node:perf_hooks", "node:worker_threads",
	"fs", "path", "os", "crypto", "http", "https", "stream", "events", "url",
	"util", "child_process", "buffer", "net", "tls", "zlib", "querystring",
	"express", "next", "react", "react-dom",
}

// Builder is spec.md §4.4's project-level bundler.
type Builder struct {
	stagingDir string // e.g. "<buildOutput>/.sandbox-temp"
	outputDir  string // e.g. "<buildOutput>/static/sandbox"
	esbuildBin string

	mu           sync.Mutex
	lastManifest *Manifest
	group        singleflight.Group
}

// New constructs a Builder rooted at buildOutputDir (spec.md §6's project
// build output path). esbuildBin is the path to (or bare name resolved via
// PATH of) the esbuild executable.
func New(buildOutputDir, esbuildBin string) *Builder {
	if esbuildBin == "" {
		esbuildBin = "esbuild"
	}
	return &Builder{
		stagingDir: filepath.Join(buildOutputDir, ".sandbox-temp"),
		outputDir:  filepath.Join(buildOutputDir, "static", "sandbox"),
		esbuildBin: esbuildBin,
	}
}

// Register writes one generated module to the staging directory so it
// survives across the worker processes a build may be split over (spec.md
// §4.4, §9 "Cross-process build state"). generatedPath is the deterministic
// path codegen.GeneratedModulePath already computed for this source file.
func (b *Builder) Register(generatedPath, content string) error {
	rel := strings.TrimPrefix(filepath.ToSlash(generatedPath), ".sandbox-temp/")
	full := filepath.Join(b.stagingDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write generated module %s: %w", generatedPath, err)
	}
	return nil
}

// Build rescans the staging directory, and — if the combined content digest
// differs from the last published manifest — invokes esbuild to produce a
// new bundle. Concurrent Build calls are coalesced via singleflight so only
// one esbuild invocation runs at a time (spec.md §9's file-based
// choreography combined with the teacher's own concurrent-build dedup
// idiom, internal/pool.Pool.group).
func (b *Builder) Build(ctx context.Context, nowRFC3339 string) (*Manifest, error) {
	ctx, span := observability.StartSpan(ctx, "bundler.Build")
	defer span.End()

	v, err, _ := b.group.Do("build", func() (any, error) {
		return b.build(ctx, nowRFC3339)
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	manifest := v.(*Manifest)
	span.SetAttributes(observability.AttrBundleHash.String(manifest.Hash))
	observability.SetSpanOK(span)
	return manifest, nil
}

func (b *Builder) build(ctx context.Context, nowRFC3339 string) (*Manifest, error) {
	files, err := b.scanStaged()
	if err != nil {
		return nil, fmt.Errorf("scan staging dir: %w", err)
	}

	digest, err := contentDigest(b.stagingDir, files)
	if err != nil {
		return nil, fmt.Errorf("compute content digest: %w", err)
	}

	b.mu.Lock()
	if b.lastManifest != nil && b.lastManifest.Hash == digest {
		cached := b.lastManifest
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	entryPath, err := b.writeEntryModule(files)
	if err != nil {
		return nil, fmt.Errorf("write entry module: %w", err)
	}
	defer os.Remove(entryPath)

	bundleFile := fmt.Sprintf("bundle-%s.js", digest)
	outPath := filepath.Join(b.outputDir, bundleFile)
	if err := b.runEsbuild(ctx, entryPath, outPath); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Hash:         digest,
		BundleFile:   bundleFile,
		SandboxFiles: files,
		GeneratedAt:  nowRFC3339,
	}
	if err := b.writeManifest(manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	b.mu.Lock()
	b.lastManifest = manifest
	b.mu.Unlock()
	return manifest, nil
}

// scanStaged walks the staging directory for generated modules and returns
// their paths relative to it, sorted for determinism (spec.md §4.4:
// "sort their paths for determinism").
func (b *Builder) scanStaged() ([]string, error) {
	var files []string
	err := filepath.Walk(b.stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, generatedModuleExt) {
			return nil
		}
		rel, err := filepath.Rel(b.stagingDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// contentDigest hashes the concatenation of every staged file's contents in
// canonical (sorted-path) order (spec.md §3: "hash is stable function of
// the concatenated contents of all generated modules in a canonical
// order"), reusing the teacher's sha256-hex-16 convention
// (internal/pkg/crypto.HashString).
func contentDigest(root string, relPaths []string) (string, error) {
	var buf bytes.Buffer
	for _, rel := range relPaths {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		buf.WriteString(rel)
		buf.WriteByte(0)
		buf.Write(content)
		buf.WriteByte(0)
	}
	return crypto.HashString(buf.String()), nil
}

// writeEntryModule writes a tiny entry point that re-exports everything
// from each generated module (spec.md §4.4) and returns its path.
func (b *Builder) writeEntryModule(relPaths []string) (string, error) {
	var sb strings.Builder
	for _, rel := range relPaths {
		sb.WriteString(fmt.Sprintf("export * from %q;\n", "./"+rel))
	}
	entryPath := filepath.Join(b.stagingDir, "__entry.sandbox.mjs")
	if err := os.WriteFile(entryPath, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return entryPath, nil
}

// runEsbuild shells out to the esbuild binary (spec.md §4.4: "invoke an
// ES-module bundler with the entry, `esm` output format targeting a modern
// server runtime, tree-shaking on, a standard list of externals").
func (b *Builder) runEsbuild(ctx context.Context, entryPath, outPath string) error {
	args := []string{
		entryPath,
		"--bundle",
		"--format=esm",
		"--platform=node",
		"--target=node20",
		"--tree-shaking=true",
		"--outfile=" + outPath,
	}
	for _, mod := range externalModules {
		args = append(args, "--external:"+mod)
	}

	cmd := exec.CommandContext(ctx, b.esbuildBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("esbuild failed: %w: %s", err, stderr.String())
	}
	return nil
}

func (b *Builder) writeManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(b.outputDir, "manifest.json")
	return os.WriteFile(path, data, 0o644)
}

// LastManifest returns the most recently published manifest, or nil if
// Build has never succeeded.
func (b *Builder) LastManifest() *Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastManifest
}

// CurrentBundle reads the bundle file named by the last published manifest
// and returns its content alongside the manifest's digest, satisfying
// spec.md §4.7 step 1 ("reads the current bundle content and digest").
// Returns an error if Build has never succeeded.
func (b *Builder) CurrentBundle() (content []byte, digest string, err error) {
	b.mu.Lock()
	m := b.lastManifest
	b.mu.Unlock()
	if m == nil {
		return nil, "", fmt.Errorf("no bundle has been built yet")
	}
	content, err = os.ReadFile(filepath.Join(b.outputDir, m.BundleFile))
	if err != nil {
		return nil, "", fmt.Errorf("read current bundle: %w", err)
	}
	return content, m.Hash, nil
}
