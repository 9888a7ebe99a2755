// Package hostintegration defines the small interface this module
// depends on but never implements: the hosting framework's configuration
// hooks (spec.md §6, "host configuration hooks"). spec.md frames the
// hosting framework as "a collaborator" this system integrates with, not
// a subsystem it owns; Hooks is that collaborator boundary, in the same
// spirit as teacher's internal/backend.Backend interface, which
// internal/pool depends on without ever constructing an implementation
// of it itself.
package hostintegration

// TransformFunc is a build-time source transform registered for a set of
// file extensions (spec.md §4's "build-time source transformation").
// path is the file's project-relative path; source is its current
// content. TransformFunc returns the transformed source unchanged if it
// has nothing to do.
type TransformFunc func(path, source string) (string, error)

// Hooks is the host configuration surface spec.md §6 names. A concrete
// web/build framework (bundler plugin, dev-server middleware) implements
// this to wire the directive transform and runtime orchestrator into its
// own build pipeline; this module only calls it.
type Hooks interface {
	// RegisterTransform registers fn to run on every source file whose
	// extension is in exts (e.g. []string{".js", ".ts", ".jsx", ".tsx"}).
	RegisterTransform(exts []string, fn TransformFunc)

	// BuildOutputDir returns the project's build output directory, the
	// root beneath which the bundler's staging directory, bundle, and
	// manifest are written (spec.md §4.4, §4.7).
	BuildOutputDir() string

	// IsDevelopment reports whether the host is running in development
	// mode, used by the install-state read-cache policy (spec.md §4.7
	// step 1: "cached in production, re-read per call in development").
	IsDevelopment() bool
}
