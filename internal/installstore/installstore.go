// Package installstore implements the persistent install-state store
// named in spec.md §4.7: a key-value mapping from session key to the
// bundle digest last installed into that session's VM, consulted on the
// slow path when the in-process readiness cache is cold (fresh host
// process, or a session never seen by this instance).
//
// Grounded on teacher's dual-state pattern in internal/store: an
// in-process cache (store.CachedMetadataStore's sync.Map fields) backed
// by a durable store consulted when the cache misses. Store is the
// pluggable interface spec.md §4.7 names with exactly two methods,
// GetInstalledHash and SetInstalledHash; FileStore is the development
// default and PostgresStore is the production implementation, grounded
// on internal/store/postgres.go's pgxpool.Pool usage.
package installstore

import "context"

// Store is the pluggable persistent install-state interface spec.md §4.7
// names: "getInstalledHash(key) -> digest|null" and
// "setInstalledHash(key, digest)".
type Store interface {
	// GetInstalledHash returns the bundle digest last recorded as
	// installed for key, or ("", false) if none is recorded.
	GetInstalledHash(ctx context.Context, key string) (digest string, ok bool, err error)
	// SetInstalledHash records digest as the bundle installed for key.
	SetInstalledHash(ctx context.Context, key string, digest string) error
	// Close releases any resources held by the store.
	Close() error
}
