// Package storage persists the repository registry across restarts.
//
// The only implementation is a BoltDB-backed store holding one bucket of
// JSON-encoded repository records keyed by repository id.
package storage
