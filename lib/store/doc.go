// Package store provides a transactional key-value store with fixed-size keys
// on top of the db.KVDB engines. It is the persistence layer of the world
// storage: every sector record is read and written through an IStore.
//
// The package focuses on:
//   - A unified interface (IStore) with buffered writes and explicit Commit/Rollback
//   - A self-describing device header that gates opening on a content identifier
//     and a key size
//   - Pluggable storage engines through the DBFactory pattern
//   - Typed errors (Error with a RetCode) that work with errors.Is
//
// Key Components:
//
//   - IStore Interface: Find, ForAll, Insert, Remove, Commit, Rollback, Snapshot and
//     Close. Reads see committed data overlaid with the pending buffer. A commit is
//     the only point where data reaches the device.
//
//   - Device: Any random-access medium providing ReadAt, WriteAt, Truncate, Sync and
//     Stat. *os.File satisfies it for real worlds, afero in-memory files for tests and
//     ephemeral worlds.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages. ErrFormatMismatch, ErrInvalidKeySize and ErrClosed are
//     the sentinels callers are expected to test for.
//
// Implementations:
//
//	The lstore package ("github.com/ValentinKolb/sectorkv/lib/store/lstore") provides
//	the local, device-backed implementation. It keeps the committed state in a
//	db.KVDB and writes a full snapshot of it on every commit.
package store
