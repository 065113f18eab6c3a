// Package db provides a standardized interface for ordered key-value database
// implementations. It is the primitive underneath the store adapter
// (github.com/ValentinKolb/sectorkv/lib/store) and therefore the bottom of the
// sector storage stack.
//
// The package focuses on:
//   - A unified interface for key-value operations
//   - Ordered iteration over all entries (ForAll)
//   - Feature discovery through capability flags
//   - Standardized binary persistence operations
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Set, Get, Has, Delete),
//     ordered iteration (ForAll), metadata retrieval (GetInfo),
//     and persistence operations (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Implementation Identifiers: The Implementation type provides string constants
//     for different database backends (currently "maple").
//
//   - Database Information: The DatabaseInfo structure reports size estimates,
//     entry count, implementation type and implementation-specific metadata.
//
// Note on Persistence:
//   - Save writes a self-describing snapshot (magic number, format version and all
//     entries in ascending key order). Two databases holding the same entries
//     produce byte-identical snapshots.
//   - Load replaces the whole database state. A snapshot with a foreign magic number
//     or an unsupported version must be rejected with an error.
//
// Note on Write Semantics:
//   - A KVDB applies writes immediately; there is no transaction concept at this
//     level. Buffering, commit and rollback are the responsibility of the store
//     adapter which only calls Set/Delete when a commit is applied.
//
// Related Packages:
//
// The engines/maple package provides a sharded in-memory implementation of the
// KVDB interface backed by xsync maps.
//
// The util package provides hash functions, the MapHeap priority queue and
// statistics helpers used by engines and by the world storage.
//
// The testing package provides the standardized conformance suite
// (RunKVDBTests) and benchmarks (RunKVDBBenchmarks) for KVDB implementations.
package db
