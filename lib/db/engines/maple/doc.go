// Package maple implements an ordered in-memory key-value database (KVDB). It
// provides a complete implementation of the db.KVDB interface and is the engine
// underneath the sector store (lib/store).
//
// The package focuses on:
//   - Concurrent access through sharding on top of xsync.MapOf
//   - Ordered iteration and deterministic binary snapshots
//   - Statistics for monitoring via GetInfo
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages the
//     shards, assigns a monotonically increasing write sequence to every Set and
//     provides the public API for key-value operations.
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Each shard holds its own xsync.MapOf keyed by the raw key string, so two
//     different keys never collide even if their hashes do.
//
//   - Entry: The stored value together with the write sequence that produced it.
//
// Internal Mechanisms:
//
//   - Sharding Strategy: Keys are distributed across shards in a two-step process:
//     1. String keys are converted to 64-bit integers using the HashString function
//     with a database-specific seed
//     2. The integer key is right-shifted by 7 bits to use higher-quality bits for
//     distribution
//
//   - Ordering: Shards are unordered. ForAll and Save collect the entries of every
//     shard and sort them by key. The sector store keeps a few thousand records at
//     most, which makes the sort cheaper than maintaining a tree on every write.
//
//   - Persistence Format: The database uses a compact binary format with the
//     following structure:
//     1. Magic number "MAPLEDB\x00" to identify the file format
//     2. Version number (currently 4)
//     3. Number of entries
//     4. For each entry in ascending key order: key length, key bytes, value
//     length, value bytes
//     Neither the hash seed nor the write sequence is persisted, so two databases
//     holding the same entries produce byte-identical snapshots. Load assigns
//     fresh sequence numbers in key order.
//     Note: The database is not locked during snapshot creation. Save takes a fuzzy
//     snapshot that does not represent a consistent cut under concurrent writes.
//     Load only replaces the state after the whole snapshot was decoded, a truncated
//     snapshot leaves the database untouched.
package maple
