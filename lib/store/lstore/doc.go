// Package lstore implements the local, device-backed store based on the
// store.IStore interface. It keeps the committed state in any db.KVDB
// implementation and persists a full snapshot of it to a store.Device on
// every commit.
//
// Key Features:
//   - Buffered writes with explicit Commit and Rollback
//   - Reads that overlay the pending buffer on the committed state
//   - A header gate on content identifier and key size
//   - Direct integration with db.KVDB implementations through store.DBFactory
//
// Device Layout:
//
//	offset 0   magic "SECTORKV"
//	offset 8   format version (uint16, big endian)
//	offset 10  content identifier (16 bytes, zero padded)
//	offset 26  key size (uint32, big endian)
//	offset 30  payload offset (uint64, big endian)
//	offset 38  payload length (uint64, big endian)
//	offset 46  payload checksum (xxhash64, big endian)
//	offset 54  payload area: db.KVDB snapshots (see the engine's Save format)
//
//	A commit writes the new snapshot into the payload area without touching the
//	committed one (in front of it if it fits, behind it otherwise), syncs, and then
//	rewrites the header to point at it. The device is truncated behind the new
//	snapshot afterwards. A failed or interrupted commit leaves the previous header
//	and snapshot readable; the engine and the pending buffer are restored so the
//	commit can be retried or rolled back.
//
// Thread Safety:
//
//	The local store is not thread-safe. The world storage drives it from a single
//	goroutine and the pending buffer is a plain map.
//
// Usage Example:
//
//	f, _ := os.OpenFile("world.db", os.O_RDWR|os.O_CREATE, 0o644)
//	s, err := lstore.Create(f, store.Options{ContentIdentifier: "World4", KeySize: 5})
//
//	_ = s.Insert("\x01\x00\x00\x00\x00", data)
//	_ = s.Commit()
package lstore
