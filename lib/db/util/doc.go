// Package util provides utility components shared by the KVDB engines and
// the world storage.
//
// The package contains:
//   - functions: Seed generation and the seeded xxhash string hash used for sharding
//   - mapheap: A generic priority queue that also supports key-based access,
//     used as the sector generation queue
//   - statistics: Size sampling and shard balance statistics for engine reports
package util
