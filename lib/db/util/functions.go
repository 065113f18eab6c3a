package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// UintKey is the 64-bit hash of a key, used to pick a shard
type UintKey uint64

// GenerateSeed returns a random hash seed. Every engine instance draws its own so
// shard placement differs between instances.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// HashString hashes s with the seeded xxhash64 digest
func HashString(s string, seed uint64) UintKey {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.WriteString(s)
	return UintKey(d.Sum64())
}
