package world

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Key Layout
// --------------------------------------------------------------------------

// KeySize is the length of every key in a world store
const KeySize = 5

// ContentIdentifier is written into the store header of every world file
const ContentIdentifier = "World4"

// KeyTag is the first byte of every key
type KeyTag uint8

const (
	TagMetadata      KeyTag = 0 // world header, rest of the key is zero
	TagTileSector    KeyTag = 1 // tile sector store, followed by sector X and Y
	TagEntitySector  KeyTag = 2 // entity sector store, followed by sector X and Y
	TagUniqueIndex   KeyTag = 3 // unique index shard, followed by the 32 bit shard hash
	TagSectorUniques KeyTag = 4 // sector unique set, followed by sector X and Y
)

func (t KeyTag) String() string {
	switch t {
	case TagMetadata:
		return "metadata"
	case TagTileSector:
		return "tile-sector"
	case TagEntitySector:
		return "entity-sector"
	case TagUniqueIndex:
		return "unique-index"
	case TagSectorUniques:
		return "sector-uniques"
	default:
		return fmt.Sprintf("KeyTag(%d)", uint8(t))
	}
}

// maxSectorCoordinate is the largest sector coordinate a key can carry
const maxSectorCoordinate = 1<<16 - 1

func metadataKey() string {
	return string([]byte{byte(TagMetadata), 0, 0, 0, 0})
}

// sectorKey encodes X and Y big endian. Callers only pass valid sectors,
// CreateNew rejects worlds with more sectors than a key can address.
func sectorKey(tag KeyTag, sector Sector) string {
	var k [KeySize]byte
	k[0] = byte(tag)
	binary.BigEndian.PutUint16(k[1:3], uint16(sector.X))
	binary.BigEndian.PutUint16(k[3:5], uint16(sector.Y))
	return string(k[:])
}

// uniqueShard maps a unique id to its index shard
func uniqueShard(uniqueID string) uint32 {
	return uint32(xxhash.Sum64String(uniqueID))
}

func uniqueIndexKey(shard uint32) string {
	var k [KeySize]byte
	k[0] = byte(TagUniqueIndex)
	binary.BigEndian.PutUint32(k[1:5], shard)
	return string(k[:])
}

// KeyInfo is a decoded world key
type KeyInfo struct {
	Tag    KeyTag
	Sector Sector // set for sector keyed tags
	Shard  uint32 // set for TagUniqueIndex
}

func (k KeyInfo) String() string {
	switch k.Tag {
	case TagMetadata:
		return k.Tag.String()
	case TagUniqueIndex:
		return fmt.Sprintf("%s %08x", k.Tag, k.Shard)
	default:
		return fmt.Sprintf("%s %s", k.Tag, k.Sector)
	}
}

// DecodeKey parses a raw store key
func DecodeKey(key string) (KeyInfo, error) {
	if len(key) != KeySize {
		return KeyInfo{}, errors.Newf("key has %d bytes, expected %d", len(key), KeySize)
	}
	b := []byte(key)
	info := KeyInfo{Tag: KeyTag(b[0])}
	switch info.Tag {
	case TagMetadata:
	case TagTileSector, TagEntitySector, TagSectorUniques:
		info.Sector = Sector{
			X: int(binary.BigEndian.Uint16(b[1:3])),
			Y: int(binary.BigEndian.Uint16(b[3:5])),
		}
	case TagUniqueIndex:
		info.Shard = binary.BigEndian.Uint32(b[1:5])
	default:
		return KeyInfo{}, errors.Newf("unknown key tag %d", b[0])
	}
	return info, nil
}
