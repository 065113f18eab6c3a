package world

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// TileSerializationVersion is the tile format written by this package
const TileSerializationVersion uint16 = 1

// tileBytes is the encoded size of a single Tile
const tileBytes = 10

// ErrCorruptRecord is returned for stored records that cannot be decoded
var ErrCorruptRecord = errors.New("corrupt world record")

// --------------------------------------------------------------------------
// Compression
// --------------------------------------------------------------------------

// Encoder and decoder are safe for concurrent EncodeAll / DecodeAll calls
var zstdEncoder, zstdDecoder = newZstd()

func newZstd() (*zstd.Encoder, *zstd.Decoder) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return enc, dec
}

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2+16))
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decompress record"), ErrCorruptRecord)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Binary helpers
// --------------------------------------------------------------------------

type recordWriter struct {
	buf []byte
}

func (w *recordWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *recordWriter) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *recordWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *recordWriter) f64(v float64) { w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v)) }

func (w *recordWriter) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *recordWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// recordReader remembers the first error, all reads after it return zero values
type recordReader struct {
	buf []byte
	err error
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = errors.Mark(errors.Newf("record truncated: need %d bytes, have %d", n, len(r.buf)), ErrCorruptRecord)
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *recordReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *recordReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *recordReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *recordReader) f64() float64 {
	if b := r.take(8); b != nil {
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (r *recordReader) blob() []byte {
	n := r.u32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *recordReader) str() string {
	n := r.u32()
	return string(r.take(int(n)))
}

// done fails on trailing garbage
func (r *recordReader) done() error {
	if r.err == nil && len(r.buf) > 0 {
		r.err = errors.Mark(errors.Newf("record has %d trailing bytes", len(r.buf)), ErrCorruptRecord)
	}
	return r.err
}

// --------------------------------------------------------------------------
// Tile sector store
// --------------------------------------------------------------------------

// TileSectorStore is the stored form of the tiles of one sector
type TileSectorStore struct {
	GenerationLevel          GenerationLevel
	TileSerializationVersion uint16
	Tiles                    []Tile // SectorSize*SectorSize tiles, row major
}

func encodeTileSector(ts TileSectorStore) []byte {
	w := recordWriter{buf: make([]byte, 0, 7+len(ts.Tiles)*tileBytes)}
	w.u8(uint8(ts.GenerationLevel))
	w.u16(ts.TileSerializationVersion)
	w.u32(uint32(len(ts.Tiles)))
	for _, t := range ts.Tiles {
		w.u16(uint16(t.Foreground))
		w.u16(uint16(t.Background))
		w.u16(uint16(t.ForegroundMod))
		w.u16(uint16(t.BackgroundMod))
		w.u8(uint8(t.Liquid))
		w.u8(t.LiquidLevel)
	}
	return w.buf
}

func decodeTileSector(data []byte, sectorSize int) (TileSectorStore, error) {
	r := recordReader{buf: data}
	ts := TileSectorStore{
		GenerationLevel:          GenerationLevel(r.u8()),
		TileSerializationVersion: r.u16(),
	}
	count := int(r.u32())
	if r.err != nil {
		return ts, r.err
	}
	if ts.TileSerializationVersion != TileSerializationVersion {
		return ts, errors.Mark(errors.Newf("unsupported tile serialization version %d", ts.TileSerializationVersion), ErrCorruptRecord)
	}
	if ts.GenerationLevel > GenerationComplete {
		return ts, errors.Mark(errors.Newf("invalid generation level %d", ts.GenerationLevel), ErrCorruptRecord)
	}
	if count != sectorSize*sectorSize {
		return ts, errors.Mark(errors.Newf("tile sector holds %d tiles, expected %d", count, sectorSize*sectorSize), ErrCorruptRecord)
	}

	ts.Tiles = make([]Tile, count)
	for i := range ts.Tiles {
		ts.Tiles[i] = Tile{
			Foreground:    MaterialID(r.u16()),
			Background:    MaterialID(r.u16()),
			ForegroundMod: ModID(r.u16()),
			BackgroundMod: ModID(r.u16()),
			Liquid:        LiquidID(r.u8()),
			LiquidLevel:   r.u8(),
		}
	}
	return ts, r.done()
}

// --------------------------------------------------------------------------
// Entity sector store
// --------------------------------------------------------------------------

func encodeEntitySector(blobs [][]byte) []byte {
	w := recordWriter{}
	w.u32(uint32(len(blobs)))
	for _, b := range blobs {
		w.blob(b)
	}
	return w.buf
}

func decodeEntitySector(data []byte) ([][]byte, error) {
	r := recordReader{buf: data}
	count := r.u32()
	var blobs [][]byte
	for i := uint32(0); i < count && r.err == nil; i++ {
		blobs = append(blobs, r.blob())
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// --------------------------------------------------------------------------
// Unique index stores
// --------------------------------------------------------------------------

// UniqueEntry is the last known location of a unique entity
type UniqueEntry struct {
	Sector   Sector
	Position Vec2F
}

func encodeUniqueIndex(entries map[string]UniqueEntry) []byte {
	w := recordWriter{}
	w.u32(uint32(len(entries)))
	for _, id := range sortedKeys(entries) {
		e := entries[id]
		w.str(id)
		w.u16(uint16(e.Sector.X))
		w.u16(uint16(e.Sector.Y))
		w.f64(e.Position.X)
		w.f64(e.Position.Y)
	}
	return w.buf
}

func decodeUniqueIndex(data []byte) (map[string]UniqueEntry, error) {
	r := recordReader{buf: data}
	count := r.u32()
	entries := make(map[string]UniqueEntry)
	for i := uint32(0); i < count && r.err == nil; i++ {
		id := r.str()
		e := UniqueEntry{Sector: Sector{X: int(r.u16()), Y: int(r.u16())}}
		e.Position = Vec2F{X: r.f64(), Y: r.f64()}
		entries[id] = e
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeSectorUniques(ids []string) []byte {
	w := recordWriter{}
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.str(id)
	}
	return w.buf
}

func decodeSectorUniques(data []byte) ([]string, error) {
	r := recordReader{buf: data}
	count := r.u32()
	var ids []string
	for i := uint32(0); i < count && r.err == nil; i++ {
		ids = append(ids, r.str())
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return ids, nil
}

// --------------------------------------------------------------------------
// World header
// --------------------------------------------------------------------------

// VersionedMetadata is an opaque, versioned document owned by the caller.
// Migration between versions is the caller's responsibility.
type VersionedMetadata struct {
	Identifier string          `json:"identifier"`
	Version    int             `json:"version"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// WorldHeader is stored under the metadata key
type WorldHeader struct {
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	SectorSize int               `json:"sector_size"`
	Metadata   VersionedMetadata `json:"metadata"`
}

func encodeWorldHeader(h WorldHeader) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "encode world header")
	}
	return data, nil
}

func decodeWorldHeader(data []byte) (WorldHeader, error) {
	var h WorldHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return h, errors.Mark(errors.Wrap(err, "decode world header"), ErrCorruptRecord)
	}
	if h.Width <= 0 || h.Height <= 0 || h.SectorSize <= 0 {
		return h, errors.Mark(errors.Newf("invalid world header %dx%d sector size %d", h.Width, h.Height, h.SectorSize), ErrCorruptRecord)
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
