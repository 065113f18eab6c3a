package lstore

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/ValentinKolb/sectorkv/lib/db"
	"github.com/ValentinKolb/sectorkv/lib/store"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger of the local store
var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Header Layout
// --------------------------------------------------------------------------

const (
	headerMagic   = "SECTORKV"
	formatVersion = 1

	// magic | version uint16 | content identifier | key size uint32 |
	// payload offset uint64 | payload length uint64 | payload checksum uint64
	headerSize = len(headerMagic) + 2 + store.ContentIdentifierSize + 4 + 8 + 8 + 8
)

type header struct {
	version    uint16
	identifier string
	keySize    uint32
	payloadOff uint64
	payloadLen uint64
	checksum   uint64
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	off := copy(buf, headerMagic)
	binary.BigEndian.PutUint16(buf[off:], h.version)
	off += 2
	copy(buf[off:off+store.ContentIdentifierSize], h.identifier)
	off += store.ContentIdentifierSize
	binary.BigEndian.PutUint32(buf[off:], h.keySize)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], h.payloadOff)
	binary.BigEndian.PutUint64(buf[off+8:], h.payloadLen)
	binary.BigEndian.PutUint64(buf[off+16:], h.checksum)
	return buf
}

func decodeHeader(buf []byte) (header, bool) {
	if len(buf) != headerSize || string(buf[:len(headerMagic)]) != headerMagic {
		return header{}, false
	}
	off := len(headerMagic)
	h := header{version: binary.BigEndian.Uint16(buf[off:])}
	off += 2
	h.identifier = string(bytes.TrimRight(buf[off:off+store.ContentIdentifierSize], "\x00"))
	off += store.ContentIdentifierSize
	h.keySize = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.payloadOff = binary.BigEndian.Uint64(buf[off:])
	h.payloadLen = binary.BigEndian.Uint64(buf[off+8:])
	h.checksum = binary.BigEndian.Uint64(buf[off+16:])
	return h, true
}

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

// pendingWrite is a buffered insert (removed == false) or removal
type pendingWrite struct {
	value   []byte
	removed bool
}

type storeImpl struct {
	device     store.Device
	db         db.KVDB
	opts       store.Options
	pending    map[string]pendingWrite
	payloadOff int64 // location of the committed payload on the device
	payloadLen int64
	closed     bool
}

// Create writes an empty store to the device and returns it opened.
// Any previous content of the device is overwritten.
//
// Thread-safety: The returned store is not thread-safe.
func Create(device store.Device, opts store.Options) (store.IStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := newStore(device, opts)
	if err := s.persist(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	Logger.Debugf("created store %q (key size %d)", opts.ContentIdentifier, opts.KeySize)
	return s, nil
}

// Open reads an existing store from the device. The header must carry exactly the
// content identifier and key size of opts, otherwise store.ErrFormatMismatch is returned.
//
// Thread-safety: The returned store is not thread-safe.
func Open(device store.Device, opts store.Options) (store.IStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	info, err := device.Stat()
	if err != nil {
		return nil, errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "stat device")
	}
	if info.Size() < int64(headerSize) {
		return nil, errors.Wrapf(store.ErrFormatMismatch, "device holds %d bytes, header needs %d", info.Size(), headerSize)
	}

	buf := make([]byte, headerSize)
	if _, err := device.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "read header")
	}

	h, ok := decodeHeader(buf)
	switch {
	case !ok:
		return nil, errors.Wrap(store.ErrFormatMismatch, "missing store magic")
	case h.version != formatVersion:
		return nil, errors.Wrapf(store.ErrFormatMismatch, "format version %d, expected %d", h.version, formatVersion)
	case h.identifier != opts.ContentIdentifier:
		return nil, errors.Wrapf(store.ErrFormatMismatch, "content identifier %q, expected %q", h.identifier, opts.ContentIdentifier)
	case int(h.keySize) != opts.KeySize:
		return nil, errors.Wrapf(store.ErrFormatMismatch, "key size %d, expected %d", h.keySize, opts.KeySize)
	}

	end := h.payloadOff + h.payloadLen
	if h.payloadOff < uint64(headerSize) || end < h.payloadOff || end > uint64(info.Size()) {
		return nil, errors.Wrapf(store.NewError(store.RetCDeviceError, "truncated store"),
			"payload needs bytes %d to %d, device holds %d", h.payloadOff, end, info.Size())
	}

	payload := make([]byte, h.payloadLen)
	// ReaderAt may report io.EOF together with a complete read
	if n, err := device.ReadAt(payload, int64(h.payloadOff)); n != len(payload) {
		return nil, errors.Wrapf(store.NewError(store.RetCDeviceError, "short payload read"), "read payload: %v", err)
	}
	if xxhash.Sum64(payload) != h.checksum {
		return nil, errors.Wrap(store.NewError(store.RetCDeviceError, "payload checksum mismatch"), "read payload")
	}

	s := newStore(device, opts)
	if err := s.db.Load(bytes.NewReader(payload)); err != nil {
		_ = s.db.Close()
		return nil, errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "load payload")
	}
	s.payloadOff, s.payloadLen = int64(h.payloadOff), int64(h.payloadLen)
	Logger.Debugf("opened store %q with %d records", opts.ContentIdentifier, s.db.Len())
	return s, nil
}

func newStore(device store.Device, opts store.Options) *storeImpl {
	return &storeImpl{
		device:  device,
		db:      opts.NewDB(),
		opts:    opts,
		pending: make(map[string]pendingWrite),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (s *storeImpl) check(key string) error {
	if s.closed {
		return store.ErrClosed
	}
	if len(key) != s.opts.KeySize {
		return errors.Wrapf(store.ErrInvalidKeySize, "key length %d, expected %d", len(key), s.opts.KeySize)
	}
	return nil
}

// persist writes the engine snapshot next to the committed payload and only then
// switches the header to it. A failure at any step leaves the previous header and
// payload intact.
func (s *storeImpl) persist() error {
	var payload bytes.Buffer
	if err := s.db.Save(&payload); err != nil {
		return errors.Wrap(store.NewError(store.RetCInternalError, err.Error()), "snapshot engine")
	}

	// reuse the space in front of the committed payload if the snapshot fits, else append
	off := int64(headerSize)
	if off+int64(payload.Len()) > s.payloadOff {
		off = max(s.payloadOff+s.payloadLen, int64(headerSize))
	}

	h := header{
		version:    formatVersion,
		identifier: s.opts.ContentIdentifier,
		keySize:    uint32(s.opts.KeySize),
		payloadOff: uint64(off),
		payloadLen: uint64(payload.Len()),
		checksum:   xxhash.Sum64(payload.Bytes()),
	}

	if _, err := s.device.WriteAt(payload.Bytes(), off); err != nil {
		return errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "write payload")
	}
	if err := s.device.Sync(); err != nil {
		return errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "sync payload")
	}
	if _, err := s.device.WriteAt(h.encode(), 0); err != nil {
		return errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "write header")
	}
	if err := s.device.Sync(); err != nil {
		return errors.Wrap(store.NewError(store.RetCDeviceError, err.Error()), "sync header")
	}
	s.payloadOff, s.payloadLen = off, int64(payload.Len())

	// the old payload is unreferenced now, failing to drop it does not fail the commit
	if err := s.device.Truncate(off + int64(payload.Len())); err != nil {
		Logger.Warningf("truncate device after commit: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Find(key string) ([]byte, bool, error) {
	if err := s.check(key); err != nil {
		return nil, false, err
	}
	if p, ok := s.pending[key]; ok {
		if p.removed {
			return nil, false, nil
		}
		value := make([]byte, len(p.value))
		copy(value, p.value)
		return value, true, nil
	}
	value, ok := s.db.Get(key)
	return value, ok, nil
}

func (s *storeImpl) ForAll(fn func(key string, value []byte) bool) error {
	if s.closed {
		return store.ErrClosed
	}

	pendingKeys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		pendingKeys = append(pendingKeys, k)
	}
	sort.Strings(pendingKeys)

	// merge the committed entries with the sorted pending writes
	i := 0
	stopped := false
	emitPending := func(k string) bool {
		p := s.pending[k]
		if p.removed {
			return true
		}
		return fn(k, p.value)
	}

	s.db.ForAll(func(key string, value []byte) bool {
		for i < len(pendingKeys) && pendingKeys[i] < key {
			if !emitPending(pendingKeys[i]) {
				stopped = true
				return false
			}
			i++
		}
		if i < len(pendingKeys) && pendingKeys[i] == key {
			i++
			if !emitPending(key) {
				stopped = true
				return false
			}
			return true
		}
		if !fn(key, value) {
			stopped = true
			return false
		}
		return true
	})

	for ; !stopped && i < len(pendingKeys); i++ {
		if !emitPending(pendingKeys[i]) {
			break
		}
	}
	return nil
}

func (s *storeImpl) Insert(key string, value []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.pending[key] = pendingWrite{value: valueCopy}
	return nil
}

func (s *storeImpl) Remove(key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.pending[key] = pendingWrite{removed: true}
	return nil
}

func (s *storeImpl) Commit() error {
	if s.closed {
		return store.ErrClosed
	}
	if len(s.pending) == 0 {
		return nil
	}

	// remember the committed values so a failed persist can restore them
	undo := make(map[string]pendingWrite, len(s.pending))
	for key := range s.pending {
		if old, ok := s.db.Get(key); ok {
			undo[key] = pendingWrite{value: old}
		} else {
			undo[key] = pendingWrite{removed: true}
		}
	}

	s.apply(s.pending)
	if err := s.persist(); err != nil {
		s.apply(undo)
		return err
	}

	n := len(s.pending)
	s.pending = make(map[string]pendingWrite)
	Logger.Debugf("committed %d writes (%d records)", n, s.db.Len())
	return nil
}

func (s *storeImpl) apply(writes map[string]pendingWrite) {
	for key, p := range writes {
		if p.removed {
			s.db.Delete(key)
		} else {
			s.db.Set(key, p.value)
		}
	}
}

func (s *storeImpl) Rollback() error {
	if s.closed {
		return store.ErrClosed
	}
	if len(s.pending) > 0 {
		Logger.Debugf("rolled back %d writes", len(s.pending))
	}
	s.pending = make(map[string]pendingWrite)
	return nil
}

func (s *storeImpl) Pending() int {
	return len(s.pending)
}

func (s *storeImpl) Snapshot() ([]store.Record, error) {
	if s.closed {
		return nil, store.ErrClosed
	}
	records := make([]store.Record, 0, s.db.Len())
	s.db.ForAll(func(key string, value []byte) bool {
		v := make([]byte, len(value))
		copy(v, value)
		records = append(records, store.Record{Key: key, Value: v})
		return true
	})
	return records, nil
}

func (s *storeImpl) KeySize() int {
	return s.opts.KeySize
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	if s.closed {
		return db.DatabaseInfo{}, store.ErrClosed
	}
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	return s.db.Close()
}
