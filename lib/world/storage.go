package world

import (
	"math/rand"
	"time"

	"github.com/ValentinKolb/sectorkv/lib/store"
	"github.com/ValentinKolb/sectorkv/lib/store/lstore"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var (
	// ErrFatal marks every error that poisoned a Storage. The instance must not be used afterwards.
	ErrFatal = errors.New("fatal world storage failure")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("world storage is closed")
)

// WorldChunks is the raw content of a world store, key to stored (compressed) value
type WorldChunks map[string][]byte

// Storage maps a sector chunked world onto a key-value store and manages
// loading, generation, eviction and persistence of sectors.
//
// Thread-safety: Storage is not thread-safe and not reentrant. All methods,
// including the callbacks it issues into the GeneratorFacade, run on the
// caller's goroutine. Callers sharing a Storage must serialize access.
type Storage struct {
	opts     Options
	header   WorldHeader
	store    store.IStore
	metadata metadataTable
	queue    *generationQueue
	tiles    *TileArray
	entities *EntityMap
	rng      *rand.Rand
	log      logger.ILogger
	metrics  *storageMetrics

	poisoned error
	closed   bool
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// StoreOptions returns the store options of a world: content identifier, key size
// and the engine configured in opts
func StoreOptions(opts *Options) store.Options {
	return store.Options{
		ContentIdentifier: ContentIdentifier,
		KeySize:           KeySize,
		DBFactory:         opts.DBFactory,
	}
}

func withDefaults(opts *Options) *Options {
	if opts == nil {
		return DefaultOptions()
	}
	o := *opts
	if o.SectorSize == 0 {
		o.SectorSize = DefaultOptions().SectorSize
	}
	return &o
}

// CreateNew writes an empty world of the given size to the device and opens it.
// Existing content of the device is overwritten.
func CreateNew(device store.Device, size WorldSize, opts *Options) (*Storage, error) {
	opts = withDefaults(opts)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidOptions, "invalid world size %dx%d", size.Width, size.Height)
	}
	if size.Width > (maxSectorCoordinate+1)*opts.SectorSize || size.Height > (maxSectorCoordinate+1)*opts.SectorSize {
		return nil, errors.Wrapf(ErrInvalidOptions, "world size %dx%d needs more than %d sectors per axis",
			size.Width, size.Height, maxSectorCoordinate+1)
	}

	st, err := lstore.Create(device, StoreOptions(opts))
	if err != nil {
		return nil, errors.Wrap(err, "create world store")
	}

	header := WorldHeader{Width: size.Width, Height: size.Height, SectorSize: opts.SectorSize}
	s := newStorage(st, header, opts)
	if err := s.writeHeader(); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := s.commit(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

// OpenExisting opens the world stored on the device.
// A device that does not hold a world store fails with store.ErrFormatMismatch.
func OpenExisting(device store.Device, opts *Options) (*Storage, error) {
	opts = withDefaults(opts)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	st, err := lstore.Open(device, StoreOptions(opts))
	if err != nil {
		return nil, errors.Wrap(err, "open world store")
	}
	return openStore(st, opts)
}

// OpenEphemeral opens a world held entirely in memory, initialised from chunks
// previously returned by ReadChunks.
func OpenEphemeral(chunks WorldChunks, opts *Options) (*Storage, error) {
	opts = withDefaults(opts)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	device, err := afero.NewMemMapFs().Create("ephemeral.world")
	if err != nil {
		return nil, errors.Wrap(err, "create ephemeral device")
	}
	st, err := lstore.Create(device, StoreOptions(opts))
	if err != nil {
		return nil, errors.Wrap(err, "create ephemeral store")
	}
	for _, key := range sortedKeys(chunks) {
		if err := st.Insert(key, chunks[key]); err != nil {
			_ = st.Close()
			return nil, errors.Wrapf(err, "insert chunk %q", key)
		}
	}
	if err := st.Commit(); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "commit ephemeral store")
	}
	return openStore(st, opts)
}

// openStore reads the world header from an opened store
func openStore(st store.IStore, opts *Options) (*Storage, error) {
	raw, found, err := st.Find(metadataKey())
	if err == nil && !found {
		err = errors.Mark(errors.New("missing world header"), ErrCorruptRecord)
	}
	var header WorldHeader
	if err == nil {
		var data []byte
		if data, err = decompress(raw); err == nil {
			header, err = decodeWorldHeader(data)
		}
	}
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	o := *opts
	o.SectorSize = header.SectorSize
	return newStorage(st, header, &o), nil
}

func newStorage(st store.IStore, header WorldHeader, opts *Options) *Storage {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger("world")
	}

	s := &Storage{
		opts:     *opts,
		header:   header,
		store:    st,
		metadata: make(metadataTable),
		queue:    newGenerationQueue(),
		tiles:    NewTileArray(WorldSize{Width: header.Width, Height: header.Height}, header.SectorSize),
		entities: NewEntityMap(),
		rng:      rand.New(rand.NewSource(seed)),
		log:      log,
	}
	s.metrics = newStorageMetrics(s)
	return s
}

// --------------------------------------------------------------------------
// Fatal discipline
// --------------------------------------------------------------------------

// guard runs a sector operation. Any error rolls back and closes the store,
// after which every further call returns the same error.
func (s *Storage) guard(op string, fn func() error) error {
	if err := s.usable(); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		return nil
	}

	_ = s.store.Rollback()
	_ = s.store.Close()
	s.poisoned = errors.Mark(errors.Wrapf(err, "world storage %s", op), ErrFatal)
	s.log.Errorf("%s failed, storage closed: %v", op, err)
	return s.poisoned
}

func (s *Storage) usable() error {
	if s.poisoned != nil {
		return s.poisoned
	}
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Poisoned returns the error that made the storage unusable, or nil
func (s *Storage) Poisoned() error { return s.poisoned }

// --------------------------------------------------------------------------
// Record helpers
// --------------------------------------------------------------------------

func (s *Storage) readRecord(key string) ([]byte, bool, error) {
	raw, found, err := s.store.Find(key)
	if err != nil || !found {
		return nil, false, err
	}
	data, err := decompress(raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Storage) writeRecord(key string, data []byte) error {
	return s.store.Insert(key, compress(data))
}

func (s *Storage) removeRecord(key string) error {
	return s.store.Remove(key)
}

func (s *Storage) writeHeader() error {
	data, err := encodeWorldHeader(s.header)
	if err != nil {
		return err
	}
	return s.writeRecord(metadataKey(), data)
}

func (s *Storage) commit() error {
	if s.store.Pending() == 0 {
		return nil
	}
	if err := s.store.Commit(); err != nil {
		return err
	}
	s.metrics.commits.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Whole world operations
// --------------------------------------------------------------------------

// Sync stores every resident sector without unloading it and commits the store.
func (s *Storage) Sync() error {
	return s.guard("sync", func() error {
		if err := s.storeResident(); err != nil {
			return err
		}
		return s.commit()
	})
}

// storeResident writes the tiles and persistent entities of all resident sectors.
// Entities of untracked sectors are stored and removed from the live map.
func (s *Storage) storeResident() error {
	if err := s.storeOrphans(); err != nil {
		return err
	}
	for _, sector := range s.trackedSectors() {
		md := s.metadata[sector]
		if md.LoadLevel >= LoadLevelEntities {
			var persist []Entity
			for _, id := range s.ownEntities(sector) {
				if e, _ := s.entities.Get(id); s.opts.Generator.EntityPersistent(e) {
					persist = append(persist, e)
				}
			}
			if err := s.writeEntities(sector, persist, false); err != nil {
				return err
			}
		}
		if md.LoadLevel >= LoadLevelTiles {
			if err := s.writeTiles(sector, md.GenerationLevel); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadChunks stores all resident sectors, commits and returns the raw store content.
// The result can be passed to OpenEphemeral.
func (s *Storage) ReadChunks() (WorldChunks, error) {
	var chunks WorldChunks
	err := s.guard("read chunks", func() error {
		if err := s.storeResident(); err != nil {
			return err
		}
		if err := s.commit(); err != nil {
			return err
		}
		records, err := s.store.Snapshot()
		if err != nil {
			return err
		}
		chunks = make(WorldChunks, len(records))
		for _, r := range records {
			chunks[r.Key] = r.Value
		}
		return nil
	})
	return chunks, err
}

// UnloadAll unloads every sector to None and commits. With force, keep-alive
// entities do not prevent unloading. Sectors refused by keep-alive stay tracked.
func (s *Storage) UnloadAll(force bool) error {
	return s.guard("unload all", func() error {
		for _, sector := range s.trackedSectors() {
			if _, err := s.unloadSectorToLevel(sector, LoadLevelTiles, force); err != nil {
				return err
			}
		}

		// sectors can be blocked by overlap from a sector unloaded later in the same pass
		for progress := true; progress && len(s.metadata) > 0; {
			progress = false
			for _, sector := range s.trackedSectors() {
				unloaded, err := s.unloadSectorToLevel(sector, LoadLevelNone, force)
				if err != nil {
					return err
				}
				progress = progress || unloaded
			}
		}
		if err := s.storeOrphans(); err != nil {
			return err
		}
		return s.commit()
	})
}

// Close releases the store. Pending changes that were not synced are lost.
// Closing twice is a no-op.
func (s *Storage) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.poisoned != nil {
		// store was already closed by guard
		return nil
	}
	return s.store.Close()
}

// --------------------------------------------------------------------------
// World metadata
// --------------------------------------------------------------------------

// WorldMetadata returns the caller owned metadata document of the world
func (s *Storage) WorldMetadata() VersionedMetadata {
	return s.header.Metadata
}

// SetWorldMetadata replaces the metadata document. It is persisted with the next commit.
func (s *Storage) SetWorldMetadata(md VersionedMetadata) error {
	return s.guard("set world metadata", func() error {
		s.header.Metadata = md
		return s.writeHeader()
	})
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Size returns the world size in tiles
func (s *Storage) Size() WorldSize {
	return WorldSize{Width: s.header.Width, Height: s.header.Height}
}

// SectorSize returns the edge length of a sector in tiles
func (s *Storage) SectorSize() int { return s.header.SectorSize }

// Tiles returns the live tile array
func (s *Storage) Tiles() *TileArray { return s.tiles }

// Entities returns the live entity map
func (s *Storage) Entities() *EntityMap { return s.entities }

// Metrics returns the metrics set of this storage. It must be written from the
// goroutine that owns the storage.
func (s *Storage) Metrics() *metrics.Set { return s.metrics.set }

// Store returns the underlying store, for inspection tools
func (s *Storage) Store() store.IStore { return s.store }

// EnqueuePlacement forwards a placement request to the generator facade
func (s *Storage) EnqueuePlacement(items []string, dungeonID int) Placement {
	return s.opts.Generator.EnqueuePlacement(items, dungeonID)
}

// --------------------------------------------------------------------------
// Geometry helpers
// --------------------------------------------------------------------------

// ownerSector returns the sector owning the entity. Positions outside the world
// are clamped to the nearest border sector.
func (s *Storage) ownerSector(e Entity) Sector {
	p := e.Position()
	x := clampFloat(p.X, 0, float64(s.header.Width))
	y := clampFloat(p.Y, 0, float64(s.header.Height))
	return s.tiles.SectorFor(int(x), int(y))
}

// ownEntities returns the live entities owned by the sector in ascending id order
func (s *Storage) ownEntities(sector Sector) []EntityID {
	var own []EntityID
	for _, id := range s.entities.Query(s.tiles.SectorRegion(sector)) {
		if e, _ := s.entities.Get(id); s.ownerSector(e) == sector {
			own = append(own, id)
		}
	}
	return own
}
