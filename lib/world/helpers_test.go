package world

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

// --------------------------------------------------------------------------
// Test entity and factory
// --------------------------------------------------------------------------

type testEntity struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Radius     float64 `json:"radius"`
	Unique     string  `json:"unique,omitempty"`
	KeepAlive  bool    `json:"keep_alive,omitempty"`
	Persistent bool    `json:"persistent"`
}

func (e *testEntity) Position() Vec2F { return Vec2F{X: e.X, Y: e.Y} }

func (e *testEntity) BoundBox() RectF {
	r := e.Radius
	if r == 0 {
		r = 0.5
	}
	return RectF{Min: Vec2F{X: e.X - r, Y: e.Y - r}, Max: Vec2F{X: e.X + r, Y: e.Y + r}}
}

func (e *testEntity) UniqueID() string { return e.Unique }

type testFactory struct{}

func (testFactory) SerializeEntity(e Entity) ([]byte, error) {
	te, ok := e.(*testEntity)
	if !ok {
		return nil, errors.Newf("unexpected entity type %T", e)
	}
	return json.Marshal(te)
}

func (testFactory) DeserializeEntity(data []byte) (Entity, error) {
	var te testEntity
	if err := json.Unmarshal(data, &te); err != nil {
		return nil, err
	}
	return &te, nil
}

// --------------------------------------------------------------------------
// Recording generator facade
// --------------------------------------------------------------------------

type generateCall struct {
	Sector Sector
	Level  GenerationLevel
}

type testFacade struct {
	generated    []generateCall
	terraformed  []Sector
	levelChanges map[Sector][]LoadLevel
	initialized  []EntityID
	destructed   []Entity
	failSector   *Sector // GenerateSectorLevel fails for this sector
}

func newTestFacade() *testFacade {
	return &testFacade{levelChanges: make(map[Sector][]LoadLevel)}
}

func (f *testFacade) GenerateSectorLevel(sector Sector, level GenerationLevel) error {
	if f.failSector != nil && *f.failSector == sector {
		return errors.Newf("generator failure in %s", sector)
	}
	f.generated = append(f.generated, generateCall{sector, level})
	return nil
}

func (f *testFacade) TerraformSector(sector Sector) error {
	f.terraformed = append(f.terraformed, sector)
	return nil
}

func (f *testFacade) SectorLoadLevelChanged(sector Sector, level LoadLevel) {
	f.levelChanges[sector] = append(f.levelChanges[sector], level)
}

func (f *testFacade) EntityKeepAlive(e Entity) bool { return e.(*testEntity).KeepAlive }

func (f *testFacade) EntityPersistent(e Entity) bool { return e.(*testEntity).Persistent }

func (f *testFacade) InitEntity(id EntityID, _ Entity) { f.initialized = append(f.initialized, id) }

func (f *testFacade) DestructEntity(e Entity) { f.destructed = append(f.destructed, e) }

func (f *testFacade) EnqueuePlacement(_ []string, dungeonID int) Placement {
	ch := make(chan Vec2F, 1)
	ch <- Vec2F{X: float64(dungeonID)}
	close(ch)
	return ch
}

func (f *testFacade) generatedFor(sector Sector) []GenerationLevel {
	var levels []GenerationLevel
	for _, c := range f.generated {
		if c.Sector == sector {
			levels = append(levels, c.Level)
		}
	}
	return levels
}

// --------------------------------------------------------------------------
// Recording logger
// --------------------------------------------------------------------------

type logEntry struct {
	Level   logger.LogLevel
	Message string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level logger.LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level, fmt.Sprintf(format, args...)})
}

func (l *recordingLogger) SetLevel(logger.LogLevel) {}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {
	l.record(logger.DEBUG, format, args...)
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.record(logger.INFO, format, args...)
}

func (l *recordingLogger) Warningf(format string, args ...interface{}) {
	l.record(logger.WARNING, format, args...)
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.record(logger.ERROR, format, args...)
}

func (l *recordingLogger) Panicf(format string, args ...interface{}) {
	l.record(logger.CRITICAL, format, args...)
	panic(fmt.Sprintf(format, args...))
}

func (l *recordingLogger) count(level logger.LogLevel) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// --------------------------------------------------------------------------
// Devices
// --------------------------------------------------------------------------

func newDevice(t *testing.T) afero.File {
	t.Helper()
	f, err := afero.NewMemMapFs().Create("test.world")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return f
}

// failingDevice fails every write once armed
type failingDevice struct {
	afero.File
	fail bool
}

func (d *failingDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.fail {
		return 0, errors.New("device write failed")
	}
	return d.File.WriteAt(p, off)
}

func (d *failingDevice) Sync() error {
	if d.fail {
		return errors.New("device sync failed")
	}
	return d.File.Sync()
}

// --------------------------------------------------------------------------
// Storage setup
// --------------------------------------------------------------------------

const testSectorSize = 8

type testWorld struct {
	*Storage
	device afero.File
	facade *testFacade
	log    *recordingLogger
	opts   *Options
}

func testOptions(facade *testFacade, log *recordingLogger) *Options {
	return &Options{
		SectorSize:         testSectorSize,
		MinSectorTTL:       10,
		MaxSectorTTL:       10,
		GenerationQueueTTL: 15,
		Generator:          facade,
		Factory:            testFactory{},
		Logger:             log,
		Seed:               1,
	}
}

// newTestWorld creates a world of sx * sy sectors
func newTestWorld(t *testing.T, sx, sy int) *testWorld {
	t.Helper()
	w := &testWorld{device: newDevice(t), facade: newTestFacade(), log: &recordingLogger{}}
	w.opts = testOptions(w.facade, w.log)
	s, err := CreateNew(w.device, WorldSize{Width: sx * testSectorSize, Height: sy * testSectorSize}, w.opts)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	w.Storage = s
	t.Cleanup(func() { _ = s.Close() })
	return w
}

// reopen closes the storage and opens the same device with a fresh facade
func (w *testWorld) reopen(t *testing.T) {
	t.Helper()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w.facade = newTestFacade()
	w.log = &recordingLogger{}
	w.opts = testOptions(w.facade, w.log)
	s, err := OpenExisting(w.device, w.opts)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	w.Storage = s
	t.Cleanup(func() { _ = s.Close() })
}

// storeTileSector writes and commits a tile record without loading the sector
func (w *testWorld) storeTileSector(t *testing.T, sector Sector, level GenerationLevel, tiles []Tile) {
	t.Helper()
	if tiles == nil {
		tiles = make([]Tile, testSectorSize*testSectorSize)
	}
	data := encodeTileSector(TileSectorStore{
		GenerationLevel:          level,
		TileSerializationVersion: TileSerializationVersion,
		Tiles:                    tiles,
	})
	if err := w.writeRecord(sectorKey(TagTileSector, sector), data); err != nil {
		t.Fatalf("write tile record: %v", err)
	}
	if err := w.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// addEntity inserts a live entity the way a game would
func (w *testWorld) addEntity(e *testEntity) EntityID {
	id := w.Entities().ReserveID()
	w.Entities().Add(id, e)
	return id
}

func mustNoErr(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}
