package world

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/ValentinKolb/sectorkv/lib/store"
	"github.com/ValentinKolb/sectorkv/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestCreateOpenRoundTrip(t *testing.T) {
	w := newTestWorld(t, 3, 2)

	md := VersionedMetadata{Identifier: "test-world", Version: 2, Content: json.RawMessage(`{"spawn":[4,4]}`)}
	mustNoErr(t, w.SetWorldMetadata(md), "SetWorldMetadata")
	mustNoErr(t, w.Sync(), "Sync")
	w.reopen(t)

	if got := w.Size(); got != (WorldSize{Width: 24, Height: 16}) {
		t.Errorf("Size = %+v", got)
	}
	if got := w.WorldMetadata(); !reflect.DeepEqual(got, md) {
		t.Errorf("WorldMetadata = %+v, expected %+v", got, md)
	}

	// the stored sector size wins over the options
	w.opts.SectorSize = 32
	_ = w.Close()
	s, err := OpenExisting(w.device, w.opts)
	mustNoErr(t, err, "OpenExisting")
	defer s.Close()
	if s.SectorSize() != testSectorSize {
		t.Errorf("SectorSize = %d, expected %d", s.SectorSize(), testSectorSize)
	}
}

func TestOpenRejectsForeignStore(t *testing.T) {
	dev := newDevice(t)
	st, err := lstore.Create(dev, store.Options{ContentIdentifier: "World3", KeySize: KeySize})
	mustNoErr(t, err, "lstore.Create")
	_ = st.Close()

	_, err = OpenExisting(dev, testOptions(newTestFacade(), &recordingLogger{}))
	if !errors.Is(err, store.ErrFormatMismatch) {
		t.Errorf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	valid := testOptions(newTestFacade(), &recordingLogger{})

	tests := []struct {
		name   string
		mutate func(o *Options)
		size   WorldSize
	}{
		{"missing generator", func(o *Options) { o.Generator = nil }, WorldSize{8, 8}},
		{"missing factory", func(o *Options) { o.Factory = nil }, WorldSize{8, 8}},
		{"negative sector size", func(o *Options) { o.SectorSize = -1 }, WorldSize{8, 8}},
		{"inverted ttl range", func(o *Options) { o.MinSectorTTL, o.MaxSectorTTL = 5, 1 }, WorldSize{8, 8}},
		{"empty world", func(o *Options) {}, WorldSize{0, 8}},
		{"too many sectors", func(o *Options) { o.SectorSize = 1 }, WorldSize{1 << 17, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := *valid
			tt.mutate(&o)
			_, err := CreateNew(newDevice(t), tt.size, &o)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestClosedStorage(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	mustNoErr(t, w.Close(), "Close")
	mustNoErr(t, w.Close(), "second Close")

	if err := w.LoadSector(Sector{}); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadSector after Close: expected ErrClosed, got %v", err)
	}
	if err := w.Sync(); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync after Close: expected ErrClosed, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

func TestLoadSectorLevels(t *testing.T) {
	w := newTestWorld(t, 3, 3)
	center := Sector{1, 1}

	mustNoErr(t, w.LoadSector(center), "LoadSector")

	if got := w.SectorLoadLevel(center); got != LoadLevelLoaded {
		t.Errorf("center load level = %s", got)
	}
	for _, n := range w.Tiles().AdjacentSectors(center) {
		if got := w.SectorLoadLevel(n); got != LoadLevelTiles {
			t.Errorf("neighbour %s load level = %s, expected tiles", n, got)
		}
	}
	if got := w.facade.levelChanges[center]; !reflect.DeepEqual(got, []LoadLevel{LoadLevelTiles, LoadLevelEntities}) {
		t.Errorf("center level changes = %v", got)
	}
	if len(w.TrackedSectors()) != 9 {
		t.Errorf("tracked sectors = %v", w.TrackedSectors())
	}

	t.Run("idempotent", func(t *testing.T) {
		before := len(w.facade.levelChanges[center])
		mustNoErr(t, w.LoadSector(center), "LoadSector")
		if len(w.facade.levelChanges[center]) != before {
			t.Errorf("reloading a loaded sector changed its level")
		}
		if got := w.SectorLoadLevel(center); got != LoadLevelLoaded {
			t.Errorf("center load level = %s", got)
		}
	})

	t.Run("invalid sector", func(t *testing.T) {
		mustNoErr(t, w.LoadSector(Sector{-1, 0}), "LoadSector")
		mustNoErr(t, w.LoadSector(Sector{3, 0}), "LoadSector")
		if len(w.TrackedSectors()) != 9 {
			t.Errorf("invalid sectors were tracked")
		}
	})

	t.Run("ttl refreshed", func(t *testing.T) {
		ttl, ok := w.SectorTimeToLive(center)
		if !ok || ttl != 10 {
			t.Errorf("TTL = %v, %v", ttl, ok)
		}
	})
}

func TestTruncatedEntityBlob(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	sector := Sector{}

	good, err := testFactory{}.SerializeEntity(&testEntity{Name: "ok", X: 2, Y: 2, Persistent: true})
	mustNoErr(t, err, "SerializeEntity")
	bad := good[:len(good)/2]

	mustNoErr(t, w.writeRecord(sectorKey(TagEntitySector, sector), encodeEntitySector([][]byte{good, bad})), "writeRecord")
	mustNoErr(t, w.commit(), "commit")

	mustNoErr(t, w.LoadSector(sector), "LoadSector")

	if n := w.Entities().Len(); n != 1 {
		t.Errorf("loaded %d entities, expected 1", n)
	}
	if n := w.log.count(logger.WARNING); n != 1 {
		t.Errorf("logged %d warnings, expected 1", n)
	}
	if len(w.facade.initialized) != 1 {
		t.Errorf("InitEntity called %d times", len(w.facade.initialized))
	}
	if w.Poisoned() != nil {
		t.Errorf("storage poisoned: %v", w.Poisoned())
	}
}

type rejectMaterial MaterialID

func (r rejectMaterial) ValidMaterial(id MaterialID) bool { return id != MaterialID(r) }
func (r rejectMaterial) ValidMod(ModID) bool              { return true }
func (r rejectMaterial) ValidLiquid(id LiquidID) bool     { return id < 3 }

func TestTileRemap(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	w.opts.Validator = rejectMaterial(7)
	w.opts.Fallbacks = TileFallbacks{Material: 1, Liquid: 0}
	w.Storage.opts.Validator = w.opts.Validator
	w.Storage.opts.Fallbacks = w.opts.Fallbacks

	tiles := make([]Tile, testSectorSize*testSectorSize)
	tiles[0] = Tile{Foreground: 7, Background: 2}
	tiles[1] = Tile{Liquid: 5, LiquidLevel: 100}
	w.storeTileSector(t, Sector{}, GenerationComplete, tiles)

	mustNoErr(t, w.LoadSector(Sector{}), "LoadSector")

	if got := w.Tiles().Tile(0, 0); got.Foreground != 1 || got.Background != 2 {
		t.Errorf("tile 0 = %+v", got)
	}
	if got := w.Tiles().Tile(1, 0); got.Liquid != 0 || got.LiquidLevel != 100 {
		t.Errorf("tile 1 = %+v", got)
	}
	if w.log.count(logger.DEBUG) == 0 {
		t.Errorf("expected a debug log for the remap")
	}
}

// --------------------------------------------------------------------------
// Generation
// --------------------------------------------------------------------------

func TestGenerateNeighbourInvariant(t *testing.T) {
	w := newTestWorld(t, 4, 4)
	target := Sector{1, 1}

	mustNoErr(t, w.ActivateSector(target), "ActivateSector")

	if !w.SectorActive(target) {
		t.Fatalf("sector %s not active", target)
	}
	for _, n := range w.Tiles().AdjacentSectors(target) {
		if got := w.SectorGenerationLevel(n); got < GenerationFinalize {
			t.Errorf("neighbour %s generation level = %s", n, got)
		}
	}

	// every generated sector satisfies the invariant for its own level
	for _, s := range w.TrackedSectors() {
		level := w.SectorGenerationLevel(s)
		if level == GenerationNone {
			continue
		}
		for _, n := range w.Tiles().AdjacentSectors(s) {
			if got := w.SectorGenerationLevel(n); got < prevGenerationLevel(level) && w.SectorLoadLevel(n) != LoadLevelNone {
				t.Errorf("sector %s at %s has neighbour %s at %s", s, level, n, got)
			}
		}
	}

	t.Run("idempotent", func(t *testing.T) {
		calls := len(w.facade.generated)
		mustNoErr(t, w.ActivateSector(target), "ActivateSector")
		if len(w.facade.generated) != calls {
			t.Errorf("second activation generated %d more levels", len(w.facade.generated)-calls)
		}
	})

	t.Run("ordered steps", func(t *testing.T) {
		want := []GenerationLevel{GenerationBaseTiles, GenerationMicroDungeons, GenerationCaveLiquid, GenerationFinalize, GenerationComplete}
		if got := w.facade.generatedFor(target); !reflect.DeepEqual(got, want) {
			t.Errorf("levels of %s = %v", target, got)
		}
	})
}

func TestTwoSectorScenario(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}
	w.storeTileSector(t, left, GenerationComplete, nil)

	mustNoErr(t, w.ActivateSector(right), "ActivateSector")

	want := []GenerationLevel{GenerationBaseTiles, GenerationMicroDungeons, GenerationCaveLiquid, GenerationFinalize, GenerationComplete}
	if got := w.facade.generatedFor(right); !reflect.DeepEqual(got, want) {
		t.Errorf("levels of right = %v, expected %v", got, want)
	}
	if got := w.facade.generatedFor(left); len(got) != 0 {
		t.Errorf("left was generated again: %v", got)
	}
	if len(w.facade.generated) != len(want) {
		t.Errorf("generated %d levels in total", len(w.facade.generated))
	}
	if got := w.SectorGenerationLevel(left); got != GenerationComplete {
		t.Errorf("left generation level = %s", got)
	}
}

func TestGenerationBudget(t *testing.T) {
	// activating the center of a 3x3 world takes 4 steps per neighbour and 5 for the center
	const total = 8*4 + 5

	for _, budget := range []int{0, 1, 2, 9, 20, total - 1, total} {
		w := newTestWorld(t, 3, 3)
		reached, generated, err := w.generateSectorToLevel(Sector{1, 1}, GenerationComplete, budget)
		mustNoErr(t, err, "generateSectorToLevel")

		if generated > budget {
			t.Errorf("budget %d: performed %d steps", budget, generated)
		}
		if generated != len(w.facade.generated) {
			t.Errorf("budget %d: reported %d steps, facade saw %d", budget, generated, len(w.facade.generated))
		}
		if reached != (budget >= total) {
			t.Errorf("budget %d: reached = %v", budget, reached)
		}
		if reached != w.SectorActive(Sector{1, 1}) {
			t.Errorf("budget %d: reached = %v but active = %v", budget, reached, w.SectorActive(Sector{1, 1}))
		}
	}
}

func TestGenerateQueue(t *testing.T) {
	w := newTestWorld(t, 3, 3)
	center, corner := Sector{1, 1}, Sector{0, 0}

	w.QueueSectorActivation(center)
	w.QueueSectorActivation(corner)
	w.QueueSectorActivation(Sector{5, 5})
	if w.queue.len() != 2 {
		t.Fatalf("queue = %v", w.queue.sectors())
	}

	finished, err := w.GenerateQueue(10, nil)
	mustNoErr(t, err, "GenerateQueue")
	if finished {
		t.Errorf("queue finished with a budget of 10")
	}
	if len(w.facade.generated) > 10 {
		t.Errorf("generated %d levels with a budget of 10", len(w.facade.generated))
	}

	finished, err = w.GenerateQueue(0, nil)
	mustNoErr(t, err, "GenerateQueue")
	if !finished || w.queue.len() != 0 {
		t.Errorf("finished = %v, queue = %v", finished, w.queue.sectors())
	}
	if !w.SectorActive(center) || !w.SectorActive(corner) {
		t.Errorf("queued sectors are not active")
	}

	t.Run("complete sectors are not queued", func(t *testing.T) {
		w.QueueSectorActivation(center)
		if w.queue.contains(center) {
			t.Errorf("complete sector was queued")
		}
	})

	t.Run("ordering", func(t *testing.T) {
		w := newTestWorld(t, 3, 1)
		w.QueueSectorActivation(Sector{0, 0})
		w.QueueSectorActivation(Sector{2, 0})

		// highest X first
		_, err := w.GenerateQueue(1, func(a, b Sector) bool { return a.X > b.X })
		mustNoErr(t, err, "GenerateQueue")
		if len(w.facade.generated) != 1 || w.facade.generated[0].Sector != (Sector{2, 0}) {
			t.Errorf("generated %v", w.facade.generated)
		}
	})
}

func TestQueueTTLExpires(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	w.QueueSectorActivation(Sector{1, 0})

	mustNoErr(t, w.Tick(14, "test"), "Tick")
	if !w.queue.contains(Sector{1, 0}) {
		t.Fatalf("queue entry expired early")
	}
	mustNoErr(t, w.Tick(1, "test"), "Tick")
	if w.queue.len() != 0 {
		t.Errorf("queue entry did not expire: %v", w.queue.sectors())
	}
}

func TestTerraform(t *testing.T) {
	w := newTestWorld(t, 3, 3)
	center := Sector{1, 1}
	mustNoErr(t, w.ActivateSector(center), "ActivateSector")

	// a sector below Complete is left alone
	mustNoErr(t, w.TriggerTerraformSector(Sector{0, 0}), "TriggerTerraformSector")
	if got := w.SectorGenerationLevel(Sector{0, 0}); got != GenerationFinalize {
		t.Errorf("corner generation level = %s", got)
	}

	mustNoErr(t, w.TriggerTerraformSector(center), "TriggerTerraformSector")
	if got := w.SectorGenerationLevel(center); got != GenerationTerraform {
		t.Fatalf("center generation level = %s", got)
	}
	if !w.queue.contains(center) {
		t.Fatalf("terraformed sector not queued")
	}

	calls := len(w.facade.generated)
	finished, err := w.GenerateQueue(0, nil)
	mustNoErr(t, err, "GenerateQueue")
	if !finished {
		t.Errorf("queue not finished")
	}
	if !reflect.DeepEqual(w.facade.terraformed, []Sector{center}) {
		t.Errorf("terraformed = %v", w.facade.terraformed)
	}
	if len(w.facade.generated) != calls {
		t.Errorf("terraform triggered %d ordinary generation steps", len(w.facade.generated)-calls)
	}
	if !w.SectorActive(center) {
		t.Errorf("center not active after terraform")
	}

	t.Run("zero budget", func(t *testing.T) {
		mustNoErr(t, w.TriggerTerraformSector(center), "TriggerTerraformSector")
		reached, generated, err := w.generateSectorToLevel(center, GenerationComplete, 0)
		if err != nil || reached || generated != 0 {
			t.Errorf("generateSectorToLevel = %v, %d, %v", reached, generated, err)
		}
	})
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func TestSyncReopenReproducesTiles(t *testing.T) {
	w := newTestWorld(t, 2, 2)
	mustNoErr(t, w.ActivateSector(Sector{0, 0}), "ActivateSector")
	for x := 0; x < 16; x++ {
		w.Tiles().SetTile(x, x%8, Tile{Foreground: MaterialID(x + 1), Liquid: 2, LiquidLevel: uint8(x * 10)})
	}
	mustNoErr(t, w.Sync(), "Sync")

	type state struct {
		tiles []Tile
		level GenerationLevel
	}
	before := make(map[Sector]state)
	for _, s := range w.TrackedSectors() {
		tiles, ok := w.Tiles().SectorTiles(s)
		if !ok {
			t.Fatalf("tiles of %s not resident", s)
		}
		before[s] = state{tiles, w.SectorGenerationLevel(s)}
	}

	w.reopen(t)
	for s, want := range before {
		mustNoErr(t, w.LoadSector(s), "LoadSector")
		tiles, _ := w.Tiles().SectorTiles(s)
		if !reflect.DeepEqual(tiles, want.tiles) {
			t.Errorf("tiles of %s differ after reopen", s)
		}
		if got := w.SectorGenerationLevel(s); got != want.level {
			t.Errorf("generation level of %s = %s, expected %s", s, got, want.level)
		}
	}
	if len(w.facade.generated) != 0 {
		t.Errorf("reopened world generated %v", w.facade.generated)
	}
}

func TestUnsyncedChangesAreLost(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	mustNoErr(t, w.ActivateSector(Sector{}), "ActivateSector")

	w.reopen(t)
	mustNoErr(t, w.LoadSector(Sector{}), "LoadSector")
	if got := w.SectorGenerationLevel(Sector{}); got != GenerationNone {
		t.Errorf("generation level without sync = %s", got)
	}
}

func TestUnloadAll(t *testing.T) {
	w := newTestWorld(t, 3, 3)
	mustNoErr(t, w.ActivateSector(Sector{1, 1}), "ActivateSector")
	w.addEntity(&testEntity{Name: "crate", X: 12, Y: 12, Persistent: true})
	w.addEntity(&testEntity{Name: "spark", X: 13, Y: 12})

	mustNoErr(t, w.UnloadAll(false), "UnloadAll")

	if got := w.TrackedSectors(); len(got) != 0 {
		t.Errorf("tracked sectors after UnloadAll = %v", got)
	}
	if len(w.Tiles().LoadedSectors()) != 0 || w.Entities().Len() != 0 {
		t.Errorf("resident data left after UnloadAll")
	}
	if len(w.facade.destructed) != 2 {
		t.Errorf("destructed %d entities, expected 2", len(w.facade.destructed))
	}

	// UnloadAll commits
	w.reopen(t)
	mustNoErr(t, w.LoadSector(Sector{1, 1}), "LoadSector")
	if !w.SectorActive(Sector{1, 1}) {
		t.Errorf("center not active after reopen")
	}
	if n := w.Entities().Len(); n != 1 {
		t.Errorf("reloaded %d entities, expected only the persistent one", n)
	}
}

func TestReadChunksEphemeral(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	mustNoErr(t, w.ActivateSector(Sector{0, 0}), "ActivateSector")
	w.Tiles().SetTile(3, 3, Tile{Foreground: 42})
	w.addEntity(&testEntity{Name: "chest", X: 4, Y: 4, Persistent: true})

	chunks, err := w.ReadChunks()
	mustNoErr(t, err, "ReadChunks")

	if _, ok := chunks[metadataKey()]; !ok {
		t.Errorf("chunks miss the world header")
	}
	for key := range chunks {
		if _, err := DecodeKey(key); err != nil {
			t.Errorf("chunk key % x: %v", []byte(key), err)
		}
	}

	facade := newTestFacade()
	e, err := OpenEphemeral(chunks, testOptions(facade, &recordingLogger{}))
	mustNoErr(t, err, "OpenEphemeral")
	defer e.Close()

	mustNoErr(t, e.LoadSector(Sector{0, 0}), "LoadSector")
	if got := e.Tiles().Tile(3, 3); got.Foreground != 42 {
		t.Errorf("ephemeral tile = %+v", got)
	}
	if !e.SectorActive(Sector{0, 0}) {
		t.Errorf("ephemeral sector not active")
	}
	if e.Entities().Len() != 1 {
		t.Errorf("ephemeral world has %d entities", e.Entities().Len())
	}
	if len(facade.generated) != 0 {
		t.Errorf("ephemeral world generated %v", facade.generated)
	}
}

// --------------------------------------------------------------------------
// Eviction
// --------------------------------------------------------------------------

func TestTickEviction(t *testing.T) {
	w := newTestWorld(t, 3, 3)
	center := Sector{1, 1}
	mustNoErr(t, w.LoadSector(center), "LoadSector")

	mustNoErr(t, w.Tick(5, "test"), "Tick")
	if len(w.TrackedSectors()) != 9 {
		t.Fatalf("sectors evicted before their TTL ran out: %v", w.TrackedSectors())
	}
	if ttl, _ := w.SectorTimeToLive(center); ttl != 5 {
		t.Errorf("center TTL = %v", ttl)
	}

	mustNoErr(t, w.Tick(6, "test"), "Tick")
	if got := w.TrackedSectors(); len(got) != 0 {
		t.Errorf("tracked sectors after expiry = %v", got)
	}
	changes := w.facade.levelChanges[center]
	if len(changes) == 0 || changes[len(changes)-1] != LoadLevelNone {
		t.Errorf("center level changes = %v", changes)
	}
}

func TestKeepAliveVeto(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	sector := Sector{}
	mustNoErr(t, w.LoadSector(sector), "LoadSector")
	w.addEntity(&testEntity{Name: "player", X: 4, Y: 4, KeepAlive: true, Persistent: true})

	t.Run("tick refreshes", func(t *testing.T) {
		mustNoErr(t, w.Tick(11, "test"), "Tick")
		if ttl, ok := w.SectorTimeToLive(sector); !ok || ttl != 10 {
			t.Errorf("TTL = %v, %v, expected a refreshed TTL", ttl, ok)
		}
		if w.SectorLoadLevel(sector) != LoadLevelLoaded {
			t.Errorf("kept alive sector was unloaded")
		}
	})

	t.Run("unload refused", func(t *testing.T) {
		unloaded, err := w.unloadSectorToLevel(sector, LoadLevelNone, false)
		mustNoErr(t, err, "unloadSectorToLevel")
		if unloaded {
			t.Errorf("kept alive sector was unloaded")
		}
		mustNoErr(t, w.UnloadAll(false), "UnloadAll")
		if w.SectorLoadLevel(sector) != LoadLevelLoaded || w.Entities().Len() != 1 {
			t.Errorf("UnloadAll(false) unloaded a kept alive sector")
		}
	})

	t.Run("force", func(t *testing.T) {
		mustNoErr(t, w.UnloadAll(true), "UnloadAll")
		if len(w.TrackedSectors()) != 0 || w.Entities().Len() != 0 {
			t.Errorf("UnloadAll(true) left the sector resident")
		}
		blobs, err := w.readEntityBlobs(sector)
		mustNoErr(t, err, "readEntityBlobs")
		if len(blobs) != 1 {
			t.Errorf("stored %d entities, expected 1", len(blobs))
		}
	})
}

func TestZombieEntities(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}
	mustNoErr(t, w.LoadSector(left), "LoadSector")

	// an entity walked into a sector whose entities are not resident
	w.addEntity(&testEntity{Name: "wanderer", X: 12, Y: 4, Persistent: true})
	w.addEntity(&testEntity{Name: "arrow", X: 13, Y: 4})

	mustNoErr(t, w.Tick(1, "test"), "Tick")

	if w.Entities().Len() != 0 {
		t.Errorf("zombies still live: %v", w.Entities().IDs())
	}
	if len(w.facade.destructed) != 2 {
		t.Errorf("destructed %d entities", len(w.facade.destructed))
	}
	blobs, err := w.readEntityBlobs(right)
	mustNoErr(t, err, "readEntityBlobs")
	if len(blobs) != 1 {
		t.Fatalf("stored %d zombies, expected 1", len(blobs))
	}
	if w.SectorLoadLevel(right) != LoadLevelTiles {
		t.Errorf("right load level = %s", w.SectorLoadLevel(right))
	}

	// zombies are merged with the stored entities
	w.addEntity(&testEntity{Name: "second", X: 10, Y: 2, Persistent: true})
	mustNoErr(t, w.Tick(1, "test"), "Tick")
	blobs, _ = w.readEntityBlobs(right)
	if len(blobs) != 2 {
		t.Errorf("stored %d entities after merge, expected 2", len(blobs))
	}

	mustNoErr(t, w.LoadSector(right), "LoadSector")
	if w.Entities().Len() != 2 {
		t.Errorf("reloaded %d entities", w.Entities().Len())
	}
}

// The refusal only looks at the current TTL of the overlapping entity's sector,
// not whether that sector is about to expire.
func TestOverlapRefusalUsesTTLOnly(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}
	mustNoErr(t, w.LoadSector(left), "LoadSector")

	// owned by left, reaching into right
	w.addEntity(&testEntity{Name: "bridge", X: 7, Y: 4, Radius: 2, Persistent: true})

	unloaded, err := w.unloadSectorToLevel(right, LoadLevelNone, true)
	mustNoErr(t, err, "unloadSectorToLevel")
	if unloaded {
		t.Fatalf("right unloaded while overlapped by a live entity")
	}

	w.metadata[left].TimeToLive = 0
	unloaded, err = w.unloadSectorToLevel(right, LoadLevelNone, false)
	mustNoErr(t, err, "unloadSectorToLevel")
	if !unloaded {
		t.Errorf("right refused although the overlapping sector expired")
	}

	// left had to drop to Tiles, the bridge went to the store of its owner
	if w.SectorLoadLevel(left) != LoadLevelTiles {
		t.Errorf("left load level = %s", w.SectorLoadLevel(left))
	}
	if blobs, _ := w.readEntityBlobs(right); len(blobs) != 0 {
		t.Errorf("foreign entity was stored with the overlapped sector")
	}
	if blobs, _ := w.readEntityBlobs(left); len(blobs) != 1 {
		t.Errorf("stored %d entities for left, expected 1", len(blobs))
	}
}

func TestUnloadLowersNeighbours(t *testing.T) {
	w := newTestWorld(t, 3, 1)
	center, right := Sector{1, 0}, Sector{2, 0}
	mustNoErr(t, w.LoadSector(center), "LoadSector")
	w.addEntity(&testEntity{Name: "crate", X: 12, Y: 4, Persistent: true})

	w.metadata[center].TimeToLive = 100
	w.metadata[right].TimeToLive = 1
	mustNoErr(t, w.Tick(2, "test"), "Tick")

	if got := w.SectorLoadLevel(right); got != LoadLevelNone {
		t.Fatalf("right load level = %s", got)
	}
	if got := w.SectorLoadLevel(center); got != LoadLevelTiles {
		t.Errorf("center load level = %s next to an unloaded sector", got)
	}
	for _, sector := range w.TrackedSectors() {
		for _, n := range w.Tiles().AdjacentSectors(sector) {
			if w.SectorLoadLevel(sector) > w.SectorLoadLevel(n)+1 {
				t.Errorf("sector %s at %s next to %s at %s", sector, w.SectorLoadLevel(sector), n, w.SectorLoadLevel(n))
			}
		}
	}
	if blobs, _ := w.readEntityBlobs(center); len(blobs) != 1 {
		t.Errorf("center stored %d entities, expected 1", len(blobs))
	}
}

func TestUnloadRefusedByKeptAliveNeighbour(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}
	mustNoErr(t, w.LoadSector(left), "LoadSector")
	w.addEntity(&testEntity{Name: "player", X: 4, Y: 4, KeepAlive: true})

	unloaded, err := w.unloadSectorToLevel(right, LoadLevelNone, false)
	mustNoErr(t, err, "unloadSectorToLevel")
	if unloaded {
		t.Errorf("right unloaded although left could not drop to Tiles")
	}
	if w.SectorLoadLevel(left) != LoadLevelLoaded || w.SectorLoadLevel(right) != LoadLevelTiles {
		t.Errorf("levels changed by a refused unload: left %s, right %s",
			w.SectorLoadLevel(left), w.SectorLoadLevel(right))
	}
}

func TestEntitiesOfUntrackedSectorsArePersisted(t *testing.T) {
	w := newTestWorld(t, 3, 1)
	right := Sector{2, 0}
	mustNoErr(t, w.LoadSector(Sector{0, 0}), "LoadSector")
	if w.SectorLoadLevel(right) != LoadLevelNone {
		t.Fatalf("right is tracked: %s", w.SectorLoadLevel(right))
	}

	// moved two sectors in one step, nothing tracks its owner
	w.addEntity(&testEntity{Name: "runner", X: 20, Y: 4, Persistent: true})

	mustNoErr(t, w.UnloadAll(true), "UnloadAll")
	if n := w.Entities().Len(); n != 0 {
		t.Errorf("%d entities still live after UnloadAll", n)
	}

	w.reopen(t)
	mustNoErr(t, w.LoadSector(right), "LoadSector")
	found := false
	for _, id := range w.Entities().IDs() {
		if e, _ := w.Entities().Get(id); e.(*testEntity).Name == "runner" {
			found = true
		}
	}
	if !found {
		t.Errorf("entity of an untracked sector was lost")
	}
}

// --------------------------------------------------------------------------
// Unique index
// --------------------------------------------------------------------------

func TestUniqueIndex(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}
	mustNoErr(t, w.LoadSector(left), "LoadSector")
	w.addEntity(&testEntity{Name: "boss", X: 3, Y: 3, Unique: "boss", Persistent: true})

	pos, found, err := w.FindUniqueEntity("boss")
	if err != nil || !found || pos != (Vec2F{X: 3, Y: 3}) {
		t.Errorf("live FindUniqueEntity = %v, %v, %v", pos, found, err)
	}

	mustNoErr(t, w.UnloadAll(true), "UnloadAll")

	pos, found, err = w.FindUniqueEntity("boss")
	if err != nil || !found || pos != (Vec2F{X: 3, Y: 3}) {
		t.Errorf("stored FindUniqueEntity = %v, %v, %v", pos, found, err)
	}
	if _, found, _ := w.FindUniqueEntity("nobody"); found {
		t.Errorf("found an unknown unique id")
	}

	id, err := w.LoadUniqueEntity("boss")
	mustNoErr(t, err, "LoadUniqueEntity")
	if id == NullEntityID {
		t.Fatalf("LoadUniqueEntity returned the null id")
	}
	if w.SectorLoadLevel(left) != LoadLevelLoaded {
		t.Errorf("owning sector not loaded")
	}
	if id, err := w.LoadUniqueEntity("nobody"); err != nil || id != NullEntityID {
		t.Errorf("LoadUniqueEntity(nobody) = %d, %v", id, err)
	}

	t.Run("stale entries are removed", func(t *testing.T) {
		e, _ := w.Entities().Get(id)
		e.(*testEntity).X = 12 // moves into right

		mustNoErr(t, w.Sync(), "Sync")
		if entry, found, _ := w.lookupUniqueIndex("boss"); found && entry.Sector == left {
			t.Errorf("stale index entry for boss in %s", left)
		}
		ids, _ := w.readSectorUniques(left)
		if len(ids) != 0 {
			t.Errorf("left still lists %v", ids)
		}

		pos, found, _ := w.FindUniqueEntity("boss")
		if !found || pos.X != 12 {
			t.Errorf("FindUniqueEntity = %v, %v", pos, found)
		}
	})

	t.Run("zombie store updates the index", func(t *testing.T) {
		mustNoErr(t, w.Tick(1, "test"), "Tick")
		entry, found, err := w.lookupUniqueIndex("boss")
		if err != nil || !found || entry.Sector != right {
			t.Errorf("index entry = %+v, %v, %v", entry, found, err)
		}
		pos, found, _ := w.FindUniqueEntity("boss")
		if !found || pos != (Vec2F{X: 12, Y: 3}) {
			t.Errorf("FindUniqueEntity = %v, %v", pos, found)
		}
	})
}

func TestUniqueIndexEntries(t *testing.T) {
	w := newTestWorld(t, 1, 1)

	mustNoErr(t, w.SetUniqueIndexEntry("a", Sector{}, Vec2F{X: 1, Y: 1}), "SetUniqueIndexEntry")
	mustNoErr(t, w.SetUniqueIndexEntry("b", Sector{}, Vec2F{X: 2, Y: 2}), "SetUniqueIndexEntry")

	if pos, found, _ := w.FindUniqueEntity("b"); !found || pos != (Vec2F{X: 2, Y: 2}) {
		t.Errorf("FindUniqueEntity(b) = %v, %v", pos, found)
	}

	mustNoErr(t, w.RemoveUniqueIndexEntry("b"), "RemoveUniqueIndexEntry")
	mustNoErr(t, w.RemoveUniqueIndexEntry("missing"), "RemoveUniqueIndexEntry")
	if _, found, _ := w.FindUniqueEntity("b"); found {
		t.Errorf("removed entry still found")
	}
	if _, found, _ := w.FindUniqueEntity("a"); !found {
		t.Errorf("entry a lost")
	}
}

func TestUpdateSectorUniquesKeepsForeignEntries(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	left, right := Sector{0, 0}, Sector{1, 0}

	e := &testEntity{Unique: "courier", X: 3, Y: 3}
	mustNoErr(t, w.updateSectorUniques(left, []Entity{e}), "updateSectorUniques")

	// the courier was stored in right later, left's copy is outdated
	e.X = 12
	mustNoErr(t, w.mergeSectorUniques(right, []Entity{e}), "mergeSectorUniques")
	mustNoErr(t, w.updateSectorUniques(left, nil), "updateSectorUniques")

	entry, found, err := w.lookupUniqueIndex("courier")
	if err != nil || !found || entry.Sector != right {
		t.Errorf("index entry = %+v, %v, %v", entry, found, err)
	}
	if _, has, _ := w.store.Find(sectorKey(TagSectorUniques, left)); has {
		t.Errorf("empty sector unique set was not removed")
	}
}

// --------------------------------------------------------------------------
// Fatal discipline
// --------------------------------------------------------------------------

func TestPoisonedAfterDeviceFailure(t *testing.T) {
	dev := &failingDevice{File: newDevice(t)}
	log := &recordingLogger{}
	s, err := CreateNew(dev, WorldSize{Width: 16, Height: 16}, testOptions(newTestFacade(), log))
	mustNoErr(t, err, "CreateNew")
	defer s.Close()

	mustNoErr(t, s.LoadSector(Sector{}), "LoadSector")
	dev.fail = true

	err = s.Sync()
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if !strings.Contains(err.Error(), "sync") {
		t.Errorf("error does not name the operation: %v", err)
	}
	if s.Poisoned() == nil {
		t.Errorf("storage not poisoned")
	}
	if log.count(logger.ERROR) != 1 {
		t.Errorf("logged %d errors, expected 1", log.count(logger.ERROR))
	}

	dev.fail = false
	if err := s.LoadSector(Sector{1, 1}); !errors.Is(err, ErrFatal) {
		t.Errorf("poisoned storage accepted LoadSector: %v", err)
	}
	if _, err := s.ReadChunks(); !errors.Is(err, ErrFatal) {
		t.Errorf("poisoned storage accepted ReadChunks: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close of poisoned storage: %v", err)
	}
}

func TestFailedSyncKeepsLastCommit(t *testing.T) {
	dev := &failingDevice{File: newDevice(t)}
	s, err := CreateNew(dev, WorldSize{Width: 16, Height: 16}, testOptions(newTestFacade(), &recordingLogger{}))
	mustNoErr(t, err, "CreateNew")
	defer s.Close()

	mustNoErr(t, s.LoadSector(Sector{}), "LoadSector")
	s.Tiles().SetTile(1, 1, Tile{Foreground: 5})
	mustNoErr(t, s.Sync(), "Sync")

	s.Tiles().SetTile(1, 1, Tile{Foreground: 7})
	dev.fail = true
	if err := s.Sync(); !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	dev.fail = false

	reopened, err := OpenExisting(dev.File, testOptions(newTestFacade(), &recordingLogger{}))
	mustNoErr(t, err, "OpenExisting after failed sync")
	defer reopened.Close()
	mustNoErr(t, reopened.LoadSector(Sector{}), "LoadSector")
	if got := reopened.Tiles().Tile(1, 1); got.Foreground != 5 {
		t.Errorf("tile after failed sync = %+v, expected the last synced one", got)
	}
}

func TestPoisonedAfterGeneratorFailure(t *testing.T) {
	w := newTestWorld(t, 2, 1)
	w.facade.failSector = &Sector{0, 0}

	err := w.ActivateSector(Sector{1, 0})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if err := w.Tick(1, "test"); !errors.Is(err, ErrFatal) {
		t.Errorf("poisoned storage accepted Tick: %v", err)
	}
	w.QueueSectorActivation(Sector{1, 0})
	if w.queue.len() != 0 {
		t.Errorf("poisoned storage queued a sector")
	}
}

// --------------------------------------------------------------------------
// Metrics and facade forwarding
// --------------------------------------------------------------------------

func TestMetrics(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	mustNoErr(t, w.LoadSector(Sector{}), "LoadSector")
	mustNoErr(t, w.Sync(), "Sync")

	var buf bytes.Buffer
	w.Metrics().WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`sectorkv_sector_loads_total{level="tiles"} 1`,
		`sectorkv_sector_loads_total{level="entities"} 1`,
		"sectorkv_commits_total 2",
		"sectorkv_tracked_sectors 1",
		"sectorkv_generation_queue_length 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output misses %q:\n%s", want, out)
		}
	}
}

func TestEnqueuePlacement(t *testing.T) {
	w := newTestWorld(t, 1, 1)
	if pos := <-w.EnqueuePlacement([]string{"chest"}, 3); pos != (Vec2F{X: 3}) {
		t.Errorf("placement = %v", pos)
	}
}
