package world

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/sectorkv/lib/world"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var demoLogger = logger.GetLogger("demo")

// Materials, mods and liquids known to the demo generator
const (
	materialEmpty world.MaterialID = 0
	materialStone world.MaterialID = 1
	materialDirt  world.MaterialID = 2
	materialBrick world.MaterialID = 3

	modMoss world.ModID = 1

	liquidNone  world.LiquidID = 0
	liquidWater world.LiquidID = 1
)

// --------------------------------------------------------------------------
// Demo entities
// --------------------------------------------------------------------------

// demoEntity is a point entity. Chests are persistent and carry a unique id,
// sparks are discarded when their sector unloads.
type demoEntity struct {
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Unique string  `json:"unique,omitempty"`
}

func (e *demoEntity) Position() world.Vec2F { return world.Vec2F{X: e.X, Y: e.Y} }

func (e *demoEntity) BoundBox() world.RectF {
	return world.RectF{
		Min: world.Vec2F{X: e.X - 0.5, Y: e.Y - 0.5},
		Max: world.Vec2F{X: e.X + 0.5, Y: e.Y + 0.5},
	}
}

func (e *demoEntity) UniqueID() string { return e.Unique }

// demoFactory stores entities as JSON
type demoFactory struct{}

func (demoFactory) SerializeEntity(e world.Entity) ([]byte, error) {
	de, ok := e.(*demoEntity)
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %T", e)
	}
	return json.Marshal(de)
}

func (demoFactory) DeserializeEntity(data []byte) (world.Entity, error) {
	var de demoEntity
	if err := json.Unmarshal(data, &de); err != nil {
		return nil, err
	}
	if de.Kind == "" {
		return nil, fmt.Errorf("entity without kind")
	}
	return &de, nil
}

// --------------------------------------------------------------------------
// Demo generator
// --------------------------------------------------------------------------

// demoGenerator builds a layered terrain: stone below a fixed horizon, small
// brick rooms, water pools in the rooms and a chest in every fourth sector.
type demoGenerator struct {
	storage *world.Storage
	horizon int
}

func newDemoGenerator() *demoGenerator {
	return &demoGenerator{}
}

// bind attaches the storage the generator writes tiles into
func (g *demoGenerator) bind(s *world.Storage) {
	g.storage = s
	g.horizon = s.Size().Height / 4
}

// forEachTile calls fn for every tile of the sector inside the world
func (g *demoGenerator) forEachTile(sector world.Sector, fn func(x, y int, t world.Tile) world.Tile) {
	tiles := g.storage.Tiles()
	size := g.storage.Size()
	ss := g.storage.SectorSize()
	for y := sector.Y * ss; y < (sector.Y+1)*ss && y < size.Height; y++ {
		for x := sector.X * ss; x < (sector.X+1)*ss && x < size.Width; x++ {
			tiles.SetTile(x, y, fn(x, y, tiles.Tile(x, y)))
		}
	}
}

// room returns the room rectangle of a sector, if it has one
func (g *demoGenerator) room(sector world.Sector) (x0, y0, x1, y1 int, ok bool) {
	if (sector.X*7+sector.Y*13)%5 != 0 {
		return 0, 0, 0, 0, false
	}
	ss := g.storage.SectorSize()
	cx, cy := sector.X*ss+ss/2, sector.Y*ss+ss/2
	if cy <= g.horizon {
		return 0, 0, 0, 0, false
	}
	r := ss / 4
	return cx - r, cy - r, cx + r, cy + r, true
}

func (g *demoGenerator) GenerateSectorLevel(sector world.Sector, level world.GenerationLevel) error {
	if g.storage == nil {
		return fmt.Errorf("demo generator is not bound to a world")
	}
	demoLogger.Debugf("generating sector %s to %s", sector, level)

	switch level {
	case world.GenerationBaseTiles:
		g.forEachTile(sector, func(_, y int, t world.Tile) world.Tile {
			if y >= g.horizon {
				return world.Tile{Foreground: materialStone, Background: materialDirt}
			}
			return world.Tile{}
		})
	case world.GenerationMicroDungeons:
		x0, y0, x1, y1, ok := g.room(sector)
		if !ok {
			return nil
		}
		g.forEachTile(sector, func(x, y int, t world.Tile) world.Tile {
			switch {
			case x < x0 || x > x1 || y < y0 || y > y1:
				return t
			case x == x0 || x == x1 || y == y0 || y == y1:
				return world.Tile{Foreground: materialBrick, Background: materialBrick}
			default:
				return world.Tile{Foreground: materialEmpty, Background: materialBrick}
			}
		})
	case world.GenerationCaveLiquid:
		x0, y0, x1, y1, ok := g.room(sector)
		if !ok {
			return nil
		}
		g.forEachTile(sector, func(x, y int, t world.Tile) world.Tile {
			if x > x0 && x < x1 && y == y1-1 && y > y0 {
				t.Liquid, t.LiquidLevel = liquidWater, 255
			}
			return t
		})
	case world.GenerationFinalize:
		g.forEachTile(sector, func(_, y int, t world.Tile) world.Tile {
			if y == g.horizon && t.Foreground == materialStone {
				t.ForegroundMod = modMoss
			}
			return t
		})
		if (sector.X+sector.Y)%4 == 0 {
			ss := float64(g.storage.SectorSize())
			chest := &demoEntity{
				Kind:   "chest",
				X:      float64(sector.X)*ss + ss/2,
				Y:      float64(sector.Y)*ss + ss/2,
				Unique: uuid.NewString(),
			}
			id := g.storage.Entities().ReserveID()
			g.storage.Entities().Add(id, chest)
			demoLogger.Debugf("placed chest %s in sector %s", chest.Unique, sector)
		}
	}
	return nil
}

func (g *demoGenerator) TerraformSector(sector world.Sector) error {
	if g.storage == nil {
		return fmt.Errorf("demo generator is not bound to a world")
	}
	// flatten everything above the horizon
	g.forEachTile(sector, func(_, y int, t world.Tile) world.Tile {
		if y < g.horizon {
			return world.Tile{}
		}
		return t
	})
	return nil
}

func (g *demoGenerator) SectorLoadLevelChanged(sector world.Sector, level world.LoadLevel) {
	demoLogger.Debugf("sector %s is now %s", sector, level)
}

func (g *demoGenerator) EntityKeepAlive(world.Entity) bool { return false }

func (g *demoGenerator) EntityPersistent(e world.Entity) bool {
	de, ok := e.(*demoEntity)
	return ok && de.Kind != "spark"
}

func (g *demoGenerator) InitEntity(id world.EntityID, e world.Entity) {
	demoLogger.Debugf("entity %d (%s) entered the world", id, e.(*demoEntity).Kind)
}

func (g *demoGenerator) DestructEntity(e world.Entity) {}

// EnqueuePlacement resolves immediately to the surface above the dungeon's sector
func (g *demoGenerator) EnqueuePlacement(_ []string, dungeonID int) world.Placement {
	ch := make(chan world.Vec2F, 1)
	ss := g.storage.SectorSize()
	ch <- world.Vec2F{X: float64(dungeonID*ss + ss/2), Y: float64(g.horizon - 1)}
	close(ch)
	return ch
}

// knownTiles rejects ids the demo generator never produces
type knownTiles struct{}

func (knownTiles) ValidMaterial(id world.MaterialID) bool { return id <= materialBrick }
func (knownTiles) ValidMod(id world.ModID) bool           { return id <= modMoss }
func (knownTiles) ValidLiquid(id world.LiquidID) bool     { return id <= liquidWater }
