package world

import (
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Geometry
// --------------------------------------------------------------------------

// Vec2F is a position in world tile coordinates
type Vec2F struct {
	X, Y float64
}

// RectF is an axis aligned rectangle. Min is inclusive, Max is exclusive.
type RectF struct {
	Min, Max Vec2F
}

// Intersects reports whether the two rectangles share any area
func (r RectF) Intersects(o RectF) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X &&
		r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

// Contains reports whether p lies inside the rectangle
func (r RectF) Contains(p Vec2F) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// WorldSize is the size of a world in tiles
type WorldSize struct {
	Width, Height int
}

// Sector is the coordinate of a SectorSize x SectorSize tile region
type Sector struct {
	X, Y int
}

func (s Sector) String() string {
	return fmt.Sprintf("(%d,%d)", s.X, s.Y)
}

// floorDiv divides rounding towards negative infinity
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// LoadLevel describes how much of a sector is resident in memory
type LoadLevel uint8

const (
	LoadLevelNone     LoadLevel = iota // nothing resident, no metadata
	LoadLevelTiles                     // tiles resident
	LoadLevelEntities                  // tiles and entities resident

	LoadLevelLoaded = LoadLevelEntities // fully resident
)

func (l LoadLevel) String() string {
	switch l {
	case LoadLevelNone:
		return "none"
	case LoadLevelTiles:
		return "tiles"
	case LoadLevelEntities:
		return "entities"
	default:
		return fmt.Sprintf("LoadLevel(%d)", uint8(l))
	}
}

// GenerationLevel describes how many generation passes were applied to a sector
type GenerationLevel uint8

const (
	GenerationNone GenerationLevel = iota
	GenerationBaseTiles
	GenerationMicroDungeons
	GenerationCaveLiquid
	GenerationFinalize
	GenerationTerraform // only entered through TriggerTerraformSector
	GenerationComplete
)

func (g GenerationLevel) String() string {
	switch g {
	case GenerationNone:
		return "none"
	case GenerationBaseTiles:
		return "base-tiles"
	case GenerationMicroDungeons:
		return "micro-dungeons"
	case GenerationCaveLiquid:
		return "cave-liquid"
	case GenerationFinalize:
		return "finalize"
	case GenerationTerraform:
		return "terraform"
	case GenerationComplete:
		return "complete"
	default:
		return fmt.Sprintf("GenerationLevel(%d)", uint8(g))
	}
}

// nextGenerationLevel returns the level an ordinary generation step leads to.
// Ordinary stepping never enters Terraform.
func nextGenerationLevel(g GenerationLevel) GenerationLevel {
	if g >= GenerationFinalize {
		return GenerationComplete
	}
	return g + 1
}

// prevGenerationLevel is the inverse of nextGenerationLevel for the ordinary levels
func prevGenerationLevel(g GenerationLevel) GenerationLevel {
	switch {
	case g == GenerationNone:
		return GenerationNone
	case g >= GenerationTerraform:
		return GenerationFinalize
	default:
		return g - 1
	}
}

// SectorMetadata is the in-memory state of a tracked sector
type SectorMetadata struct {
	LoadLevel       LoadLevel
	GenerationLevel GenerationLevel
	TimeToLive      float64 // seconds until the sector becomes eligible for eviction
}

// --------------------------------------------------------------------------
// Tiles
// --------------------------------------------------------------------------

type (
	MaterialID uint16
	ModID      uint16
	LiquidID   uint8
)

// Tile is a single cell of the world
type Tile struct {
	Foreground    MaterialID
	Background    MaterialID
	ForegroundMod ModID
	BackgroundMod ModID
	Liquid        LiquidID
	LiquidLevel   uint8
}

// TileValidator decides which ids are known. Unknown ids are remapped to the
// configured fallbacks when a sector is read.
type TileValidator interface {
	ValidMaterial(id MaterialID) bool
	ValidMod(id ModID) bool
	ValidLiquid(id LiquidID) bool
}

// TileFallbacks are the replacement ids for unknown tile contents
type TileFallbacks struct {
	Material MaterialID
	Mod      ModID
	Liquid   LiquidID
}

// --------------------------------------------------------------------------
// Entities and collaborators
// --------------------------------------------------------------------------

// EntityID identifies an entity inside the live entity map
type EntityID int32

// NullEntityID is never assigned to an entity
const NullEntityID EntityID = 0

// Entity is the part of a simulation entity the storage needs to know about
type Entity interface {
	// Position is the world position that decides which sector owns the entity.
	Position() Vec2F
	// BoundBox is the world space area covered by the entity.
	BoundBox() RectF
	// UniqueID returns the stable unique id of the entity or "" if it has none.
	UniqueID() string
}

// EntityFactory converts entities from and to their stored form
type EntityFactory interface {
	SerializeEntity(entity Entity) ([]byte, error)
	DeserializeEntity(data []byte) (Entity, error)
}

// Placement resolves to the position chosen for an enqueued placement
type Placement <-chan Vec2F

// GeneratorFacade is implemented by the world generator and owns all procedural
// generation and entity lifecycle policy.
type GeneratorFacade interface {
	// GenerateSectorLevel applies the generation pass for level to the sector.
	// All neighbours are at least at the previous level when it is called.
	GenerateSectorLevel(sector Sector, level GenerationLevel) error
	// TerraformSector runs the one-shot terraform pass on a sector.
	TerraformSector(sector Sector) error
	// SectorLoadLevelChanged is called after the load level of a sector changed.
	SectorLoadLevelChanged(sector Sector, level LoadLevel)
	// EntityKeepAlive reports whether the entity prevents its sector from unloading.
	EntityKeepAlive(entity Entity) bool
	// EntityPersistent reports whether the entity is stored on unload (otherwise it is discarded).
	EntityPersistent(entity Entity) bool
	// InitEntity is called before a loaded entity is inserted into the entity map.
	InitEntity(id EntityID, entity Entity)
	// DestructEntity is called after an entity was removed from the entity map on unload.
	DestructEntity(entity Entity)
	// EnqueuePlacement schedules a placement of the given items (or dungeon) and returns its future position.
	EnqueuePlacement(items []string, dungeonID int) Placement
}

// clampFloat keeps v inside [lo, hi)
func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, math.Nextafter(hi, lo)))
}
