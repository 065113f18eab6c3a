package world

import (
	"github.com/ValentinKolb/sectorkv/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

// Options configures a Storage
type Options struct {
	SectorSize         int     // Edge length of a sector in tiles (ignored when opening, the header wins)
	MinSectorTTL       float64 // Lower bound of the randomized sector TTL in seconds
	MaxSectorTTL       float64 // Upper bound of the randomized sector TTL in seconds
	GenerationQueueTTL float64 // Seconds a queued sector waits for generation before it is dropped

	Fallbacks TileFallbacks // Replacement ids for tiles rejected by Validator
	Validator TileValidator // Known tile ids (nil = every id is valid)

	Generator GeneratorFacade // Generation and entity lifecycle policy (required)
	Factory   EntityFactory   // Entity (de)serialization (required)

	Logger    logger.ILogger  // Logger (nil = logger.GetLogger("world"))
	Seed      int64           // Seed of the TTL randomization (0 = random)
	DBFactory store.DBFactory // Engine underneath the store (nil = maple)
}

// DefaultOptions returns the default Storage options without collaborators
func DefaultOptions() *Options {
	return &Options{
		SectorSize:         32,
		MinSectorTTL:       10,
		MaxSectorTTL:       20,
		GenerationQueueTTL: 15,
	}
}

// ErrInvalidOptions is returned for options that cannot produce a working storage
var ErrInvalidOptions = errors.New("invalid world storage options")

func (o *Options) validate() error {
	switch {
	case o.Generator == nil:
		return errors.Wrap(ErrInvalidOptions, "generator facade is required")
	case o.Factory == nil:
		return errors.Wrap(ErrInvalidOptions, "entity factory is required")
	case o.SectorSize <= 0:
		return errors.Wrapf(ErrInvalidOptions, "sector size must be positive, got %d", o.SectorSize)
	case o.MinSectorTTL < 0 || o.MaxSectorTTL < o.MinSectorTTL:
		return errors.Wrapf(ErrInvalidOptions, "invalid sector TTL range [%v, %v]", o.MinSectorTTL, o.MaxSectorTTL)
	}
	return nil
}

// remapTiles replaces unknown ids with the fallbacks and returns the number of changed tiles
func (o *Options) remapTiles(tiles []Tile) int {
	if o.Validator == nil {
		return 0
	}
	changed := 0
	for i := range tiles {
		t := &tiles[i]
		before := *t
		if !o.Validator.ValidMaterial(t.Foreground) {
			t.Foreground = o.Fallbacks.Material
		}
		if !o.Validator.ValidMaterial(t.Background) {
			t.Background = o.Fallbacks.Material
		}
		if !o.Validator.ValidMod(t.ForegroundMod) {
			t.ForegroundMod = o.Fallbacks.Mod
		}
		if !o.Validator.ValidMod(t.BackgroundMod) {
			t.BackgroundMod = o.Fallbacks.Mod
		}
		if !o.Validator.ValidLiquid(t.Liquid) {
			t.Liquid = o.Fallbacks.Liquid
		}
		if *t != before {
			changed++
		}
	}
	return changed
}
