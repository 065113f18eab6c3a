package world

import "sort"

// TileArray holds the tiles of all resident sectors.
// Tiles of sectors that are not resident read as the zero Tile.
//
// Thread-safety: not thread-safe, owned by a single Storage.
type TileArray struct {
	size       WorldSize
	sectorSize int
	sectors    map[Sector][]Tile
}

// NewTileArray creates an empty tile array for a world
func NewTileArray(size WorldSize, sectorSize int) *TileArray {
	return &TileArray{
		size:       size,
		sectorSize: sectorSize,
		sectors:    make(map[Sector][]Tile),
	}
}

// Size returns the world size in tiles
func (a *TileArray) Size() WorldSize { return a.size }

// SectorSize returns the edge length of a sector in tiles
func (a *TileArray) SectorSize() int { return a.sectorSize }

// SectorCount returns the number of sectors per axis
func (a *TileArray) SectorCount() (x, y int) {
	return (a.size.Width + a.sectorSize - 1) / a.sectorSize, (a.size.Height + a.sectorSize - 1) / a.sectorSize
}

// SectorValid reports whether the sector intersects the world bounds
func (a *TileArray) SectorValid(s Sector) bool {
	nx, ny := a.SectorCount()
	return s.X >= 0 && s.Y >= 0 && s.X < nx && s.Y < ny
}

// SectorFor returns the sector containing the tile position
func (a *TileArray) SectorFor(x, y int) Sector {
	return Sector{X: floorDiv(x, a.sectorSize), Y: floorDiv(y, a.sectorSize)}
}

// SectorRegion returns the tile area covered by the sector
func (a *TileArray) SectorRegion(s Sector) RectF {
	ss := float64(a.sectorSize)
	return RectF{
		Min: Vec2F{X: float64(s.X) * ss, Y: float64(s.Y) * ss},
		Max: Vec2F{X: float64(s.X+1) * ss, Y: float64(s.Y+1) * ss},
	}
}

// AdjacentSectors returns the valid neighbours of a sector (8-neighbourhood, no wrapping)
func (a *TileArray) AdjacentSectors(s Sector) []Sector {
	adjacent := make([]Sector, 0, 8)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := Sector{X: s.X + dx, Y: s.Y + dy}
			if a.SectorValid(n) {
				adjacent = append(adjacent, n)
			}
		}
	}
	return adjacent
}

// SectorLoaded reports whether the tiles of a sector are resident
func (a *TileArray) SectorLoaded(s Sector) bool {
	_, ok := a.sectors[s]
	return ok
}

// LoadSector makes tiles the resident content of the sector.
// The slice is owned by the array afterwards.
func (a *TileArray) LoadSector(s Sector, tiles []Tile) {
	a.sectors[s] = tiles
}

// UnloadSector removes and returns the tiles of a resident sector
func (a *TileArray) UnloadSector(s Sector) ([]Tile, bool) {
	tiles, ok := a.sectors[s]
	delete(a.sectors, s)
	return tiles, ok
}

// SectorTiles returns a copy of the tiles of a resident sector
func (a *TileArray) SectorTiles(s Sector) ([]Tile, bool) {
	tiles, ok := a.sectors[s]
	if !ok {
		return nil, false
	}
	out := make([]Tile, len(tiles))
	copy(out, tiles)
	return out, true
}

// LoadedSectors returns all resident sectors in key order
func (a *TileArray) LoadedSectors() []Sector {
	sectors := make([]Sector, 0, len(a.sectors))
	for s := range a.sectors {
		sectors = append(sectors, s)
	}
	sortSectors(sectors)
	return sectors
}

func (a *TileArray) locate(x, y int) ([]Tile, int, bool) {
	if x < 0 || y < 0 || x >= a.size.Width || y >= a.size.Height {
		return nil, 0, false
	}
	s := a.SectorFor(x, y)
	tiles, ok := a.sectors[s]
	if !ok {
		return nil, 0, false
	}
	return tiles, (y-s.Y*a.sectorSize)*a.sectorSize + (x - s.X*a.sectorSize), true
}

// Tile returns the tile at a world position
func (a *TileArray) Tile(x, y int) Tile {
	if tiles, i, ok := a.locate(x, y); ok {
		return tiles[i]
	}
	return Tile{}
}

// SetTile changes a tile of a resident sector. It returns false if the position
// is outside the world or its sector is not resident.
func (a *TileArray) SetTile(x, y int, t Tile) bool {
	tiles, i, ok := a.locate(x, y)
	if ok {
		tiles[i] = t
	}
	return ok
}

// sortSectors orders sectors by X then Y, the order of their store keys
func sortSectors(sectors []Sector) {
	sort.Slice(sectors, func(i, j int) bool {
		if sectors[i].X != sectors[j].X {
			return sectors[i].X < sectors[j].X
		}
		return sectors[i].Y < sectors[j].Y
	})
}
