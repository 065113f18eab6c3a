package world

import "github.com/cockroachdb/errors"

// LoadSector loads a sector and the tiles of its neighbours.
// Invalid sectors are ignored.
func (s *Storage) LoadSector(sector Sector) error {
	return s.guard("load sector", func() error {
		return s.loadSectorToLevel(sector, LoadLevelLoaded)
	})
}

// loadSectorToLevel raises the load level of a sector to target. Before level i
// is entered all neighbours are loaded to level i-1, so the levels of adjacent
// sectors never differ by more than one.
func (s *Storage) loadSectorToLevel(sector Sector, target LoadLevel) error {
	if !s.tiles.SectorValid(sector) || target == LoadLevelNone {
		return nil
	}

	md := s.getMetadata(sector)
	md.TimeToLive = s.randomSectorTTL()

	for level := md.LoadLevel + 1; level <= target; level++ {
		for _, n := range s.tiles.AdjacentSectors(sector) {
			if err := s.loadSectorToLevel(n, level-1); err != nil {
				return err
			}
		}

		switch level {
		case LoadLevelTiles:
			if err := s.loadTiles(sector, md); err != nil {
				return errors.Wrapf(err, "load tiles of sector %s", sector)
			}
			s.metrics.loadsTiles.Inc()
		case LoadLevelEntities:
			if err := s.loadEntities(sector, md); err != nil {
				return errors.Wrapf(err, "load entities of sector %s", sector)
			}
			s.metrics.loadsEntities.Inc()
		}
		s.opts.Generator.SectorLoadLevelChanged(sector, level)
	}
	return nil
}

func (s *Storage) loadTiles(sector Sector, md *SectorMetadata) error {
	ts, err := s.readTiles(sector)
	if err != nil {
		return err
	}
	if n := s.opts.remapTiles(ts.Tiles); n > 0 {
		s.log.Debugf("remapped %d invalid tiles in sector %s", n, sector)
	}
	s.tiles.LoadSector(sector, ts.Tiles)
	md.GenerationLevel = ts.GenerationLevel
	md.LoadLevel = LoadLevelTiles
	return nil
}

// readTiles returns the stored tile sector or an empty, ungenerated one
func (s *Storage) readTiles(sector Sector) (TileSectorStore, error) {
	data, found, err := s.readRecord(sectorKey(TagTileSector, sector))
	if err != nil {
		return TileSectorStore{}, err
	}
	if !found {
		return TileSectorStore{
			GenerationLevel:          GenerationNone,
			TileSerializationVersion: TileSerializationVersion,
			Tiles:                    make([]Tile, s.header.SectorSize*s.header.SectorSize),
		}, nil
	}
	return decodeTileSector(data, s.header.SectorSize)
}

func (s *Storage) writeTiles(sector Sector, level GenerationLevel) error {
	tiles, ok := s.tiles.SectorTiles(sector)
	if !ok {
		return nil
	}
	return s.writeRecord(sectorKey(TagTileSector, sector), encodeTileSector(TileSectorStore{
		GenerationLevel:          level,
		TileSerializationVersion: TileSerializationVersion,
		Tiles:                    tiles,
	}))
}

func (s *Storage) loadEntities(sector Sector, md *SectorMetadata) error {
	blobs, err := s.readEntityBlobs(sector)
	if err != nil {
		return err
	}

	loaded := make([]Entity, 0, len(blobs))
	for i, blob := range blobs {
		e, err := s.opts.Factory.DeserializeEntity(blob)
		if err != nil {
			s.log.Warningf("dropping entity %d of sector %s: %v", i, sector, err)
			s.metrics.droppedEntities.Inc()
			continue
		}
		loaded = append(loaded, e)
	}

	for _, e := range loaded {
		id := s.entities.ReserveID()
		s.opts.Generator.InitEntity(id, e)
		s.entities.Add(id, e)
	}
	md.LoadLevel = LoadLevelEntities

	return s.updateSectorUniques(sector, loaded)
}

func (s *Storage) readEntityBlobs(sector Sector) ([][]byte, error) {
	data, found, err := s.readRecord(sectorKey(TagEntitySector, sector))
	if err != nil || !found {
		return nil, err
	}
	return decodeEntitySector(data)
}

// writeEntities serializes entities into the entity store of the sector. With merge
// the blobs are appended to the stored ones and the unique index is only extended,
// otherwise the stored list and the sector's unique set are replaced.
func (s *Storage) writeEntities(sector Sector, entities []Entity, merge bool) error {
	var blobs [][]byte
	if merge {
		stored, err := s.readEntityBlobs(sector)
		if err != nil {
			return err
		}
		blobs = stored
	}
	for _, e := range entities {
		blob, err := s.opts.Factory.SerializeEntity(e)
		if err != nil {
			return errors.Wrapf(err, "serialize entity of sector %s", sector)
		}
		blobs = append(blobs, blob)
	}

	key := sectorKey(TagEntitySector, sector)
	var err error
	if len(blobs) == 0 {
		err = s.removeRecord(key)
	} else {
		err = s.writeRecord(key, encodeEntitySector(blobs))
	}
	if err != nil {
		return err
	}

	if merge {
		return s.mergeSectorUniques(sector, entities)
	}
	return s.updateSectorUniques(sector, entities)
}
