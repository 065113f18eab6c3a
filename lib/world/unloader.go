package world

import "github.com/cockroachdb/errors"

// unloadSectorToLevel lowers the load level of a sector to target (Tiles or None).
// Neighbours more than one level above target are lowered to target+1 once the
// sector itself passed its vetoes.
// It returns false when the unload was refused: an own entity asked to be kept
// alive (ignored with force), for target None an entity of another live sector
// overlaps this one (never ignored), or a neighbour refused to be lowered.
func (s *Storage) unloadSectorToLevel(sector Sector, target LoadLevel, force bool) (bool, error) {
	if target >= LoadLevelEntities {
		return true, nil
	}
	md, ok := s.metadata[sector]
	if !ok {
		return true, nil
	}

	var own []EntityID
	liveOverlap := false
	for _, id := range s.entities.Query(s.tiles.SectorRegion(sector)) {
		e, _ := s.entities.Get(id)
		owner := s.ownerSector(e)
		if owner != sector {
			// only the owner's current TTL is considered, not whether it is about to expire
			if om, ok := s.metadata[owner]; ok && om.TimeToLive > 0 {
				liveOverlap = true
			}
			continue
		}
		if !force && s.opts.Generator.EntityKeepAlive(e) {
			s.log.Debugf("unload of sector %s refused: entity %d is kept alive", sector, id)
			s.metrics.unloadRefusals.Inc()
			return false, nil
		}
		own = append(own, id)
	}

	if target == LoadLevelNone && liveOverlap {
		s.log.Debugf("unload of sector %s refused: overlapped by an entity of a live sector", sector)
		s.metrics.unloadRefusals.Inc()
		return false, nil
	}

	for _, n := range s.tiles.AdjacentSectors(sector) {
		if s.SectorLoadLevel(n) <= target+1 {
			continue
		}
		lowered, err := s.unloadSectorToLevel(n, target+1, force)
		if err != nil || !lowered {
			if err == nil {
				s.log.Debugf("unload of sector %s refused: neighbour %s stays loaded", sector, n)
			}
			return false, err
		}
	}

	if md.LoadLevel >= LoadLevelEntities || len(own) > 0 {
		// entities of a sector below Entities are zombies, the stored list is still incomplete
		merge := md.LoadLevel < LoadLevelEntities
		if err := s.storeEntities(sector, own, merge); err != nil {
			return false, err
		}
		if md.LoadLevel > LoadLevelTiles {
			md.LoadLevel = LoadLevelTiles
			s.opts.Generator.SectorLoadLevelChanged(sector, LoadLevelTiles)
		}
	}

	if target == LoadLevelNone {
		if md.LoadLevel >= LoadLevelTiles {
			if err := s.writeTiles(sector, md.GenerationLevel); err != nil {
				return false, errors.Wrapf(err, "store tiles of sector %s", sector)
			}
			s.tiles.UnloadSector(sector)
		}
		delete(s.metadata, sector)
		s.opts.Generator.SectorLoadLevelChanged(sector, LoadLevelNone)
		s.metrics.unloads.Inc()
	}
	return true, nil
}

// storeEntities removes the entities from the live map, stores the persistent
// ones and destructs all of them
func (s *Storage) storeEntities(sector Sector, ids []EntityID, merge bool) error {
	var persist []Entity
	live := make([]EntityID, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entities.Get(id)
		if !ok {
			continue
		}
		live = append(live, id)
		if s.opts.Generator.EntityPersistent(e) {
			persist = append(persist, e)
		}
	}

	if err := s.writeEntities(sector, persist, merge); err != nil {
		return err
	}

	for _, id := range live {
		if e, ok := s.entities.Remove(id); ok {
			s.opts.Generator.DestructEntity(e)
		}
	}
	return nil
}

// orphanEntities groups the live entities whose owner sector is not tracked at all.
// Such entities moved out of the resident area and are stored like zombies.
func (s *Storage) orphanEntities() map[Sector][]EntityID {
	var orphans map[Sector][]EntityID
	for _, id := range s.entities.IDs() {
		e, _ := s.entities.Get(id)
		owner := s.ownerSector(e)
		if _, tracked := s.metadata[owner]; tracked {
			continue
		}
		if orphans == nil {
			orphans = make(map[Sector][]EntityID)
		}
		orphans[owner] = append(orphans[owner], id)
	}
	return orphans
}

// storeOrphans merges orphaned entities into the entity stores of their owner sectors
func (s *Storage) storeOrphans() error {
	orphans := s.orphanEntities()
	sectors := make([]Sector, 0, len(orphans))
	for sector := range orphans {
		sectors = append(sectors, sector)
	}
	sortSectors(sectors)
	for _, sector := range sectors {
		s.log.Debugf("storing %d entities of untracked sector %s", len(orphans[sector]), sector)
		if err := s.storeEntities(sector, orphans[sector], true); err != nil {
			return errors.Wrapf(err, "store entities of untracked sector %s", sector)
		}
	}
	return nil
}
