package world

import "sort"

// --------------------------------------------------------------------------
// Unique index
// --------------------------------------------------------------------------

// The unique index has two tables: the global index maps a unique id to its last
// known sector and position (sharded by the hash of the id), the per-sector set
// lists the unique ids stored in a sector and is used to prune stale global entries.

func (s *Storage) readUniqueShard(shard uint32) (map[string]UniqueEntry, error) {
	data, found, err := s.readRecord(uniqueIndexKey(shard))
	if err != nil {
		return nil, err
	}
	if !found {
		return make(map[string]UniqueEntry), nil
	}
	return decodeUniqueIndex(data)
}

func (s *Storage) writeUniqueShard(shard uint32, entries map[string]UniqueEntry) error {
	if len(entries) == 0 {
		return s.removeRecord(uniqueIndexKey(shard))
	}
	return s.writeRecord(uniqueIndexKey(shard), encodeUniqueIndex(entries))
}

func (s *Storage) lookupUniqueIndex(uniqueID string) (UniqueEntry, bool, error) {
	entries, err := s.readUniqueShard(uniqueShard(uniqueID))
	if err != nil {
		return UniqueEntry{}, false, err
	}
	e, ok := entries[uniqueID]
	return e, ok, nil
}

// setUniqueIndexEntry records the location of a unique entity
func (s *Storage) setUniqueIndexEntry(uniqueID string, sector Sector, pos Vec2F) error {
	shard := uniqueShard(uniqueID)
	entries, err := s.readUniqueShard(shard)
	if err != nil {
		return err
	}
	entries[uniqueID] = UniqueEntry{Sector: sector, Position: pos}
	return s.writeUniqueShard(shard, entries)
}

// removeUniqueIndexEntry forgets a unique entity
func (s *Storage) removeUniqueIndexEntry(uniqueID string) error {
	shard := uniqueShard(uniqueID)
	entries, err := s.readUniqueShard(shard)
	if err != nil {
		return err
	}
	if _, ok := entries[uniqueID]; !ok {
		return nil
	}
	delete(entries, uniqueID)
	return s.writeUniqueShard(shard, entries)
}

func (s *Storage) readSectorUniques(sector Sector) ([]string, error) {
	data, found, err := s.readRecord(sectorKey(TagSectorUniques, sector))
	if err != nil || !found {
		return nil, err
	}
	return decodeSectorUniques(data)
}

func (s *Storage) writeSectorUniques(sector Sector, ids []string) error {
	key := sectorKey(TagSectorUniques, sector)
	if len(ids) == 0 {
		return s.removeRecord(key)
	}
	sort.Strings(ids)
	return s.writeRecord(key, encodeSectorUniques(ids))
}

// uniqueEntities returns the entities with a unique id keyed by that id
func uniqueEntities(entities []Entity) map[string]Entity {
	m := make(map[string]Entity)
	for _, e := range entities {
		if uid := e.UniqueID(); uid != "" {
			m[uid] = e
		}
	}
	return m
}

// updateSectorUniques makes entities the complete set of unique entities of the sector.
// Ids that left the sector lose their global entry if it still points here.
func (s *Storage) updateSectorUniques(sector Sector, entities []Entity) error {
	previous, err := s.readSectorUniques(sector)
	if err != nil {
		return err
	}
	current := uniqueEntities(entities)

	for _, uid := range previous {
		if _, still := current[uid]; still {
			continue
		}
		entry, found, err := s.lookupUniqueIndex(uid)
		if err != nil {
			return err
		}
		if found && entry.Sector == sector {
			if err := s.removeUniqueIndexEntry(uid); err != nil {
				return err
			}
		}
	}

	ids := sortedKeys(current)
	for _, uid := range ids {
		if err := s.setUniqueIndexEntry(uid, sector, current[uid].Position()); err != nil {
			return err
		}
	}
	return s.writeSectorUniques(sector, ids)
}

// mergeSectorUniques adds entities to the unique set of the sector without removing
// ids, used when only part of the sector's entities is known.
func (s *Storage) mergeSectorUniques(sector Sector, entities []Entity) error {
	current := uniqueEntities(entities)
	if len(current) == 0 {
		return nil
	}
	previous, err := s.readSectorUniques(sector)
	if err != nil {
		return err
	}

	merged := make(map[string]struct{}, len(previous)+len(current))
	for _, uid := range previous {
		merged[uid] = struct{}{}
	}
	for _, uid := range sortedKeys(current) {
		merged[uid] = struct{}{}
		if err := s.setUniqueIndexEntry(uid, sector, current[uid].Position()); err != nil {
			return err
		}
	}
	return s.writeSectorUniques(sector, sortedKeys(merged))
}

// --------------------------------------------------------------------------
// Public lookups
// --------------------------------------------------------------------------

// FindUniqueEntity returns the position of a unique entity. Live entities are
// checked first. An index entry is only trusted while its sector's entities are not
// resident, otherwise the entity would have been live.
func (s *Storage) FindUniqueEntity(uniqueID string) (Vec2F, bool, error) {
	var pos Vec2F
	found := false
	err := s.guard("find unique entity", func() error {
		if _, e, ok := s.entities.FindUnique(uniqueID); ok {
			pos, found = e.Position(), true
			return nil
		}
		entry, ok, err := s.lookupUniqueIndex(uniqueID)
		if err != nil || !ok {
			return err
		}
		if s.SectorLoadLevel(entry.Sector) >= LoadLevelEntities {
			return nil
		}
		pos, found = entry.Position, true
		return nil
	})
	return pos, found, err
}

// LoadUniqueEntity loads the sector holding a unique entity and returns its live id,
// or NullEntityID if the entity is unknown.
func (s *Storage) LoadUniqueEntity(uniqueID string) (EntityID, error) {
	result := NullEntityID
	err := s.guard("load unique entity", func() error {
		if id, _, ok := s.entities.FindUnique(uniqueID); ok {
			result = id
			return nil
		}
		entry, ok, err := s.lookupUniqueIndex(uniqueID)
		if err != nil || !ok {
			return err
		}
		if err := s.loadSectorToLevel(entry.Sector, LoadLevelLoaded); err != nil {
			return err
		}
		if id, _, ok := s.entities.FindUnique(uniqueID); ok {
			result = id
		}
		return nil
	})
	return result, err
}

// SetUniqueIndexEntry records the location of a unique entity in the global index
func (s *Storage) SetUniqueIndexEntry(uniqueID string, sector Sector, pos Vec2F) error {
	return s.guard("set unique index entry", func() error {
		return s.setUniqueIndexEntry(uniqueID, sector, pos)
	})
}

// RemoveUniqueIndexEntry removes a unique entity from the global index
func (s *Storage) RemoveUniqueIndexEntry(uniqueID string) error {
	return s.guard("remove unique index entry", func() error {
		return s.removeUniqueIndexEntry(uniqueID)
	})
}
