package world

// --------------------------------------------------------------------------
// Sector metadata table
// --------------------------------------------------------------------------

// metadataTable tracks every sector that is not fully on disk.
// A sector without an entry has no resident data.
type metadataTable map[Sector]*SectorMetadata

// get returns the entry of a sector, creating it with a fresh TTL on first touch
func (s *Storage) getMetadata(sector Sector) *SectorMetadata {
	md, ok := s.metadata[sector]
	if !ok {
		md = &SectorMetadata{TimeToLive: s.randomSectorTTL()}
		s.metadata[sector] = md
	}
	return md
}

// trackedSectors returns a snapshot of all tracked sectors in key order
func (s *Storage) trackedSectors() []Sector {
	sectors := make([]Sector, 0, len(s.metadata))
	for sector := range s.metadata {
		sectors = append(sectors, sector)
	}
	sortSectors(sectors)
	return sectors
}

// randomSectorTTL spreads eviction of sectors loaded together over the TTL range
func (s *Storage) randomSectorTTL() float64 {
	lo, hi := s.opts.MinSectorTTL, s.opts.MaxSectorTTL
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Float64()*(hi-lo)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// SectorLoadLevel returns the load level of a sector (None if untracked)
func (s *Storage) SectorLoadLevel(sector Sector) LoadLevel {
	if md, ok := s.metadata[sector]; ok {
		return md.LoadLevel
	}
	return LoadLevelNone
}

// SectorGenerationLevel returns the generation level of a tracked sector.
// Untracked sectors report None, load them first to learn their stored level.
func (s *Storage) SectorGenerationLevel(sector Sector) GenerationLevel {
	if md, ok := s.metadata[sector]; ok {
		return md.GenerationLevel
	}
	return GenerationNone
}

// SectorTimeToLive returns the remaining TTL of a tracked sector
func (s *Storage) SectorTimeToLive(sector Sector) (float64, bool) {
	if md, ok := s.metadata[sector]; ok {
		return md.TimeToLive, true
	}
	return 0, false
}

// SectorActive reports whether a sector is fully loaded and completely generated
func (s *Storage) SectorActive(sector Sector) bool {
	md, ok := s.metadata[sector]
	return ok && md.LoadLevel == LoadLevelLoaded && md.GenerationLevel == GenerationComplete
}

// TrackedSectors returns all sectors with metadata in key order
func (s *Storage) TrackedSectors() []Sector {
	return s.trackedSectors()
}
