package world

import "time"

// Tick advances the storage by dt seconds: it ages the generation queue and the
// TTL of every tracked sector, refreshes sectors with keep-alive entities, unloads
// expired sectors and stores zombie entities, including those of untracked
// sectors. worldID only labels log output.
func (s *Storage) Tick(dt float64, worldID string) error {
	return s.guard("tick", func() error {
		start := time.Now()
		defer s.metrics.tickDuration.UpdateDuration(start)

		s.queue.age(dt)

		for _, sector := range s.trackedSectors() {
			md, ok := s.metadata[sector]
			if !ok {
				continue
			}
			md.TimeToLive -= dt
			if md.LoadLevel >= LoadLevelLoaded && md.TimeToLive > 0 {
				continue
			}

			keepAlive := false
			var zombies []EntityID
			for _, id := range s.ownEntities(sector) {
				e, _ := s.entities.Get(id)
				if s.opts.Generator.EntityKeepAlive(e) {
					keepAlive = true
					break
				}
				if md.LoadLevel < LoadLevelEntities {
					zombies = append(zombies, id)
				}
			}

			switch {
			case keepAlive:
				md.TimeToLive = s.randomSectorTTL()
			case md.TimeToLive <= 0:
				unloaded, err := s.unloadSectorToLevel(sector, LoadLevelNone, false)
				if err != nil {
					return err
				}
				if unloaded {
					s.log.Debugf("world %s: unloaded expired sector %s", worldID, sector)
				}
			case len(zombies) > 0:
				s.log.Debugf("world %s: storing %d zombie entities of sector %s", worldID, len(zombies), sector)
				if err := s.storeEntities(sector, zombies, true); err != nil {
					return err
				}
			}
		}
		return s.storeOrphans()
	})
}
