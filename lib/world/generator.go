package world

import "github.com/cockroachdb/errors"

// unlimitedBudget disables the level step limit of a generation call
const unlimitedBudget = -1

// ActivateSector loads a sector and generates it to Complete without a budget
func (s *Storage) ActivateSector(sector Sector) error {
	return s.guard("activate sector", func() error {
		reached, _, err := s.generateSectorToLevel(sector, GenerationComplete, unlimitedBudget)
		if err == nil && reached {
			s.queue.remove(sector)
		}
		return err
	})
}

// QueueSectorActivation records that a sector should be generated in the background.
// A completely generated sector only gets its TTL refreshed, any other sector is
// moved to the back of the generation queue.
func (s *Storage) QueueSectorActivation(sector Sector) {
	if s.usable() != nil || !s.tiles.SectorValid(sector) {
		return
	}
	if md, ok := s.metadata[sector]; ok && md.GenerationLevel == GenerationComplete {
		md.TimeToLive = s.randomSectorTTL()
		return
	}
	s.queue.push(sector, s.opts.GenerationQueueTTL)
}

// TriggerTerraformSector schedules the terraform pass for a completely generated sector
func (s *Storage) TriggerTerraformSector(sector Sector) error {
	return s.guard("trigger terraform", func() error {
		if err := s.loadSectorToLevel(sector, LoadLevelTiles); err != nil {
			return err
		}
		md, ok := s.metadata[sector]
		if !ok || md.GenerationLevel != GenerationComplete {
			return nil
		}
		md.GenerationLevel = GenerationTerraform
		s.QueueSectorActivation(sector)
		return nil
	})
}

// GenerateQueue generates queued sectors to Complete, front first, until the queue is
// empty or limit level steps were spent. limit <= 0 means no limit. ordering, if set,
// re-sorts the queue before draining. It returns true when the queue was drained.
func (s *Storage) GenerateQueue(limit int, ordering func(a, b Sector) bool) (bool, error) {
	finished := false
	err := s.guard("generate queue", func() error {
		if ordering != nil {
			s.queue.reorder(ordering)
		}

		budget := unlimitedBudget
		if limit > 0 {
			budget = limit
		}

		for {
			sector, ok := s.queue.front()
			if !ok {
				finished = true
				return nil
			}
			reached, generated, err := s.generateSectorToLevel(sector, GenerationComplete, budget)
			if err != nil {
				return err
			}
			if reached {
				s.queue.remove(sector)
			}
			if budget != unlimitedBudget {
				budget -= generated
				if budget <= 0 || !reached {
					finished = s.queue.len() == 0
					return nil
				}
			}
		}
	})
	return finished, err
}

// generateSectorToLevel raises the generation level of a sector to target, generating
// every neighbour to the previous level first. budget caps the total number of level
// steps including the recursive neighbour work (unlimitedBudget disables the cap).
// It returns whether target was reached and the number of steps performed.
func (s *Storage) generateSectorToLevel(sector Sector, target GenerationLevel, budget int) (bool, int, error) {
	if !s.tiles.SectorValid(sector) || target == GenerationNone {
		return true, 0, nil
	}
	if err := s.loadSectorToLevel(sector, LoadLevelLoaded); err != nil {
		return false, 0, err
	}
	md := s.metadata[sector]

	if target == GenerationComplete && md.GenerationLevel == GenerationTerraform {
		if budget == 0 {
			return false, 0, nil
		}
		if err := s.opts.Generator.TerraformSector(sector); err != nil {
			return false, 0, errors.Wrapf(err, "terraform sector %s", sector)
		}
		md.GenerationLevel = GenerationComplete
		s.metrics.generationSteps.Inc()
		return true, 1, nil
	}

	generated := 0
	for level := nextGenerationLevel(md.GenerationLevel); md.GenerationLevel < target && level <= target; level = nextGenerationLevel(level) {
		prev := prevGenerationLevel(level)
		for _, n := range s.tiles.AdjacentSectors(sector) {
			remaining := unlimitedBudget
			if budget != unlimitedBudget {
				remaining = budget - generated
			}
			reached, g, err := s.generateSectorToLevel(n, prev, remaining)
			generated += g
			if err != nil {
				return false, generated, err
			}
			if !reached {
				return false, generated, nil
			}
		}

		if budget != unlimitedBudget && generated >= budget {
			return false, generated, nil
		}
		if err := s.opts.Generator.GenerateSectorLevel(sector, level); err != nil {
			return false, generated, errors.Wrapf(err, "generate sector %s to %s", sector, level)
		}
		md.GenerationLevel = level
		generated++
		s.metrics.generationSteps.Inc()
	}

	return md.GenerationLevel >= target, generated, nil
}
