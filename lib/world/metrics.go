package world

import "github.com/VictoriaMetrics/metrics"

// storageMetrics holds the per instance metrics of a Storage. Each Storage owns
// its own set so several worlds can be opened in one process.
type storageMetrics struct {
	set *metrics.Set

	loadsTiles      *metrics.Counter
	loadsEntities   *metrics.Counter
	generationSteps *metrics.Counter
	unloads         *metrics.Counter
	unloadRefusals  *metrics.Counter
	droppedEntities *metrics.Counter
	commits         *metrics.Counter

	tickDuration *metrics.Histogram
}

func newStorageMetrics(s *Storage) *storageMetrics {
	set := metrics.NewSet()
	m := &storageMetrics{
		set:             set,
		loadsTiles:      set.NewCounter(`sectorkv_sector_loads_total{level="tiles"}`),
		loadsEntities:   set.NewCounter(`sectorkv_sector_loads_total{level="entities"}`),
		generationSteps: set.NewCounter("sectorkv_generation_steps_total"),
		unloads:         set.NewCounter("sectorkv_sector_unloads_total"),
		unloadRefusals:  set.NewCounter("sectorkv_unload_refusals_total"),
		droppedEntities: set.NewCounter("sectorkv_dropped_entities_total"),
		commits:         set.NewCounter("sectorkv_commits_total"),
		tickDuration:    set.NewHistogram("sectorkv_tick_duration_seconds"),
	}

	// gauges are evaluated while the set is written
	set.NewGauge("sectorkv_tracked_sectors", func() float64 { return float64(len(s.metadata)) })
	set.NewGauge("sectorkv_generation_queue_length", func() float64 { return float64(s.queue.len()) })
	set.NewGauge("sectorkv_live_entities", func() float64 { return float64(s.entities.Len()) })
	return m
}
