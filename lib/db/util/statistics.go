package util

import (
	"math"
	"sync"
)

// --------------------------------------------------------------------------
// Shard balance
// --------------------------------------------------------------------------

// DistributionStats describes how evenly entries are spread over shards.
// Quality is 1 for a perfectly even spread and approaches 0 when one shard
// holds everything.
type DistributionStats struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	StdDeviation float64 `json:"std_deviation"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
	Quality      float64 `json:"distribution_quality"`
}

// NewDistributionStats summarizes the entry count of every shard
func NewDistributionStats(shardSizes []float64) DistributionStats {
	if len(shardSizes) == 0 {
		return DistributionStats{}
	}

	d := DistributionStats{Min: shardSizes[0], Max: shardSizes[0]}
	for _, v := range shardSizes {
		d.Mean += v
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	d.Mean /= float64(len(shardSizes))

	var variance float64
	for _, v := range shardSizes {
		variance += (v - d.Mean) * (v - d.Mean)
	}
	d.StdDeviation = math.Sqrt(variance / float64(len(shardSizes)))

	d.MinMaxRatio = 1
	if d.Max > 0 {
		d.MinMaxRatio = d.Min / d.Max
	}
	var cv float64
	if d.Mean > 0 {
		cv = d.StdDeviation / d.Mean
	}
	d.Quality = (1-math.Min(1, cv))/2 + d.MinMaxRatio/2
	return d
}

// --------------------------------------------------------------------------
// Entry sizes
// --------------------------------------------------------------------------

// sizeBuckets is the number of bounded buckets, bucket i holds sizes up to
// 16 * 4^i bytes (16 B to 4 GiB). One more bucket takes everything larger.
const sizeBuckets = 15

func bucketBound(i int) int64 { return 16 << (2 * i) }

// SizeHistogram collects entry sizes in exponential buckets. The engine feeds it
// a sample of every shard and extrapolates the total size from it.
//
// Thread-safety: AddSample may be called concurrently.
type SizeHistogram struct {
	mu      sync.Mutex
	buckets [sizeBuckets + 1]int64
	count   int64
	total   int64
}

func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample records an entry of size bytes
func (h *SizeHistogram) AddSample(size int) {
	i := 0
	for i < sizeBuckets && int64(size) > bucketBound(i) {
		i++
	}
	h.mu.Lock()
	h.buckets[i]++
	h.count++
	h.total += int64(size)
	h.mu.Unlock()
}

// AverageSize returns the mean sampled size, 0 without samples
func (h *SizeHistogram) AverageSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return int(h.total / h.count)
}

// MedianEstimate returns the middle of the bucket holding the median sample,
// 0 without samples
func (h *SizeHistogram) MedianEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}

	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen < h.count/2 {
			continue
		}
		switch {
		case i == 0:
			return int(bucketBound(0) / 2)
		case i == sizeBuckets:
			return int(bucketBound(sizeBuckets-1) * 2)
		default:
			return int((bucketBound(i-1) + bucketBound(i)) / 2)
		}
	}
	return int(h.total / h.count)
}
