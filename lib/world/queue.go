package world

import (
	"sort"

	"github.com/ValentinKolb/sectorkv/lib/db/util"
)

// generationQueue is the worklist of sectors waiting for background generation.
// Entries are ordered by insertion, re-queueing moves an entry to the back.
// Every entry carries a TTL and is dropped when it runs out.
type generationQueue struct {
	order *util.MapHeap[Sector]
	ttl   map[Sector]float64
	seq   uint64
}

func newGenerationQueue() *generationQueue {
	return &generationQueue{
		order: util.NewMapHeap[Sector](),
		ttl:   make(map[Sector]float64),
	}
}

// push inserts the sector at the back of the queue with a fresh TTL
func (q *generationQueue) push(sector Sector, ttl float64) {
	q.seq++
	q.order.AddItem(sector, q.seq)
	q.ttl[sector] = ttl
}

func (q *generationQueue) remove(sector Sector) {
	q.order.RemoveByKey(sector)
	delete(q.ttl, sector)
}

func (q *generationQueue) front() (Sector, bool) {
	it, ok := q.order.Peek()
	if !ok {
		return Sector{}, false
	}
	return it.Key, true
}

func (q *generationQueue) len() int { return q.order.Len() }

func (q *generationQueue) contains(sector Sector) bool { return q.order.Contains(sector) }

// sectors returns the queue content from front to back
func (q *generationQueue) sectors() []Sector { return q.order.Keys() }

// age reduces every TTL by dt and drops the entries that ran out
func (q *generationQueue) age(dt float64) {
	for _, sector := range q.sectors() {
		q.ttl[sector] -= dt
		if q.ttl[sector] <= 0 {
			q.remove(sector)
		}
	}
}

// reorder sorts the queue with less. Entries that compare equal keep their order.
func (q *generationQueue) reorder(less func(a, b Sector) bool) {
	sectors := q.sectors()
	sort.SliceStable(sectors, func(i, j int) bool { return less(sectors[i], sectors[j]) })
	for _, sector := range sectors {
		q.seq++
		q.order.AddItem(sector, q.seq)
	}
}
