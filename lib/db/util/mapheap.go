// Package util
//
// This file provides a priority queue with key-based access.
//
// The implementation combines a binary heap with a hash map to provide both
// efficient priority-based operations and key-based access. The world storage
// uses it as its generation queue: sectors are keyed by coordinate and ordered
// by an insertion sequence, so re-queueing a sector moves it to the back
// without scanning the queue.
//
// Time Complexity:
//   - O(log n) for priority operations (Push, Pop, AddItem)
//   - O(1) for key-based lookups and existence checks
//   - O(log n) for key-based removal
//
// Concurrency Considerations:
//   - This implementation is not thread-safe
//   - For concurrent use, external synchronization should be applied
//
// Example usage:
//
//	q := NewMapHeap[string]()
//
//	// Add items with keys and priorities
//	q.AddItem("a", 2)
//	q.AddItem("b", 1)
//
//	// Get the lowest priority item
//	front, exists := q.Peek()
//
//	// Remove a specific item
//	q.RemoveByKey("a")
//
//	// Process items in priority order
//	for q.Len() > 0 {
//	    it, _ := q.PopItem()
//	    // ...
//	}
package util

import (
	"container/heap"
	"fmt"
	"sort"
)

// Item represents an entry of the queue with a key for identification
// and a priority for ordering
type Item[K comparable] struct {
	Key      K      // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap (lowest first)
	index    int    // Index in the heap, maintained by heap package
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap implements a min priority queue with both heap operations and key-based access
type MapHeap[K comparable] struct {
	items    []*Item[K]     // The actual heap slice
	itemsMap map[K]*Item[K] // Map for O(1) access by key
}

// NewMapHeap creates a new, empty queue
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap[K]) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap[K]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap[K]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (mh *MapHeap[K]) Push(x interface{}) {
	n := len(mh.items)
	it := x.(*Item[K])
	it.index = n
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes and returns the last item of the heap slice (part of heap.Interface).
// Use PopItem to remove the minimum item.
func (mh *MapHeap[K]) Pop() interface{} {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds a new item to the queue or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &Item[K]{Key: key, Priority: priority})
}

// PopItem removes and returns the item with the lowest priority
func (mh *MapHeap[K]) PopItem() (*Item[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return heap.Pop(mh).(*Item[K]), true
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// Peek returns the minimum priority item without removing it
func (mh *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	it, exists := mh.itemsMap[key]
	return it, exists
}

// Keys returns all keys in ascending priority order without modifying the queue
func (mh *MapHeap[K]) Keys() []K {
	sorted := make([]*Item[K], len(mh.items))
	copy(sorted, mh.items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	keys := make([]K, len(sorted))
	for i, it := range sorted {
		keys[i] = it.Key
	}
	return keys
}
