package ledger

import "container/list"

// deltaLRU remembers recently applied delta ids so a replayed BalanceDelta is
// never credited twice. Not thread-safe; guarded by the ledger mutex.
type deltaLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func newDeltaLRU(capacity int) *deltaLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &deltaLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if id exists (promotes to front).
func (lru *deltaLRU) Contains(id string) bool {
	elem, exists := lru.cache[id]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts an id (or promotes it if present).
func (lru *deltaLRU) Add(id string) {
	if elem, exists := lru.cache[id]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(id)
	lru.cache[id] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *deltaLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// Warm loads ids oldest first, so the newest end up most recently used.
func (lru *deltaLRU) Warm(ids []string) {
	for _, id := range ids {
		lru.Add(id)
	}
}

// Reset forgets every id. Called on user switch.
func (lru *deltaLRU) Reset() {
	lru.cache = make(map[string]*list.Element, lru.capacity)
	lru.lruList.Init()
}

func (lru *deltaLRU) Size() int {
	return lru.lruList.Len()
}

// takeEvictions returns evictions since the last call.
func (lru *deltaLRU) takeEvictions() int64 {
	n := lru.evictions
	lru.evictions = 0
	return n
}
