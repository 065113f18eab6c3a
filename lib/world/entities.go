package world

import "sort"

// EntityMap holds all live entities of a world.
//
// Thread-safety: not thread-safe, owned by a single Storage.
type EntityMap struct {
	entities map[EntityID]Entity
	uniques  map[string]EntityID
	nextID   EntityID
}

// NewEntityMap creates an empty entity map
func NewEntityMap() *EntityMap {
	return &EntityMap{
		entities: make(map[EntityID]Entity),
		uniques:  make(map[string]EntityID),
		nextID:   NullEntityID + 1,
	}
}

// ReserveID returns a fresh, never used entity id
func (m *EntityMap) ReserveID() EntityID {
	id := m.nextID
	m.nextID++
	return id
}

// Add inserts an entity under id, replacing whatever was stored under it
func (m *EntityMap) Add(id EntityID, e Entity) {
	if old, ok := m.entities[id]; ok {
		m.dropUnique(id, old)
	}
	m.entities[id] = e
	if uid := e.UniqueID(); uid != "" {
		m.uniques[uid] = id
	}
	if id >= m.nextID {
		m.nextID = id + 1
	}
}

// Remove deletes an entity and returns it
func (m *EntityMap) Remove(id EntityID) (Entity, bool) {
	e, ok := m.entities[id]
	if !ok {
		return nil, false
	}
	delete(m.entities, id)
	m.dropUnique(id, e)
	return e, true
}

func (m *EntityMap) dropUnique(id EntityID, e Entity) {
	if uid := e.UniqueID(); uid != "" && m.uniques[uid] == id {
		delete(m.uniques, uid)
	}
}

// Get returns the entity with the id
func (m *EntityMap) Get(id EntityID) (Entity, bool) {
	e, ok := m.entities[id]
	return e, ok
}

// FindUnique returns the live entity with the given unique id
func (m *EntityMap) FindUnique(uniqueID string) (EntityID, Entity, bool) {
	id, ok := m.uniques[uniqueID]
	if !ok {
		return NullEntityID, nil, false
	}
	return id, m.entities[id], true
}

// Query returns the ids of all entities whose bound box intersects region or whose
// position lies inside it, in ascending id order.
func (m *EntityMap) Query(region RectF) []EntityID {
	var ids []EntityID
	for id, e := range m.entities {
		if region.Intersects(e.BoundBox()) || region.Contains(e.Position()) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IDs returns all entity ids in ascending order
func (m *EntityMap) IDs() []EntityID {
	ids := make([]EntityID, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live entities
func (m *EntityMap) Len() int { return len(m.entities) }
