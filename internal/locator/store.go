package locator

import (
	"maps"
	"sort"
	"sync/atomic"
)

type mapping struct {
	cell      string
	updatedAt int64
	// owner is the row id the key was written for; a slug key is owned by
	// its organization id.
	owner string
}

// mappingTable is an immutable generation of the store. It is never
// mutated after being published.
type mappingTable struct {
	routes     map[string]mapping
	localities map[string]string
	// slugs maps an organization id to the slug it is currently reachable by.
	slugs      map[string]string
	generation uint64
}

// mappingStore is a single-writer, many-reader identifier→cell map. Readers
// load the current table with one atomic load and never block; the writer
// builds a new table and swaps it in.
type mappingStore struct {
	mode    Mode
	current atomic.Pointer[mappingTable]
}

func newMappingStore(mode Mode) *mappingStore {
	s := &mappingStore{mode: mode}
	s.current.Store(&mappingTable{
		routes:     map[string]mapping{},
		localities: map[string]string{},
		slugs:      map[string]string{},
	})
	return s
}

func (s *mappingStore) Get(id string) (string, bool) {
	m, ok := s.current.Load().routes[id]
	if !ok {
		return "", false
	}
	return m.cell, true
}

func (s *mappingStore) Locality(cell string) (string, bool) {
	loc, ok := s.current.Load().localities[cell]
	return loc, ok
}

func (s *mappingStore) Len() int {
	return len(s.current.Load().routes)
}

func (s *mappingStore) Generation() uint64 {
	return s.current.Load().generation
}

// Apply merges a batch of rows, last write wins by UpdatedAt. Rows are
// applied in UpdatedAt order so the result does not depend on the order the
// control plane returned them in. It returns the max UpdatedAt seen.
//
// A row that deletes an id or renames its slug also drops the slug key the
// id was previously reachable by. A live row without a slug keeps the
// previous one.
//
// Only the sync engine goroutine may call Apply.
func (s *mappingStore) Apply(rows []Row, localities map[string]string) int64 {
	if len(rows) == 0 && len(localities) == 0 {
		return 0
	}
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt < sorted[j].UpdatedAt
	})

	cur := s.current.Load()
	next := &mappingTable{
		routes:     maps.Clone(cur.routes),
		localities: cur.localities,
		slugs:      maps.Clone(cur.slugs),
		generation: cur.generation + 1,
	}
	if len(localities) > 0 {
		next.localities = maps.Clone(cur.localities)
		maps.Copy(next.localities, localities)
	}

	var maxUpdated int64
	for _, r := range sorted {
		maxUpdated = max(maxUpdated, r.UpdatedAt)
		next.apply(s.mode, r)
	}
	s.current.Store(next)
	return maxUpdated
}

func (t *mappingTable) apply(mode Mode, r Row) {
	id := string(r.ID)
	if old, ok := t.routes[id]; ok && r.UpdatedAt != 0 && r.UpdatedAt < old.updatedAt {
		return
	}

	prevSlug := t.slugs[id]
	slug := ""
	if mode == ModeOrganization && !r.Deleted {
		slug = r.Slug
		if slug == "" {
			slug = prevSlug
		}
		if slug == id {
			slug = ""
		}
	}
	if prevSlug != "" && prevSlug != slug {
		if m, ok := t.routes[prevSlug]; ok && m.owner == id {
			delete(t.routes, prevSlug)
		}
		delete(t.slugs, id)
	}

	if r.Deleted {
		delete(t.routes, id)
		return
	}
	m := mapping{cell: r.Cell, updatedAt: r.UpdatedAt, owner: id}
	t.routes[id] = m
	if slug == "" {
		return
	}
	if old, ok := t.routes[slug]; ok && old.owner != id && r.UpdatedAt != 0 && r.UpdatedAt < old.updatedAt {
		return
	}
	t.routes[slug] = m
	t.slugs[id] = slug
}

// Replace swaps in the contents of a backup snapshot.
func (s *mappingStore) Replace(snap Snapshot) {
	routes := make(map[string]mapping, len(snap.Routes))
	for key, cell := range snap.Routes {
		routes[key] = mapping{cell: cell, owner: key}
	}
	slugs := make(map[string]string, len(snap.Slugs))
	for id, slug := range snap.Slugs {
		m, ok := routes[slug]
		if _, idOK := routes[id]; !ok || !idOK {
			continue
		}
		m.owner = id
		routes[slug] = m
		slugs[id] = slug
	}
	localities := maps.Clone(snap.Localities)
	if localities == nil {
		localities = map[string]string{}
	}
	s.current.Store(&mappingTable{
		routes:     routes,
		localities: localities,
		slugs:      slugs,
		generation: s.current.Load().generation + 1,
	})
}

// Snapshot copies the current table for persistence.
func (s *mappingStore) Snapshot(watermark int64) Snapshot {
	cur := s.current.Load()
	routes := make(map[string]string, len(cur.routes))
	for key, m := range cur.routes {
		routes[key] = m.cell
	}
	return Snapshot{
		Version:    snapshotVersion,
		Routes:     routes,
		Slugs:      maps.Clone(cur.slugs),
		Localities: maps.Clone(cur.localities),
		Watermark:  watermark,
	}
}
