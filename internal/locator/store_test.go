package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingStoreLastWriteWins(t *testing.T) {
	updates := []Row{
		{ID: "1", Cell: "us1", UpdatedAt: 10},
		{ID: "1", Cell: "us2", UpdatedAt: 30},
		{ID: "1", Cell: "us3", UpdatedAt: 20},
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		batch := make([]Row, 0, len(order))
		for _, i := range order {
			batch = append(batch, updates[i])
		}
		s := newMappingStore(ModeProjectKey)
		max := s.Apply(batch, nil)

		cell, ok := s.Get("1")
		require.True(t, ok)
		assert.Equal(t, "us2", cell, "order %v", order)
		assert.EqualValues(t, 30, max)
	}
}

func TestMappingStoreIgnoresOlderBatches(t *testing.T) {
	s := newMappingStore(ModeProjectKey)
	s.Apply([]Row{{ID: "1", Cell: "us2", UpdatedAt: 30}}, nil)
	s.Apply([]Row{{ID: "1", Cell: "us1", UpdatedAt: 10}}, nil)

	cell, _ := s.Get("1")
	assert.Equal(t, "us2", cell)
}

func TestMappingStoreDeleteAndSlug(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 1}}, map[string]string{"us1": "us"})

	cell, ok := s.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "us1", cell)
	loc, ok := s.Locality("us1")
	require.True(t, ok)
	assert.Equal(t, "us", loc)

	gen := s.Generation()
	s.Apply([]Row{{ID: "1", Slug: "acme", Deleted: true, UpdatedAt: 2}}, nil)
	assert.Greater(t, s.Generation(), gen)
	_, ok = s.Get("1")
	assert.False(t, ok)
	_, ok = s.Get("acme")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestMappingStoreProjectKeyIgnoresSlug(t *testing.T) {
	s := newMappingStore(ModeProjectKey)
	s.Apply([]Row{{ID: "abc", Slug: "ignored", Cell: "us1"}}, nil)
	_, ok := s.Get("ignored")
	assert.False(t, ok)
}

func TestMappingStoreEmptyApplyKeepsGeneration(t *testing.T) {
	s := newMappingStore(ModeProjectKey)
	gen := s.Generation()
	assert.Zero(t, s.Apply(nil, nil))
	assert.Equal(t, gen, s.Generation())
}

func TestMappingStoreSnapshotReplace(t *testing.T) {
	s := newMappingStore(ModeProjectKey)
	s.Apply([]Row{{ID: "1", Cell: "us1", UpdatedAt: 5}}, map[string]string{"us1": "us"})
	snap := s.Snapshot(5)
	assert.Equal(t, map[string]string{"1": "us1"}, snap.Routes)
	assert.Equal(t, snapshotVersion, snap.Version)

	other := newMappingStore(ModeProjectKey)
	other.Apply([]Row{{ID: "2", Cell: "us2"}}, nil)
	other.Replace(snap)
	_, ok := other.Get("2")
	assert.False(t, ok)
	cell, _ := other.Get("1")
	assert.Equal(t, "us1", cell)

	// restored entries carry no timestamp, so any later update wins
	other.Apply([]Row{{ID: "1", Cell: "us3", UpdatedAt: 1}}, nil)
	cell, _ = other.Get("1")
	assert.Equal(t, "us3", cell)
}

func TestMappingStoreDeleteWithoutSlugDropsSlugKey(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 100}}, nil)
	s.Apply([]Row{{ID: "1", Deleted: true, UpdatedAt: 200}}, nil)

	_, ok := s.Get("1")
	assert.False(t, ok)
	_, ok = s.Get("acme")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestMappingStoreSlugRename(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 100}}, nil)
	s.Apply([]Row{{ID: "1", Slug: "acme-renamed", Cell: "de1", UpdatedAt: 200}}, nil)

	_, ok := s.Get("acme")
	assert.False(t, ok, "old slug must not point at the old cell")
	for _, key := range []string{"1", "acme-renamed"} {
		cell, ok := s.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, "de1", cell, key)
	}
	assert.Equal(t, 2, s.Len())
}

func TestMappingStoreRowWithoutSlugKeepsSlug(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 100}}, nil)
	s.Apply([]Row{{ID: "1", Cell: "de1", UpdatedAt: 200}}, nil)

	cell, ok := s.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "de1", cell)
}

func TestMappingStoreSlugTakenOverByAnotherOrg(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{
		{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 100},
		{ID: "2", Slug: "acme", Cell: "de1", UpdatedAt: 150},
	}, nil)
	// org 1 moving away from the slug must not drop org 2's claim on it
	s.Apply([]Row{{ID: "1", Slug: "acme-old", Cell: "us1", UpdatedAt: 200}}, nil)

	cell, ok := s.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "de1", cell)
	cell, _ = s.Get("acme-old")
	assert.Equal(t, "us1", cell)
}

func TestMappingStoreSlugIndexSurvivesRestore(t *testing.T) {
	s := newMappingStore(ModeOrganization)
	s.Apply([]Row{{ID: "1", Slug: "acme", Cell: "us1", UpdatedAt: 100}}, nil)
	snap := s.Snapshot(100)
	assert.Equal(t, map[string]string{"1": "acme"}, snap.Slugs)

	restored := newMappingStore(ModeOrganization)
	restored.Replace(snap)
	restored.Apply([]Row{{ID: "1", Slug: "acme-renamed", Cell: "de1", UpdatedAt: 200}}, nil)

	_, ok := restored.Get("acme")
	assert.False(t, ok)
	cell, _ := restored.Get("acme-renamed")
	assert.Equal(t, "de1", cell)
}
