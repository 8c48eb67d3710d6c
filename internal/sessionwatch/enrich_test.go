// ABOUTME: Tests for enrichment-only matching and field-level merge rules.
// ABOUTME: Verifies observations never create agents and never clobber set fields.

package sessionwatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

func TestEnrichNeverCreates(t *testing.T) {
	reg := registry.New(nil)
	for i := 0; i < 20; i++ {
		obs := Observation{
			SessionID:        fmt.Sprintf("sess-%d", i),
			WorkingDirectory: fmt.Sprintf("/repo/%d", i),
			DerivedName:      "ghost",
		}
		assert.False(t, Enrich(reg, obs))
	}
	assert.Zero(t, reg.Count())
}

func TestEnrichMatchesByWorkingDirectory(t *testing.T) {
	reg := registry.New(nil)
	a := reg.Create(registry.Agent{ID: "501", WorkingDirectory: "/repo/app", PID: 501})
	reg.Upsert("scan-501", a)

	last := time.Date(2026, 8, 30, 11, 59, 0, 0, time.UTC)
	ok := Enrich(reg, Observation{
		SessionID:        "sess-1",
		WorkingDirectory: "/repo/app",
		GitBranch:        "main",
		Model:            "2.1.0",
		DerivedName:      "fix-parser",
		LastActivity:     last,
	})
	require.True(t, ok)

	got, _, _ := reg.FindByID("501")
	require.NotNil(t, got.Session)
	assert.Equal(t, "sess-1", got.Session.SessionID)
	assert.Equal(t, "main", got.Session.GitBranch)
	assert.Equal(t, "2.1.0", got.Session.Model)
	assert.Equal(t, "fix-parser", got.Name)
	assert.Equal(t, last, got.LastActivity)
}

func TestEnrichPrefersSessionIDMatch(t *testing.T) {
	// Map iteration order varies per registry, so the decision must hold
	// across many fresh registries with the candidates inserted both ways.
	for i := 0; i < 100; i++ {
		reg := registry.New(nil)
		matched := reg.Create(registry.Agent{ID: "a1", WorkingDirectory: "/elsewhere"})
		matched.Session = &registry.SessionMeta{SessionID: "sess-1"}
		byDir := reg.Create(registry.Agent{ID: "a2", WorkingDirectory: "/repo/app"})
		if i%2 == 0 {
			reg.Upsert("k1", matched)
			reg.Upsert("k2", byDir)
		} else {
			reg.Upsert("k2", byDir)
			reg.Upsert("k1", matched)
		}

		ok := Enrich(reg, Observation{
			SessionID:        "sess-1",
			WorkingDirectory: "/repo/app",
			GitBranch:        "main",
		})
		require.True(t, ok)

		a1, _, _ := reg.FindByID("a1")
		require.Equal(t, "main", a1.Session.GitBranch)
		a2, _, _ := reg.FindByID("a2")
		require.Nil(t, a2.Session, "directory candidate must be untouched when a session-id match exists")
	}
}

func TestEnrichDirectoryMatchSkipsAlreadyBoundAgents(t *testing.T) {
	reg := registry.New(nil)
	bound := reg.Create(registry.Agent{ID: "a1", WorkingDirectory: "/repo/app"})
	bound.Session = &registry.SessionMeta{SessionID: "sess-other"}
	reg.Upsert("k1", bound)

	// A different session sharing the directory must not overwrite the
	// correctly matched agent.
	ok := Enrich(reg, Observation{SessionID: "sess-new", WorkingDirectory: "/repo/app"})
	assert.False(t, ok)

	a, _, _ := reg.FindByID("a1")
	assert.Equal(t, "sess-other", a.Session.SessionID)
}

func TestEnrichFillsOnlyMissingFields(t *testing.T) {
	reg := registry.New(nil)
	a := reg.Create(registry.Agent{ID: "a1", Name: "app", WorkingDirectory: "/repo/app"})
	a.Session = &registry.SessionMeta{SessionID: "sess-1", GitBranch: "release"}
	reg.Upsert("k1", a)

	ok := Enrich(reg, Observation{
		SessionID:   "sess-1",
		GitBranch:   "main",
		Model:       "2.1.0",
		DerivedName: "other-name",
	})
	require.True(t, ok)

	got, _, _ := reg.FindByID("a1")
	assert.Equal(t, "release", got.Session.GitBranch, "set fields are never clobbered")
	assert.Equal(t, "2.1.0", got.Session.Model, "missing fields fill in")
	assert.Equal(t, "app", got.Name, "name only upgrades on first enrichment")
}
