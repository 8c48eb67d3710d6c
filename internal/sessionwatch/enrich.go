// ABOUTME: Enrichment-only merge of session observations into existing agents.
// ABOUTME: Field-level fill-if-absent rules; this path never creates records.

package sessionwatch

import (
	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// Enrich merges an observation into a matching existing agent and reports
// whether anything was updated. Matching runs in two passes over the whole
// registry: an agent carrying the observation's session identifier always
// wins; the exact working-directory rule applies only when no agent anywhere
// holds that session, and only to candidates with no session metadata yet,
// so a correctly matched agent is never overwritten by a neighbor sharing
// its directory.
//
// The filesystem signal is too ambiguous to be trusted for identity, so an
// observation with no match is discarded.
func Enrich(reg *registry.Registry, obs Observation) bool {
	agents := reg.Snapshot()

	id := ""
	for _, a := range agents {
		if a.Session != nil && a.Session.SessionID == obs.SessionID {
			id = a.ID
			break
		}
	}
	if id == "" {
		for _, a := range agents {
			if obs.WorkingDirectory != "" && a.WorkingDirectory == obs.WorkingDirectory && a.Session == nil {
				id = a.ID
				break
			}
		}
	}
	if id == "" {
		return false
	}
	return reg.Mutate(id, func(a *registry.Agent) {
		merge(a, obs)
	})
}

// merge applies the per-field rules: session metadata fills in only when
// absent, the display name upgrades only on first enrichment, and
// lastActivity is last-write-wins.
func merge(a *registry.Agent, obs Observation) {
	firstEnrichment := a.Session == nil
	if firstEnrichment {
		a.Session = &registry.SessionMeta{}
	}
	if a.Session.SessionID == "" {
		a.Session.SessionID = obs.SessionID
	}
	if a.Session.GitBranch == "" && obs.GitBranch != "" {
		a.Session.GitBranch = obs.GitBranch
	}
	if a.Session.Model == "" && obs.Model != "" {
		a.Session.Model = obs.Model
	}
	if firstEnrichment && obs.DerivedName != "" {
		a.Name = obs.DerivedName
	}
	if !obs.LastActivity.IsZero() {
		a.LastActivity = obs.LastActivity
	}
}
