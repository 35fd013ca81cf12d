// Package correlate resolves provisional identifiers to final tool/agent
// ownership, tags events owned by nested sub-agents, and discards events
// that belong to a cancelled or superseded run.
package correlate

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"loom/internal/event"
)

const retiredRunCacheSize = 128

// Correlator owns the only persistent shared state in the pipeline: the
// active-run marker and the per-run correlation maps. All mutation happens
// inside RegisterRun, Enrich, and Reset.
type Correlator struct {
	logger *slog.Logger

	mu            sync.Mutex
	activeRun     string
	activeSession string
	alias         map[string]string // provisional id -> canonical id, first-seen-wins
	owners        map[string]string // tool call id -> owning agent id ("" = top level)
	subagents     map[string]struct{}
	subagentTools map[string]struct{}
	retired       *lru.Cache[string, struct{}] // runs superseded or reset, bounded
}

// New creates a correlator with no active run; every event is stale until
// RegisterRun is called.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	retired, _ := lru.New[string, struct{}](retiredRunCacheSize)
	c := &Correlator{
		logger:  logger,
		retired: retired,
	}
	c.clearLocked()
	return c
}

// RegisterRun declares the active run. A previously active run is retired:
// its events are enriched but dropped from then on.
func (c *Correlator) RegisterRun(runID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRun != "" && c.activeRun != runID {
		c.retired.Add(c.activeRun, struct{}{})
	}
	c.activeRun = runID
	c.activeSession = sessionID
	c.clearLocked()
}

// Reset clears all correlation state at run termination. Until the next
// RegisterRun, every event is stale.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRun != "" {
		c.retired.Add(c.activeRun, struct{}{})
	}
	c.activeRun = ""
	c.activeSession = ""
	c.clearLocked()
}

func (c *Correlator) clearLocked() {
	c.alias = make(map[string]string)
	c.owners = make(map[string]string)
	c.subagents = make(map[string]struct{})
	c.subagentTools = make(map[string]struct{})
}

// ActiveRun returns the current active run id, empty when none.
func (c *Correlator) ActiveRun() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRun
}

// Enrich resolves identifiers and ownership for one event. Events tagged
// with any run other than the active one come back with Stale set; they are
// never applied downstream. Attribution is first-seen-wins: once a tool or
// alias is recorded, later conflicting information does not re-tag it.
func (c *Correlator) Enrich(ev event.Event) event.Enriched {
	c.mu.Lock()
	defer c.mu.Unlock()

	en := event.Enriched{Event: ev}
	if ev.RunID != c.activeRun || c.activeRun == "" {
		en.Stale = true
		if c.retired.Contains(ev.RunID) {
			c.logger.Debug("dropping event from retired run",
				"kind", ev.Kind, "run_id", ev.RunID)
		} else {
			c.logger.Debug("dropping event from unknown run",
				"kind", ev.Kind, "run_id", ev.RunID)
		}
		return en
	}

	switch p := ev.Payload.(type) {
	case event.AgentStart:
		c.enrichAgentStart(&en, p)
	case event.AgentUpdate:
		en.ResolvedAgentID = c.canonical(p.AgentID)
	case event.AgentComplete:
		en.ResolvedAgentID = c.canonical(p.AgentID)
	case event.ToolStart:
		c.enrichToolStart(&en, p)
	case event.ToolComplete:
		en.ResolvedToolID = c.canonical(p.CallID)
		en.ResolvedAgentID = c.owners[en.ResolvedToolID]
		if _, nested := c.subagentTools[en.ResolvedToolID]; nested {
			en.SubagentTool = true
			en.SuppressFromMainChat = true
		}
	}
	return en
}

func (c *Correlator) enrichAgentStart(en *event.Enriched, p event.AgentStart) {
	if p.ProvisionalID != "" && p.ProvisionalID != p.AgentID {
		// First-seen-wins: an alias already recorded is authoritative.
		if _, exists := c.alias[p.ProvisionalID]; !exists {
			c.alias[p.ProvisionalID] = p.AgentID
		}
	}
	c.subagents[p.AgentID] = struct{}{}
	en.ResolvedAgentID = p.AgentID
	if p.ParentToolID != "" {
		en.ResolvedToolID = c.canonical(p.ParentToolID)
	}
}

func (c *Correlator) enrichToolStart(en *event.Enriched, p event.ToolStart) {
	if p.ProvisionalID != "" && p.ProvisionalID != p.CallID {
		if _, exists := c.alias[p.ProvisionalID]; !exists {
			c.alias[p.ProvisionalID] = p.CallID
		}
	}
	callID := c.canonical(p.CallID)
	en.ResolvedToolID = callID

	owner := c.canonical(p.OwnerID)
	if recorded, seen := c.owners[callID]; seen {
		// First-seen attribution is authoritative.
		owner = recorded
	} else {
		c.owners[callID] = owner
	}
	en.ResolvedAgentID = owner

	if _, tracked := c.subagents[owner]; tracked && owner != "" {
		c.subagentTools[callID] = struct{}{}
		en.SubagentTool = true
		en.SuppressFromMainChat = true
	}
}

// canonical follows the alias map one hop; aliases never chain because a
// provisional id maps straight to its final form.
func (c *Correlator) canonical(id string) string {
	if id == "" {
		return ""
	}
	if final, ok := c.alias[id]; ok {
		return final
	}
	return id
}
