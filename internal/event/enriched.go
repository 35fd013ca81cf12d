package event

// Enriched is an event after correlation: provisional identifiers resolved,
// sub-agent ownership tagged, staleness decided. Enriched values are derived
// and short-lived; they are discarded once applied to the part store.
type Enriched struct {
	Event

	// ResolvedToolID is the canonical tool-call identifier, when the event
	// references one. Equal to the payload's id unless an alias was upgraded.
	ResolvedToolID string

	// ResolvedAgentID names the agent the event belongs to. Empty means the
	// top-level session.
	ResolvedAgentID string

	// SubagentTool marks tool events owned by a tracked sub-agent rather
	// than the top-level session.
	SubagentTool bool

	// SuppressFromMainChat excludes the event from top-level rendering; it
	// is still recorded under the owning agent.
	SuppressFromMainChat bool

	// Stale marks events from a cancelled or superseded run. Stale events
	// are delivered nowhere; they are counted and dropped.
	Stale bool
}
