package part

import (
	"log/slog"
	"sort"
	"sync"

	"loom/internal/event"
)

// Upsert inserts p into parts at the position its identifier sorts to, or
// replaces the existing part with the same identifier (reconciliation). The
// array stays sorted by identifier after every call. O(log n) search,
// O(n) insert; one message's part count is small and bounded.
func Upsert(parts []*Part, p *Part) []*Part {
	i := sort.Search(len(parts), func(j int) bool {
		return parts[j].ID >= p.ID
	})
	if i < len(parts) && parts[i].ID == p.ID {
		parts[i] = p
		return parts
	}
	parts = append(parts, nil)
	copy(parts[i+1:], parts[i:])
	parts[i] = p
	return parts
}

// Store holds the per-message part arrays and the indexes used to locate
// parts by entity identity. One logical owner applies mutations; the lock
// only guards readers taking snapshots.
type Store struct {
	logger *slog.Logger

	mu            sync.Mutex
	messages      map[string][]*Part
	tools         map[string]*Part // canonical tool call id -> tool part
	groups        map[string]*Part // spawn tool id -> agent group part
	agents        map[string]*Part // agent id -> owning group part
	taskLists     map[string]*Part // message id -> task list part
	statuses      map[string]*Part // message id -> status part
	usage         map[string]event.Usage
	sessionStatus map[string]string
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger,
		messages:      make(map[string][]*Part),
		tools:         make(map[string]*Part),
		groups:        make(map[string]*Part),
		agents:        make(map[string]*Part),
		taskLists:     make(map[string]*Part),
		statuses:      make(map[string]*Part),
		usage:         make(map[string]event.Usage),
		sessionStatus: make(map[string]string),
	}
}

// Reset drops all state. Called at run boundaries when a fresh document is
// wanted; retained messages survive for their own lifetime otherwise.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string][]*Part)
	s.tools = make(map[string]*Part)
	s.groups = make(map[string]*Part)
	s.agents = make(map[string]*Part)
	s.taskLists = make(map[string]*Part)
	s.statuses = make(map[string]*Part)
	s.usage = make(map[string]event.Usage)
	s.sessionStatus = make(map[string]string)
}

// Apply mutates the document with one enriched event. Stale events are
// ignored defensively even though the pipeline drops them first.
func (s *Store) Apply(en event.Enriched) {
	if en.Stale {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := en.Payload.(type) {
	case event.TextDelta:
		if en.SuppressFromMainChat {
			return
		}
		s.appendContent(TypeText, p.MessageID, p.Text, en)
	case event.TextComplete:
		if en.SuppressFromMainChat {
			return
		}
		s.closeContent(TypeText, p.MessageID, p.Text, en)
	case event.ReasoningDelta:
		if en.SuppressFromMainChat {
			return
		}
		s.appendContent(TypeReasoning, p.MessageID, p.Text, en)
	case event.ReasoningComplete:
		if en.SuppressFromMainChat {
			return
		}
		s.closeContent(TypeReasoning, p.MessageID, p.Text, en)
	case event.ToolStart:
		s.applyToolStart(p, en)
	case event.ToolComplete:
		s.applyToolComplete(p, en)
	case event.AgentStart:
		s.applyAgentStart(p, en)
	case event.AgentUpdate:
		s.applyAgentUpdate(p, en)
	case event.AgentComplete:
		s.applyAgentComplete(p)
	case event.SessionStatus:
		s.sessionStatus[en.SessionID] = p.Status
		if p.MessageID != "" {
			s.upsertStatus(p.MessageID, p.Status, en)
		}
	case event.SessionError:
		s.sessionStatus[en.SessionID] = p.Message
		if p.MessageID != "" {
			s.upsertStatus(p.MessageID, p.Message, en)
		}
	case event.Usage:
		s.usage[en.RunID] = p
	default:
		// Lifecycle events carry no document content.
	}
}

func (s *Store) appendContent(t Type, messageID, text string, en event.Enriched) {
	if text == "" {
		return
	}
	parts := s.messages[messageID]
	if n := len(parts); n > 0 {
		last := parts[n-1]
		if last.Type == t && last.Open {
			last.Text += text
			return
		}
	}
	s.insert(messageID, &Part{
		ID:        NewID(en.Timestamp),
		Type:      t,
		MessageID: messageID,
		Text:      text,
		Open:      true,
	})
}

func (s *Store) closeContent(t Type, messageID, authoritative string, en event.Enriched) {
	parts := s.messages[messageID]
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == t && parts[i].Open {
			parts[i].Open = false
			if parts[i].Text == "" && authoritative != "" {
				parts[i].Text = authoritative
			}
			return
		}
	}
	if authoritative != "" {
		s.insert(messageID, &Part{
			ID:        NewID(en.Timestamp),
			Type:      t,
			MessageID: messageID,
			Text:      authoritative,
		})
	}
}

func (s *Store) applyToolStart(p event.ToolStart, en event.Enriched) {
	callID := p.CallID
	if en.ResolvedToolID != "" {
		callID = en.ResolvedToolID
	}

	if en.SubagentTool {
		s.recordSubagentTool(en.ResolvedAgentID, &ToolState{
			CallID: callID,
			Name:   p.Name,
			Status: event.ToolRunning,
			Input:  p.Input,
		})
		return
	}

	// Upgrade a part created under a provisional id: same part, same slot,
	// canonical identity.
	if p.ProvisionalID != "" && p.ProvisionalID != callID {
		if existing, ok := s.tools[p.ProvisionalID]; ok {
			delete(s.tools, p.ProvisionalID)
			existing.Tool.CallID = callID
			s.tools[callID] = existing
		}
	}

	if existing, ok := s.tools[callID]; ok {
		if existing.Tool.Terminal() {
			return
		}
		existing.Tool.Name = p.Name
		if p.Input != nil {
			existing.Tool.Input = p.Input
		}
		existing.Tool.Status = event.ToolRunning
		return
	}

	toolPart := &Part{
		ID:        NewID(en.Timestamp),
		Type:      TypeTool,
		MessageID: p.MessageID,
		Tool: &ToolState{
			CallID: callID,
			Name:   p.Name,
			Status: event.ToolRunning,
			Input:  p.Input,
		},
	}
	s.tools[callID] = toolPart
	s.insert(p.MessageID, toolPart)
}

func (s *Store) applyToolComplete(p event.ToolComplete, en event.Enriched) {
	callID := p.CallID
	if en.ResolvedToolID != "" {
		callID = en.ResolvedToolID
	}

	if en.SubagentTool {
		s.completeSubagentTool(en.ResolvedAgentID, callID, p)
		return
	}

	toolPart, ok := s.tools[callID]
	if !ok {
		// Completion before any start was observed. Surface it anyway.
		toolPart = &Part{
			ID:        NewID(en.Timestamp),
			Type:      TypeTool,
			MessageID: p.MessageID,
			Tool:      &ToolState{CallID: callID},
		}
		s.tools[callID] = toolPart
		s.insert(p.MessageID, toolPart)
	}
	if toolPart.Tool.Terminal() {
		return
	}
	toolPart.Tool.Status = p.Status
	toolPart.Tool.Output = p.Output
	toolPart.Tool.ErrorMessage = p.ErrorMessage
	if q := toolPart.Tool.Question; q != nil && !q.Resolved {
		q.Resolved = true
	}
}

func (s *Store) applyAgentStart(p event.AgentStart, en event.Enriched) {
	spawn := p.ParentToolID
	if en.ResolvedToolID != "" {
		spawn = en.ResolvedToolID
	}
	if spawn == "" {
		spawn = p.MessageID
	}

	group, ok := s.groups[spawn]
	if !ok {
		group = &Part{
			ID:          NewID(en.Timestamp),
			Type:        TypeAgentGroup,
			MessageID:   p.MessageID,
			SpawnToolID: spawn,
		}
		s.groups[spawn] = group
		s.insert(p.MessageID, group)
	}

	if track := group.Track(p.AgentID); track != nil {
		if !track.Terminal() {
			track.Status = event.AgentRunning
			track.Background = track.Background || p.Background
		}
	} else {
		group.Agents = append(group.Agents, &AgentTrack{
			AgentID:    p.AgentID,
			Status:     event.AgentRunning,
			Task:       p.Task,
			Background: p.Background,
		})
	}
	s.agents[p.AgentID] = group
}

func (s *Store) applyAgentUpdate(p event.AgentUpdate, en event.Enriched) {
	group, ok := s.agents[p.AgentID]
	if !ok {
		s.logger.Debug("agent update for untracked agent", "agent_id", p.AgentID)
		return
	}
	track := group.Track(p.AgentID)
	if track == nil || track.Terminal() {
		return
	}
	track.Status = p.Status
	if p.Note != "" {
		track.Note = p.Note
	}
	if p.Tasks != nil {
		s.upsertTaskList(group.MessageID, p.Tasks, en)
	}
}

func (s *Store) applyAgentComplete(p event.AgentComplete) {
	group, ok := s.agents[p.AgentID]
	if !ok {
		s.logger.Debug("agent complete for untracked agent", "agent_id", p.AgentID)
		return
	}
	track := group.Track(p.AgentID)
	if track == nil || track.Terminal() {
		return
	}
	track.Status = p.Status
	track.Result = p.Result
	if p.ErrorMessage != "" {
		track.Note = p.ErrorMessage
	}
}

func (s *Store) recordSubagentTool(agentID string, state *ToolState) {
	group, ok := s.agents[agentID]
	if !ok {
		s.logger.Debug("sub-agent tool for untracked agent", "agent_id", agentID)
		return
	}
	track := group.Track(agentID)
	if track == nil {
		return
	}
	for i, existing := range track.Tools {
		if existing.CallID == state.CallID {
			if existing.Terminal() {
				return
			}
			track.Tools[i] = state
			return
		}
	}
	track.Tools = append(track.Tools, state)
}

func (s *Store) completeSubagentTool(agentID, callID string, p event.ToolComplete) {
	group, ok := s.agents[agentID]
	if !ok {
		return
	}
	track := group.Track(agentID)
	if track == nil {
		return
	}
	for _, state := range track.Tools {
		if state.CallID != callID {
			continue
		}
		if state.Terminal() {
			return
		}
		state.Status = p.Status
		state.Output = p.Output
		state.ErrorMessage = p.ErrorMessage
		return
	}
	track.Tools = append(track.Tools, &ToolState{
		CallID:       callID,
		Status:       p.Status,
		Output:       p.Output,
		ErrorMessage: p.ErrorMessage,
	})
}

func (s *Store) upsertTaskList(messageID string, tasks []event.TaskItem, en event.Enriched) {
	listPart, ok := s.taskLists[messageID]
	if !ok {
		listPart = &Part{
			ID:        NewID(en.Timestamp),
			Type:      TypeTaskList,
			MessageID: messageID,
		}
		s.taskLists[messageID] = listPart
		s.insert(messageID, listPart)
	}
	listPart.Tasks = append([]event.TaskItem(nil), tasks...)
}

func (s *Store) upsertStatus(messageID, status string, en event.Enriched) {
	statusPart, ok := s.statuses[messageID]
	if !ok {
		statusPart = &Part{
			ID:        NewID(en.Timestamp),
			Type:      TypeStatus,
			MessageID: messageID,
		}
		s.statuses[messageID] = statusPart
		s.insert(messageID, statusPart)
	}
	statusPart.Status = status
}

// insert places a new part and closes any content part that is no longer
// last, so a tool call interrupting streaming text yields two correctly
// ordered text parts.
func (s *Store) insert(messageID string, p *Part) {
	parts := s.messages[messageID]
	if n := len(parts); n > 0 {
		last := parts[n-1]
		if (last.Type == TypeText || last.Type == TypeReasoning) && last.Open {
			last.Open = false
		}
	}
	s.messages[messageID] = Upsert(parts, p)
}

// AttachQuestion attaches (or replaces) the interactive question overlay on
// a running tool part.
func (s *Store) AttachQuestion(callID string, q Question) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	toolPart, ok := s.tools[callID]
	if !ok || toolPart.Tool.Terminal() {
		return false
	}
	toolPart.Tool.Question = &q
	return true
}

// Parts returns a deep copy of the sorted part array for one message.
func (s *Store) Parts(messageID string) []*Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.messages[messageID]
	out := make([]*Part, len(parts))
	for i, p := range parts {
		out[i] = clonePart(p)
	}
	return out
}

// Usage returns the latest usage snapshot recorded for a run.
func (s *Store) Usage(runID string) event.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[runID]
}

// SessionStatus returns the latest auxiliary status for a session.
func (s *Store) SessionStatus(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionStatus[sessionID]
}

func clonePart(p *Part) *Part {
	cp := *p
	if p.Tool != nil {
		cp.Tool = cloneToolState(p.Tool)
	}
	if p.Agents != nil {
		cp.Agents = make([]*AgentTrack, len(p.Agents))
		for i, tr := range p.Agents {
			trCopy := *tr
			if tr.Tools != nil {
				trCopy.Tools = make([]*ToolState, len(tr.Tools))
				for j, ts := range tr.Tools {
					trCopy.Tools[j] = cloneToolState(ts)
				}
			}
			cp.Agents[i] = &trCopy
		}
	}
	if p.Tasks != nil {
		cp.Tasks = append([]event.TaskItem(nil), p.Tasks...)
	}
	return &cp
}

func cloneToolState(ts *ToolState) *ToolState {
	cp := *ts
	if ts.Question != nil {
		q := *ts.Question
		cp.Question = &q
	}
	return &cp
}
