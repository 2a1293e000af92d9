package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// CursorEntry is the last known cursor of one user in one workspace.
type CursorEntry struct {
	Username  string
	Position  json.RawMessage
	Timestamp time.Time
}

// Presence tracks cursor positions per workspace and user.
type Presence struct {
	mu         sync.Mutex
	workspaces map[string]map[string]CursorEntry
	now        func() time.Time
}

// NewPresence returns an empty tracker. A nil clock uses time.Now.
func NewPresence(now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		workspaces: make(map[string]map[string]CursorEntry),
		now:        now,
	}
}

// UpdateCursor stores the position for the user, replacing any previous entry.
func (p *Presence) UpdateCursor(workspaceID, userID, username string, position json.RawMessage) CursorEntry {
	if len(position) == 0 {
		position = emptyPosition
	}
	entry := CursorEntry{
		Username:  username,
		Position:  append(json.RawMessage(nil), position...),
		Timestamp: p.now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cursors, ok := p.workspaces[workspaceID]
	if !ok {
		cursors = make(map[string]CursorEntry)
		p.workspaces[workspaceID] = cursors
	}
	cursors[userID] = entry
	return entry
}

// Snapshot returns a copy of the workspace's cursors keyed by user id.
func (p *Presence) Snapshot(workspaceID string) map[string]CursorEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	cursors := p.workspaces[workspaceID]
	out := make(map[string]CursorEntry, len(cursors))
	for userID, entry := range cursors {
		out[userID] = entry
	}
	return out
}

// Remove drops the user's cursor and the workspace once it has none left.
func (p *Presence) Remove(workspaceID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cursors, ok := p.workspaces[workspaceID]
	if !ok {
		return
	}
	delete(cursors, userID)
	if len(cursors) == 0 {
		delete(p.workspaces, workspaceID)
	}
}

// Drop forgets every cursor in the workspace.
func (p *Presence) Drop(workspaceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workspaces, workspaceID)
}

// Len returns the number of cursors tracked for the workspace.
func (p *Presence) Len(workspaceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workspaces[workspaceID])
}

// Workspaces reports how many workspaces hold at least one cursor.
func (p *Presence) Workspaces() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workspaces)
}
