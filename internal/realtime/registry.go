// Package realtime tracks live collaboration sessions per workspace and relays
// presence, cursor and chat events between them.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Conn is the outbound half of a client session.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Stream is a full client session as seen by the gateway.
type Stream interface {
	Conn
	Receive(ctx context.Context) ([]byte, error)
}

// Member describes a registered connection.
type Member struct {
	Conn        Conn
	WorkspaceID string
	UserID      string
	Username    string
	ConnectedAt time.Time
}

// Registry tracks live connections grouped by workspace. A workspace exists
// only while it has at least one member.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]map[string]Member
	conns      map[string]string
	presence   *Presence
	now        func() time.Time
}

// NewRegistry returns an empty registry. A nil presence tracker gets a private
// one; a nil clock uses time.Now.
func NewRegistry(presence *Presence, now func() time.Time) *Registry {
	if presence == nil {
		presence = NewPresence(now)
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		workspaces: make(map[string]map[string]Member),
		conns:      make(map[string]string),
		presence:   presence,
		now:        now,
	}
}

// Presence returns the cursor tracker cleared by Unregister.
func (r *Registry) Presence() *Presence {
	return r.presence
}

// Register adds conn to the workspace, creating it if needed. A connection
// already registered elsewhere is moved.
func (r *Registry) Register(conn Conn, workspaceID, userID, username string) Member {
	member := Member{
		Conn:        conn,
		WorkspaceID: workspaceID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID()]; ok {
		r.removeLocked(conn.ID())
	}
	members, ok := r.workspaces[workspaceID]
	if !ok {
		members = make(map[string]Member)
		r.workspaces[workspaceID] = members
	}
	members[conn.ID()] = member
	r.conns[conn.ID()] = workspaceID
	return member
}

// Unregister removes conn along with its user's cursor. Unknown connections
// report false.
func (r *Registry) Unregister(conn Conn) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(conn.ID())
}

func (r *Registry) removeLocked(connID string) (Member, bool) {
	workspaceID, ok := r.conns[connID]
	if !ok {
		return Member{}, false
	}
	delete(r.conns, connID)
	members := r.workspaces[workspaceID]
	member := members[connID]
	delete(members, connID)
	r.presence.Remove(workspaceID, member.UserID)
	if len(members) == 0 {
		delete(r.workspaces, workspaceID)
		r.presence.Drop(workspaceID)
	}
	return member, true
}

// Lookup returns the member registered for conn.
func (r *Registry) Lookup(conn Conn) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	workspaceID, ok := r.conns[conn.ID()]
	if !ok {
		return Member{}, false
	}
	member, ok := r.workspaces[workspaceID][conn.ID()]
	return member, ok
}

// Snapshot returns the workspace's members ordered by connection time.
func (r *Registry) Snapshot(workspaceID string) []Member {
	r.mu.RLock()
	members := make([]Member, 0, len(r.workspaces[workspaceID]))
	for _, member := range r.workspaces[workspaceID] {
		members = append(members, member)
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].ConnectedAt.Equal(members[j].ConnectedAt) {
			return members[i].Conn.ID() < members[j].Conn.ID()
		}
		return members[i].ConnectedAt.Before(members[j].ConnectedAt)
	})
	return members
}

// Count returns the number of live connections in a workspace.
func (r *Registry) Count(workspaceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces[workspaceID])
}

// Users returns the distinct users connected to a workspace in join order.
// An idle workspace yields an empty, non-nil slice.
func (r *Registry) Users(workspaceID string) []string {
	seen := map[string]struct{}{}
	users := []string{}
	for _, member := range r.Snapshot(workspaceID) {
		if _, ok := seen[member.UserID]; ok {
			continue
		}
		seen[member.UserID] = struct{}{}
		users = append(users, member.UserID)
	}
	return users
}

// Workspaces returns the ids of every live workspace, sorted.
func (r *Registry) Workspaces() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Stats reports the number of live workspaces and connections.
func (r *Registry) Stats() (workspaces, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces), len(r.conns)
}
