package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultSendTimeout bounds a single delivery when no WithSendTimeout is given.
const DefaultSendTimeout = 5 * time.Second

// FanoutResult reports the outcome of one broadcast pass.
type FanoutResult struct {
	Delivered int
	Failed    []string
}

// Dispatcher broadcasts workspace events to every registered connection.
// Operations on one workspace are applied in a single total order; different
// workspaces proceed independently.
type Dispatcher struct {
	registry    *Registry
	presence    *Presence
	seq         *sequencer
	sendTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     Metrics

	// gate is held shared by Join and exclusively by Shutdown while it sets
	// closing, so no join can register behind the sweep.
	gate    sync.RWMutex
	closing bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout bounds each delivery to one recipient.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics reports joins, fan-out failures and active counts to metrics.
func WithMetrics(metrics Metrics) Option {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

// NewDispatcher returns a dispatcher over registry and its presence tracker.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		presence:    registry.Presence(),
		seq:         newSequencer(),
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		metrics:     noopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher broadcasts over.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Join registers conn, announces it to the workspace (the joiner included) and
// then hands the joiner the current cursor positions, if any. Once Shutdown
// has started it registers nothing and returns ErrShuttingDown.
func (d *Dispatcher) Join(ctx context.Context, conn Conn, workspaceID, userID, username string) (Member, error) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closing {
		return Member{}, ErrShuttingDown
	}

	unlock := d.seq.lock(workspaceID)
	member := d.registry.Register(conn, workspaceID, userID, username)
	d.reportActive()
	d.logger.Info("realtime join", "workspace_id", workspaceID, "user_id", userID, "conn_id", conn.ID())

	_, failed := d.fanoutLocked(ctx, workspaceID, Envelope{
		Type: TypeUserJoined,
		Data: presenceEvent{
			UserID:    userID,
			Username:  username,
			Timestamp: formatTimestamp(member.ConnectedAt),
		},
	})

	cursors := d.presence.Snapshot(workspaceID)
	if len(cursors) > 0 && !containsConn(failed, conn) {
		positions := make(map[string]cursorPosition, len(cursors))
		for id, entry := range cursors {
			positions[id] = cursorPosition{
				Username:  entry.Username,
				Position:  entry.Position,
				Timestamp: formatTimestamp(entry.Timestamp),
			}
		}
		payload, err := json.Marshal(Envelope{Type: TypeCursorPositions, Data: positions})
		if err != nil {
			d.logger.Error("realtime encode cursor positions", "workspace_id", workspaceID, "error", err)
		} else if err := d.send(ctx, conn, payload); err != nil {
			d.logger.Warn("realtime send cursor positions", "conn_id", conn.ID(), "error", err)
			d.metrics.FanoutFailure()
			failed = append(failed, member)
		}
	}
	unlock()

	d.evict(ctx, failed)
	return member, nil
}

// PublishCursor records the position for conn's user and broadcasts it.
func (d *Dispatcher) PublishCursor(ctx context.Context, conn Conn, position json.RawMessage) error {
	member, ok := d.registry.Lookup(conn)
	if !ok {
		return ErrNotRegistered
	}
	unlock := d.seq.lock(member.WorkspaceID)
	if _, ok := d.registry.Lookup(conn); !ok {
		unlock()
		return ErrNotRegistered
	}
	entry := d.presence.UpdateCursor(member.WorkspaceID, member.UserID, member.Username, position)
	_, failed := d.fanoutLocked(ctx, member.WorkspaceID, Envelope{
		Type: TypeCursorUpdate,
		Data: cursorEvent{
			UserID:    member.UserID,
			Username:  member.Username,
			Position:  entry.Position,
			Timestamp: formatTimestamp(entry.Timestamp),
		},
	})
	unlock()

	d.evict(ctx, failed)
	return nil
}

// PublishChat broadcasts a chat message from conn's user.
func (d *Dispatcher) PublishChat(ctx context.Context, conn Conn, message string) error {
	member, ok := d.registry.Lookup(conn)
	if !ok {
		return ErrNotRegistered
	}
	unlock := d.seq.lock(member.WorkspaceID)
	if _, ok := d.registry.Lookup(conn); !ok {
		unlock()
		return ErrNotRegistered
	}
	_, failed := d.fanoutLocked(ctx, member.WorkspaceID, Envelope{
		Type: TypeChatMessage,
		Data: chatEvent{
			UserID:    member.UserID,
			Username:  member.Username,
			Message:   message,
			Timestamp: formatTimestamp(d.now()),
		},
	})
	unlock()

	d.evict(ctx, failed)
	return nil
}

// Leave unregisters conn and tells the remaining members. Calling it for a
// connection that is already gone does nothing.
func (d *Dispatcher) Leave(ctx context.Context, conn Conn) (Member, bool) {
	member, removed, failed := d.leave(ctx, conn)
	d.evict(ctx, failed)
	return member, removed
}

// Fanout delivers env to every member of the workspace.
func (d *Dispatcher) Fanout(ctx context.Context, workspaceID string, env Envelope) FanoutResult {
	unlock := d.seq.lock(workspaceID)
	result, failed := d.fanoutLocked(ctx, workspaceID, env)
	unlock()

	d.evict(ctx, failed)
	return result
}

// Shutdown closes every registered connection with CloseGoingAway and clears
// all workspace state. No user_left events are sent. Joins that arrive after
// Shutdown has started are refused.
func (d *Dispatcher) Shutdown(ctx context.Context) int {
	d.gate.Lock()
	d.closing = true
	d.gate.Unlock()

	closed := 0
	for _, workspaceID := range d.registry.Workspaces() {
		if ctx.Err() != nil {
			break
		}
		closed += d.closeWorkspace(workspaceID)
	}
	d.reportActive()
	d.logger.Info("realtime shutdown", "closed", closed)
	return closed
}

func (d *Dispatcher) closeWorkspace(workspaceID string) int {
	unlock := d.seq.lock(workspaceID)
	members := d.registry.Snapshot(workspaceID)
	for _, member := range members {
		d.registry.Unregister(member.Conn)
	}
	unlock()

	for _, member := range members {
		if err := member.Conn.Close(CloseGoingAway, "server shutting down"); err != nil {
			d.logger.Debug("realtime close on shutdown", "conn_id", member.Conn.ID(), "error", err)
		}
	}
	return len(members)
}

func (d *Dispatcher) leave(ctx context.Context, conn Conn) (Member, bool, []Member) {
	member, ok := d.registry.Lookup(conn)
	if !ok {
		return Member{}, false, nil
	}
	unlock := d.seq.lock(member.WorkspaceID)
	defer unlock()

	member, ok = d.registry.Unregister(conn)
	if !ok {
		return Member{}, false, nil
	}
	d.reportActive()
	d.logger.Info("realtime leave", "workspace_id", member.WorkspaceID, "user_id", member.UserID, "conn_id", conn.ID())
	if d.registry.Count(member.WorkspaceID) == 0 {
		return member, true, nil
	}
	_, failed := d.fanoutLocked(ctx, member.WorkspaceID, Envelope{
		Type: TypeUserLeft,
		Data: presenceEvent{
			UserID:    member.UserID,
			Username:  member.Username,
			Timestamp: formatTimestamp(d.now()),
		},
	})
	return member, true, failed
}

// fanoutLocked sends env to a snapshot of the workspace. The caller holds the
// workspace sequencer lock. Failed members are returned, not removed.
func (d *Dispatcher) fanoutLocked(ctx context.Context, workspaceID string, env Envelope) (FanoutResult, []Member) {
	recipients := d.registry.Snapshot(workspaceID)
	if len(recipients) == 0 {
		return FanoutResult{}, nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("realtime encode envelope", "type", env.Type, "error", err)
		return FanoutResult{}, nil
	}
	d.metrics.MessageBroadcast(env.Type)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result FanoutResult
		failed []Member
	)
	for _, member := range recipients {
		wg.Add(1)
		go func(member Member) {
			defer wg.Done()
			err := d.send(ctx, member.Conn, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("realtime send failed",
					"workspace_id", workspaceID,
					"conn_id", member.Conn.ID(),
					"type", env.Type,
					"error", err,
				)
				d.metrics.FanoutFailure()
				failed = append(failed, member)
				result.Failed = append(result.Failed, member.Conn.ID())
				return
			}
			result.Delivered++
		}(member)
	}
	wg.Wait()

	sort.Strings(result.Failed)
	return result, failed
}

// send ignores cancellation of ctx and is bounded by the send timeout.
func (d *Dispatcher) send(ctx context.Context, conn Conn, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	return conn.Send(sendCtx, payload)
}

// evict drops members whose send failed. Each removal announces user_left,
// which may fail further members; those are queued rather than recursed into.
func (d *Dispatcher) evict(ctx context.Context, failed []Member) {
	queue := append([]Member(nil), failed...)
	for len(queue) > 0 {
		member := queue[0]
		queue = queue[1:]

		_, removed, more := d.leave(ctx, member.Conn)
		if !removed {
			continue
		}
		if err := member.Conn.Close(CloseTryAgainLater, "send timeout"); err != nil {
			d.logger.Debug("realtime close evicted", "conn_id", member.Conn.ID(), "error", err)
		}
		queue = append(queue, more...)
	}
}

func (d *Dispatcher) reportActive() {
	workspaces, connections := d.registry.Stats()
	d.metrics.SetActive(workspaces, connections)
}

func containsConn(members []Member, conn Conn) bool {
	for _, member := range members {
		if member.Conn.ID() == conn.ID() {
			return true
		}
	}
	return false
}
