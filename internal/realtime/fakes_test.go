package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errSendRefused = errors.New("send refused")

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type fakeConn struct {
	id    string
	inbox chan []byte
	done  chan struct{}

	mu          sync.Mutex
	frames      []frame
	failSend    bool
	blockSend   bool
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:    id,
		inbox: make(chan []byte, 16),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	block, fail := c.blockSend, c.failSend
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errSendRefused
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.inbox:
		if !ok {
			return nil, ErrStreamClosed
		}
		return data, nil
	case <-c.done:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
	return nil
}

func (c *fakeConn) setFailSend(v bool) {
	c.mu.Lock()
	c.failSend = v
	c.mu.Unlock()
}

func (c *fakeConn) setBlockSend(v bool) {
	c.mu.Lock()
	c.blockSend = v
	c.mu.Unlock()
}

func (c *fakeConn) received() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func (c *fakeConn) types() []string {
	var out []string
	for _, f := range c.received() {
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) closedWith() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// waitFor blocks until a frame of the given type arrives and returns its data.
func (c *fakeConn) waitFor(t *testing.T, msgType string) json.RawMessage {
	t.Helper()
	var data json.RawMessage
	require.Eventually(t, func() bool {
		for _, f := range c.received() {
			if f.Type == msgType {
				data = f.Data
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s frame on %s", msgType, c.id)
	return data
}

type fakeAuth map[string]Identity

func (f fakeAuth) Verify(_ context.Context, token string) (Identity, error) {
	identity, ok := f[token]
	if !ok {
		return Identity{}, errors.New("unknown token")
	}
	return identity, nil
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func newTestDispatcher(opts ...Option) *Dispatcher {
	clock := stepClock()
	registry := NewRegistry(NewPresence(clock), clock)
	opts = append([]Option{WithClock(clock), WithSendTimeout(50 * time.Millisecond)}, opts...)
	return NewDispatcher(registry, opts...)
}

func decodeData[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
