package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Identity is the authenticated user behind a session.
type Identity struct {
	UserID   string
	Username string
}

// AuthGate turns a client credential into an identity.
type AuthGate interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Gateway runs one client session from authentication to cleanup.
type Gateway struct {
	auth       AuthGate
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    Metrics
	observe    func(connID string, state State)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the gateway's logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayMetrics counts authentication and protocol failures.
func WithGatewayMetrics(metrics Metrics) GatewayOption {
	return func(g *Gateway) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// WithStateObserver registers a callback invoked on every state transition.
func WithStateObserver(fn func(connID string, state State)) GatewayOption {
	return func(g *Gateway) {
		g.observe = fn
	}
}

// NewGateway returns a gateway that authenticates through auth and joins
// sessions via dispatcher.
func NewGateway(auth AuthGate, dispatcher *Dispatcher, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		auth:       auth,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		observe:    func(string, State) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serve authenticates the stream, joins it to the workspace and relays its
// frames until the peer goes away. A clean peer close returns nil.
func (g *Gateway) Serve(ctx context.Context, stream Stream, workspaceID, credential string) (err error) {
	connID := stream.ID()
	logger := g.logger.With("conn_id", connID, "workspace_id", workspaceID)
	g.observe(connID, StateConnecting)

	if strings.TrimSpace(credential) == "" {
		g.metrics.AuthFailure()
		g.reject(stream, "Missing authentication token")
		logger.Info("realtime rejected", "reason", "missing token")
		return ErrMissingCredential
	}

	g.observe(connID, StateAuthenticating)
	identity, err := g.auth.Verify(ctx, credential)
	if err != nil {
		g.metrics.AuthFailure()
		g.reject(stream, "Invalid authentication token")
		logger.Info("realtime rejected", "reason", "invalid token", "error", err)
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	logger = logger.With("user_id", identity.UserID)

	cleanupCtx := context.WithoutCancel(ctx)
	closeCode, closeReason := CloseNormal, ""
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &InternalError{Err: fmt.Errorf("panic: %v", recovered)}
			closeCode, closeReason = CloseInternalError, "Internal server error"
			logger.Error("realtime session panic", "panic", recovered)
		}
		g.observe(connID, StateClosing)
		g.dispatcher.Leave(cleanupCtx, stream)
		if closeErr := stream.Close(closeCode, closeReason); closeErr != nil {
			logger.Debug("realtime close", "error", closeErr)
		}
		g.observe(connID, StateClosed)
	}()

	if _, joinErr := g.dispatcher.Join(ctx, stream, workspaceID, identity.UserID, identity.Username); joinErr != nil {
		closeCode, closeReason = CloseGoingAway, "server shutting down"
		logger.Info("realtime join refused", "error", joinErr)
		return joinErr
	}
	g.observe(connID, StateActive)

	for {
		frame, recvErr := stream.Receive(ctx)
		if recvErr != nil {
			if errors.Is(recvErr, ErrStreamClosed) {
				return nil
			}
			return &TransportError{Op: "receive", Err: recvErr}
		}
		if handleErr := g.handleFrame(ctx, stream, frame, logger); handleErr != nil {
			if errors.Is(handleErr, ErrNotRegistered) {
				logger.Info("realtime session dropped by dispatcher")
				return nil
			}
			return handleErr
		}
	}
}

func (g *Gateway) reject(stream Stream, reason string) {
	if err := stream.Close(CloseAuthenticateFail, reason); err != nil {
		g.logger.Debug("realtime close rejected", "conn_id", stream.ID(), "error", err)
	}
	g.observe(stream.ID(), StateClosed)
}

// handleFrame classifies one inbound frame. Protocol errors are logged and
// swallowed.
func (g *Gateway) handleFrame(ctx context.Context, stream Stream, frame []byte, logger *slog.Logger) error {
	msg, err := decodeInbound(frame)
	if err != nil {
		return g.dropFrame(logger, err)
	}

	switch msg.Type {
	case TypeCursorUpdate:
		position, err := cursorPayload(msg.Data)
		if err != nil {
			return g.dropFrame(logger, err)
		}
		return g.dispatcher.PublishCursor(ctx, stream, position)
	case TypeChatMessage:
		message, err := chatPayload(msg.Data)
		if err != nil {
			return g.dropFrame(logger, err)
		}
		return g.dispatcher.PublishChat(ctx, stream, message)
	default:
		return g.dropFrame(logger, &ProtocolError{Reason: "unknown type " + msg.Type})
	}
}

func (g *Gateway) dropFrame(logger *slog.Logger, err error) error {
	g.metrics.ProtocolError()
	logger.Warn("realtime frame dropped", "error", err)
	return nil
}
