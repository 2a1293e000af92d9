package auth

import (
	"context"
	"fmt"

	"mveditor/api/internal/realtime"
)

// SessionValidator reports whether a login session is still live.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) error
}

// Gate verifies access tokens presented by realtime clients.
type Gate struct {
	secret   []byte
	sessions SessionValidator
}

// NewGate returns a gate for secret. sessions may be nil, in which case only
// the token itself is checked.
func NewGate(secret string, sessions SessionValidator) *Gate {
	return &Gate{secret: []byte(secret), sessions: sessions}
}

func (g *Gate) Verify(ctx context.Context, credential string) (realtime.Identity, error) {
	claims, err := ParseToken(g.secret, credential, AccessToken)
	if err != nil {
		return realtime.Identity{}, err
	}
	if g.sessions != nil {
		if err := g.sessions.ValidateSession(ctx, claims.SessionID); err != nil {
			return realtime.Identity{}, fmt.Errorf("session %s: %w", claims.SessionID, err)
		}
	}
	return realtime.Identity{UserID: claims.Subject, Username: claims.Username}, nil
}
