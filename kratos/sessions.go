package kratos

import (
	"context"
	"errors"
	"fmt"

	ory "github.com/ory/client-go"
)

var ErrInactiveSession = errors.New("session is not active")

// Sessions looks up and revokes Kratos sessions by session token.
type Sessions struct {
	client *ory.APIClient
}

func NewSessions(client *ory.APIClient) *Sessions {
	return &Sessions{client: client}
}

// Whoami returns the active session for token.
func (s *Sessions) Whoami(ctx context.Context, token string) (*ory.Session, error) {
	session, _, err := s.client.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		return nil, fmt.Errorf("kratos: whoami: %w", err)
	}
	if !session.GetActive() {
		return nil, ErrInactiveSession
	}
	return session, nil
}

// Revoke logs the session out.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	_, err := s.client.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*ory.NewPerformNativeLogoutBody(token)).
		Execute()
	if err != nil {
		return fmt.Errorf("kratos: logout: %w", err)
	}
	return nil
}

// IdentityEmail pulls the email trait out of a session, if present.
func IdentityEmail(session *ory.Session) string {
	identity := session.GetIdentity()
	traits, ok := identity.GetTraits().(map[string]interface{})
	if !ok {
		return ""
	}
	email, _ := traits["email"].(string)
	return email
}
