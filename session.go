package trust

import (
	"fmt"
	"time"
)

// Session is the store-resident record behind an opaque session id. It is
// never persisted relationally; a session exists iff its key exists.
type Session struct {
	ID               string    `json:"-"`
	UserID           string    `json:"user_id"`
	Role             UserRole  `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
	TwoFactorPending bool      `json:"two_factor_pending,omitempty"`
}

// NewSession builds a session for user, defaulting the role snapshot to the
// baseline role.
func NewSession(id, userID string, role UserRole, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Role:      roleOrDefault(role),
		CreatedAt: now.UTC(),
	}
}

// Principal returns the principal carried by the session.
func (s *Session) Principal() Principal {
	return Principal{
		ID:        s.UserID,
		Role:      roleOrDefault(s.Role),
		SessionID: s.ID,
	}
}

// FullyAuthenticated reports whether every authentication factor was verified.
func (s *Session) FullyAuthenticated() bool {
	return !s.TwoFactorPending
}

func (s Session) String() string {
	return fmt.Sprintf(
		"session=%s user=%s role=%s created=%s pending_2fa=%t",
		shortID(s.ID),
		s.UserID,
		s.Role,
		s.CreatedAt.Format(time.RFC3339),
		s.TwoFactorPending,
	)
}
