package authguard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProfileMetadata is the user controlled profile payload stored by the
// identity provider. Role is the only field the access layer reads.
type ProfileMetadata struct {
	Role       string         `json:"role,omitempty"`
	FullName   string         `json:"full_name,omitempty"`
	Attributes map[string]any `json:"-"`
}

// ProfileMetadataFromMap builds ProfileMetadata from the loosely typed map the
// provider returns. Non string values for known keys are ignored.
func ProfileMetadataFromMap(raw map[string]any) ProfileMetadata {
	meta := ProfileMetadata{}
	if len(raw) == 0 {
		return meta
	}

	for k, v := range raw {
		switch k {
		case "role":
			if s, ok := v.(string); ok {
				meta.Role = s
			}
		case "full_name":
			if s, ok := v.(string); ok {
				meta.FullName = s
			}
		default:
			if meta.Attributes == nil {
				meta.Attributes = make(map[string]any)
			}
			meta.Attributes[k] = v
		}
	}

	return meta
}

// ToMap flattens the metadata back into the provider wire format.
func (m ProfileMetadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.Attributes)+2)
	for k, v := range m.Attributes {
		out[k] = v
	}
	if m.Role != "" {
		out["role"] = m.Role
	}
	if m.FullName != "" {
		out["full_name"] = m.FullName
	}
	return out
}

func (m ProfileMetadata) clone() ProfileMetadata {
	out := m
	if m.Attributes != nil {
		out.Attributes = make(map[string]any, len(m.Attributes))
		for k, v := range m.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// User is the identity record attached to a session
type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Metadata  ProfileMetadata `json:"user_metadata"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// UUID parses the user id
func (u *User) UUID() (uuid.UUID, error) {
	return uuid.Parse(u.ID)
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Metadata = u.Metadata.clone()
	return &out
}

// Session is the credential bundle issued by the identity provider
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = *s.User.clone()
	return &out
}

func (s Session) String() string {
	return fmt.Sprintf(
		"user=%s email=%s exp=%s",
		s.User.ID,
		s.User.Email,
		s.ExpiresAt.Format(time.RFC3339),
	)
}

// SignUpResult is returned by sign up. Session is nil when the provider
// requires email confirmation before issuing one.
type SignUpResult struct {
	User    *User
	Session *Session
}

// AuthState is the process wide authentication state owned by Store.
// Role is empty exactly when User is nil.
type AuthState struct {
	Session   *Session
	User      *User
	Role      Role
	IsLoading bool
}

// Authenticated reports whether a user is present
func (s AuthState) Authenticated() bool {
	return s.User != nil
}

// StateFromSession derives a settled AuthState from a session, which may be nil.
func StateFromSession(session *Session) AuthState {
	if session == nil {
		return AuthState{}
	}

	sess := session.clone()
	user := sess.User.clone()

	return AuthState{
		Session: sess,
		User:    user,
		Role:    ResolveRole(user),
	}
}

func (s AuthState) clone() AuthState {
	return AuthState{
		Session:   s.Session.clone(),
		User:      s.User.clone(),
		Role:      s.Role,
		IsLoading: s.IsLoading,
	}
}
