// Package auth binds anonymous browser sessions to console workspaces.
//
// There are no user accounts. Each browser carries a signed cookie holding a
// random workspace ID, and every API call resolves that ID to the workspace
// owning the connection, scan state and transcript.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// SessionName is the name of the browser session cookie.
const SessionName = "sqlai-session"

// SessionKeyWorkspaceID is the session value holding the workspace ID.
const SessionKeyWorkspaceID = "workspace_id"

// ErrInvalidWorkspaceID is returned when a session carries a malformed ID.
var ErrInvalidWorkspaceID = errors.New("session carries an invalid workspace id")

// SessionStore issues and reads workspace session cookies.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore creates a cookie-based session store.
//
// The secret can be any passphrase. It is SHA-256 hashed to derive a 32-byte
// signing key, so it must be stable across restarts and replicas.
// The cookie lives as long as an idle workspace does.
func NewSessionStore(secret string, secure bool, maxAge time.Duration) *SessionStore {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

// WorkspaceID returns the workspace bound to the request's session.
// A new ID is generated and written to the response when the session has none,
// and the cookie is refreshed on every call so active browsers keep their workspace.
func (s *SessionStore) WorkspaceID(w http.ResponseWriter, r *http.Request) (string, error) {
	// Get returns a fresh session alongside the error when the cookie
	// cannot be decoded (e.g. after a secret rotation); start over in that case.
	session, _ := s.store.Get(r, SessionName)

	id, _ := session.Values[SessionKeyWorkspaceID].(string)
	if id == "" {
		id = uuid.NewString()
		session.Values[SessionKeyWorkspaceID] = id
	} else if _, err := uuid.Parse(id); err != nil {
		return "", ErrInvalidWorkspaceID
	}

	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return id, nil
}

// Forget expires the session cookie. The next request starts a new workspace.
func (s *SessionStore) Forget(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, SessionName)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
