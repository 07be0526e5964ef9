package upload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// sessionPrefix namespaces background-transfer session identifiers so foreign
// callbacks are rejected cheaply.
const sessionPrefix = "upload."

// Session is everything needed to reconstruct an authenticated API client
// after a process restart: it is serialized into the background session
// identifier itself, so recovery depends on no in-memory state.
type Session struct {
	AppGroup    string `json:"appGroup,omitempty"`
	UserID      string `json:"userID"`
	BaseURL     string `json:"baseURL"`
	ActAsUserID string `json:"actAsUserID,omitempty"`
}

// ID encodes the session as a durable identifier.
func (s Session) ID() string {
	raw, _ := json.Marshal(s)
	return sessionPrefix + base64.RawURLEncoding.EncodeToString(raw)
}

// ParseSessionID decodes an identifier produced by Session.ID.
func ParseSessionID(id string) (Session, error) {
	if !strings.HasPrefix(id, sessionPrefix) {
		return Session{}, fmt.Errorf("upload: foreign session id %q", id)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(id, sessionPrefix))
	if err != nil {
		return Session{}, fmt.Errorf("upload: decode session id: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("upload: decode session id: %w", err)
	}
	if s.UserID == "" || s.BaseURL == "" {
		return Session{}, fmt.Errorf("upload: incomplete session id")
	}
	return s, nil
}
