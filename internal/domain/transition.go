package domain

// SessionTransition is an optional verbose event describing a heartbeat state change.
type SessionTransition struct {
	Type          string `json:"type"` // session_transition
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Reason        string `json:"reason,omitempty"` // e.g., start, heartbeat, expired, stop
}

// NewSessionTransition creates a SessionTransition event
func NewSessionTransition(sessionID, from, to, reason string, lastHeartbeat int64) *SessionTransition {
	return &SessionTransition{
		Type:          "session_transition",
		SchemaVersion: 1,
		SessionID:     sessionID,
		From:          from,
		To:            to,
		LastHeartbeat: lastHeartbeat,
		Reason:        reason,
	}
}
