// Package hub fans events out to WebSocket clients and serves reconnection
// sync requests from the in-memory ring log.
package hub

import (
	"time"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// Envelope is the wire frame for every server-to-client message.
type Envelope struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Server-to-client message types.
const (
	TypeConnected       = "connected"
	TypeHeartbeat       = "heartbeat"
	TypeEvent           = "event"
	TypeSync            = "sync"
	TypeError           = "error"
	TypeStreamEvent     = "stream_event"
	TypeSessionStart    = "session_start"
	TypeSessionUpdate   = "session_update"
	TypeStreamError     = "stream_error"
	TypeCostUpdate      = "cost_update"
	TypeRecoveryWarning = "recovery_warning"
)

// Client-to-server message types.
const (
	TypeSyncRequest = "sync_request"
)

// Error codes carried in an error envelope.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeSyncFailed     = "SYNC_FAILED"
)

// ConnectedPayload greets a client with its server-assigned id.
type ConnectedPayload struct {
	ClientID   string `json:"clientId"`
	ServerTime string `json:"serverTime"`
}

// HeartbeatPayload is the periodic keepalive body.
type HeartbeatPayload struct {
	ServerTime string `json:"serverTime"`
}

// EventPayload wraps one terminal event for the event message type.
type EventPayload struct {
	Event models.TerminalEvent `json:"event"`
}

// SyncRequestPayload is what a reconnecting client sends. LastEventID takes
// precedence over Since when both are present.
type SyncRequestPayload struct {
	LastEventID string `json:"lastEventId,omitempty"`
	Since       string `json:"since,omitempty"`
}

// SyncPayload carries the events a reconnecting client missed.
type SyncPayload struct {
	Events    []models.TerminalEvent `json:"events"`
	Count     int                    `json:"count"`
	ClientID  string                 `json:"clientId"`
	Timestamp string                 `json:"timestamp"`
}

// ErrorPayload reports a protocol-level problem to one client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Recovery warning modes.
const (
	RecoveryModeMemoryOnly      = "memory_only"
	RecoveryModePartialRecovery = "partial_recovery"
)

// RecoveryWarningPayload tells clients that events are not being persisted.
type RecoveryWarningPayload struct {
	Mode    string `json:"mode"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newEnvelope(msgType string, payload any) Envelope {
	return Envelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: models.FormatTimestamp(time.Now()),
	}
}
