// Package protocol defines the wire messages exchanged over the
// adventure WebSocket and their validation. Messages form a closed
// tagged union discriminated by the "type" field; anything malformed,
// unknown, or missing required fields is rejected here so the rest of
// the system can assume valid shapes.
package protocol

import (
	"questweaver/server/internal/combat"
	"questweaver/server/internal/panels"
	"questweaver/server/internal/state"
)

// Message type tags, client to server.
const (
	TypeAuthenticate   = "authenticate"
	TypePlayerInput    = "player_input"
	TypeStartAdventure = "start_adventure"
	TypePing           = "ping"
	TypeAbort          = "abort"
	TypeRecap          = "recap"
)

// Message type tags, server to client.
const (
	TypeGMResponseStart = "gm_response_start"
	TypeGMResponseChunk = "gm_response_chunk"
	TypeGMResponseEnd   = "gm_response_end"
	TypeAdventureLoaded = "adventure_loaded"
	TypeAuthenticated   = "authenticated"
	TypeError           = "error"
	TypePong            = "pong"
	TypeThemeChange     = "theme_change"
	TypeToolStatus      = "tool_status"
	TypePanelCreate     = "panel_create"
	TypePanelUpdate     = "panel_update"
	TypePanelDismiss    = "panel_dismiss"
	TypeRecapStarted    = "recap_started"
	TypeRecapComplete   = "recap_complete"
	TypeRecapError      = "recap_error"
)

// ErrorCode classifies server-reported failures.
type ErrorCode string

const (
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeAdventureNotFound ErrorCode = "ADVENTURE_NOT_FOUND"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeGMError           ErrorCode = "GM_ERROR"
	CodeStateCorrupted    ErrorCode = "STATE_CORRUPTED"
	CodeProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	CodeCapacityExceeded  ErrorCode = "CAPACITY_EXCEEDED"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
)

// ClientMessage is the closed union of messages a client may send.
type ClientMessage interface {
	clientMessage()
}

// Authenticate presents the bearer token for an adventure. AdventureID
// is empty when the client intends to start a new adventure.
type Authenticate struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	AdventureID string `json:"adventureId,omitempty"`
}

// PlayerInput is one player turn.
type PlayerInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StartAdventure creates a new adventure, or re-opens an existing one
// when AdventureID is set.
type StartAdventure struct {
	Type        string `json:"type"`
	AdventureID string `json:"adventureId,omitempty"`
}

// Ping is a protocol-level liveness probe.
type Ping struct {
	Type string `json:"type"`
}

// Abort cancels the in-flight generation, if any.
type Abort struct {
	Type string `json:"type"`
}

// Recap requests an explicit full-history summarization.
type Recap struct {
	Type string `json:"type"`
}

func (Authenticate) clientMessage()   {}
func (PlayerInput) clientMessage()    {}
func (StartAdventure) clientMessage() {}
func (Ping) clientMessage()           {}
func (Abort) clientMessage()          {}
func (Recap) clientMessage()          {}

// GMResponseStart opens a streamed response.
type GMResponseStart struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// GMResponseChunk carries one streamed text fragment, byte-preserving,
// in generation order.
type GMResponseChunk struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// GMResponseEnd closes a streamed response. It follows every chunk for
// its MessageID, including after an abort.
type GMResponseEnd struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// AdventureLoaded replays the full live state of an adventure. Sent
// after authentication and on reconnect.
type AdventureLoaded struct {
	Type        string                 `json:"type"`
	AdventureID string                 `json:"adventureId"`
	History     []state.NarrativeEntry `json:"history"`
	Summary     *state.HistorySummary  `json:"summary,omitempty"`
	Panels      []panels.Panel         `json:"panels"`
	Combat      *combat.State          `json:"combat,omitempty"`
}

// Authenticated confirms a successful token handshake.
type Authenticated struct {
	Type        string `json:"type"`
	AdventureID string `json:"adventureId"`
}

// ErrorMessage reports a failure. Retryable errors leave the connection
// open and the session idle; fatal errors close the connection.
type ErrorMessage struct {
	Type             string    `json:"type"`
	Code             ErrorCode `json:"code"`
	Message          string    `json:"message"`
	Retryable        bool      `json:"retryable"`
	TechnicalDetails string    `json:"technicalDetails,omitempty"`
	RetryAfterMS     int       `json:"retryAfterMs,omitempty"`
}

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
}

// ThemeChange forwards a mood shift and resolved background reference.
type ThemeChange struct {
	Type               string `json:"type"`
	Mood               string `json:"mood"`
	Genre              string `json:"genre"`
	Region             string `json:"region"`
	BackgroundURL      string `json:"backgroundUrl,omitempty"`
	TransitionDuration int    `json:"transitionDuration,omitempty"`
}

// ToolStatusState is the activity state reported by ToolStatus.
type ToolStatusState string

const (
	ToolStatusActive ToolStatusState = "active"
	ToolStatusIdle   ToolStatusState = "idle"
)

// ToolStatus reports tool-invocation activity during generation.
type ToolStatus struct {
	Type        string          `json:"type"`
	State       ToolStatusState `json:"state"`
	Description string          `json:"description,omitempty"`
}

// PanelCreate announces a new live panel.
type PanelCreate struct {
	Type  string       `json:"type"`
	Panel panels.Panel `json:"panel"`
}

// PanelUpdate announces a content change to a live panel.
type PanelUpdate struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PanelDismiss announces panel removal.
type PanelDismiss struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RecapStarted signals the beginning of an explicit recap.
type RecapStarted struct {
	Type string `json:"type"`
}

// RecapComplete carries the post-recap history and summary.
type RecapComplete struct {
	Type    string                 `json:"type"`
	History []state.NarrativeEntry `json:"history"`
	Summary *state.HistorySummary  `json:"summary,omitempty"`
}

// RecapError signals that recap failed and history is unchanged.
type RecapError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
