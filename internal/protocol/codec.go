package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"

	"questweaver/server/internal/panels"
)

const (
	// MaxInputBytes bounds a single player turn.
	MaxInputBytes = 8192
	// MaxPanelTitleChars bounds a panel title, in runes.
	MaxPanelTitleChars = 64
	// MaxPanelContentBytes bounds panel markdown content.
	MaxPanelContentBytes = 65536
)

var panelIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,32}$`)

// ValidationError describes a rejected wire message or field. Decoding
// never panics on malformed input; every failure maps to one of these.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Encode serializes a message for the wire, one message per frame.
func Encode(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeClient parses and validates a client frame. Unknown or missing
// type tags and unknown fields are rejected, not best-effort-parsed.
func DecodeClient(data []byte) (ClientMessage, *ValidationError) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Msg: "malformed JSON"}
	}
	if env.Type == "" {
		return nil, &ValidationError{Field: "type", Msg: "missing message type"}
	}

	switch env.Type {
	case TypeAuthenticate:
		var m Authenticate
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		if m.Token == "" {
			return nil, &ValidationError{Field: "token", Msg: "token is required"}
		}
		return m, nil

	case TypePlayerInput:
		var m PlayerInput
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		if m.Text == "" {
			return nil, &ValidationError{Field: "text", Msg: "text is required"}
		}
		if len(m.Text) > MaxInputBytes {
			return nil, &ValidationError{Field: "text", Msg: fmt.Sprintf("text exceeds %d bytes", MaxInputBytes)}
		}
		return m, nil

	case TypeStartAdventure:
		var m StartAdventure
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		return m, nil

	case TypePing:
		var m Ping
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		return m, nil

	case TypeAbort:
		var m Abort
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		return m, nil

	case TypeRecap:
		var m Recap
		if verr := strictUnmarshal(data, &m); verr != nil {
			return nil, verr
		}
		return m, nil

	default:
		return nil, &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// ValidatePanel enforces the panel field constraints at the protocol
// boundary: id pattern, title and content ceilings, and overlay
// coordinates present iff the position is overlay.
func ValidatePanel(p panels.Panel) *ValidationError {
	if !panelIDPattern.MatchString(p.ID) {
		return &ValidationError{Field: "id", Msg: "panel id must match [A-Za-z0-9-]{1,32}"}
	}
	if utf8.RuneCountInString(p.Title) > MaxPanelTitleChars {
		return &ValidationError{Field: "title", Msg: fmt.Sprintf("title exceeds %d characters", MaxPanelTitleChars)}
	}
	if verr := ValidatePanelContent(p.Content); verr != nil {
		return verr
	}
	switch p.Position {
	case panels.PositionSidebar, panels.PositionHeader:
		if p.X != nil || p.Y != nil {
			return &ValidationError{Field: "position", Msg: "x/y are only valid for overlay panels"}
		}
	case panels.PositionOverlay:
		if p.X == nil || p.Y == nil {
			return &ValidationError{Field: "position", Msg: "overlay panels require x and y"}
		}
		if *p.X < 0 || *p.X > 100 || *p.Y < 0 || *p.Y > 100 {
			return &ValidationError{Field: "position", Msg: "x and y must be in [0,100]"}
		}
	default:
		return &ValidationError{Field: "position", Msg: fmt.Sprintf("unknown position %q", p.Position)}
	}
	return nil
}

// ValidatePanelContent enforces the content size ceiling alone, for
// panel updates.
func ValidatePanelContent(content string) *ValidationError {
	if len(content) > MaxPanelContentBytes {
		return &ValidationError{Field: "content", Msg: fmt.Sprintf("content exceeds %d bytes", MaxPanelContentBytes)}
	}
	return nil
}

// strictUnmarshal decodes into dst, rejecting unknown fields.
func strictUnmarshal(data []byte, dst interface{}) *ValidationError {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid payload: %v", err)}
	}
	return nil
}
