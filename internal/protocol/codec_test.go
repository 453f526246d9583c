package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questweaver/server/internal/panels"
)

func TestDecodeAuthenticate(t *testing.T) {
	msg, verr := DecodeClient([]byte(`{"type":"authenticate","token":"secret","adventureId":"adv-1"}`))
	require.Nil(t, verr)

	auth, ok := msg.(Authenticate)
	require.True(t, ok)
	assert.Equal(t, "secret", auth.Token)
	assert.Equal(t, "adv-1", auth.AdventureID)
}

func TestDecodeAuthenticateRequiresToken(t *testing.T) {
	_, verr := DecodeClient([]byte(`{"type":"authenticate"}`))
	require.NotNil(t, verr)
	assert.Equal(t, "token", verr.Field)
}

func TestDecodePlayerInput(t *testing.T) {
	msg, verr := DecodeClient([]byte(`{"type":"player_input","text":"look around"}`))
	require.Nil(t, verr)

	input, ok := msg.(PlayerInput)
	require.True(t, ok)
	assert.Equal(t, "look around", input.Text)
}

func TestDecodePlayerInputRejectsEmptyAndOversized(t *testing.T) {
	_, verr := DecodeClient([]byte(`{"type":"player_input","text":""}`))
	require.NotNil(t, verr)

	huge := strings.Repeat("x", MaxInputBytes+1)
	_, verr = DecodeClient([]byte(`{"type":"player_input","text":"` + huge + `"}`))
	require.NotNil(t, verr)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "hello"},
		{"missing type", `{"token":"x"}`},
		{"unknown type", `{"type":"fireball"}`},
		{"unknown field", `{"type":"ping","extra":true}`},
		{"wrong field type", `{"type":"player_input","text":42}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verr := DecodeClient([]byte(tc.data))
			assert.NotNil(t, verr)
		})
	}
}

func TestDecodeControlMessages(t *testing.T) {
	for _, frame := range []string{
		`{"type":"ping"}`,
		`{"type":"abort"}`,
		`{"type":"recap"}`,
		`{"type":"start_adventure"}`,
	} {
		_, verr := DecodeClient([]byte(frame))
		assert.Nil(t, verr, "frame %s", frame)
	}
}

func coord(v float64) *float64 { return &v }

func TestValidatePanel(t *testing.T) {
	base := panels.Panel{
		ID:        "quest-log",
		Title:     "Quest Log",
		Content:   "find the amulet",
		Position:  panels.PositionSidebar,
		CreatedAt: time.Now(),
	}
	assert.Nil(t, ValidatePanel(base))

	bad := base
	bad.ID = "has spaces"
	assert.NotNil(t, ValidatePanel(bad))

	bad = base
	bad.ID = strings.Repeat("a", 33)
	assert.NotNil(t, ValidatePanel(bad))

	bad = base
	bad.Title = strings.Repeat("t", MaxPanelTitleChars+1)
	assert.NotNil(t, ValidatePanel(bad))

	bad = base
	bad.Content = strings.Repeat("c", MaxPanelContentBytes+1)
	assert.NotNil(t, ValidatePanel(bad))

	bad = base
	bad.Position = "floating"
	assert.NotNil(t, ValidatePanel(bad))
}

func TestValidatePanelOverlayCoordinates(t *testing.T) {
	overlay := panels.Panel{
		ID:       "map",
		Title:    "Map",
		Content:  "x",
		Position: panels.PositionOverlay,
	}
	// Overlay requires both coordinates.
	assert.NotNil(t, ValidatePanel(overlay))

	overlay.X, overlay.Y = coord(50), coord(50)
	assert.Nil(t, ValidatePanel(overlay))

	overlay.X = coord(101)
	assert.NotNil(t, ValidatePanel(overlay))

	sidebar := panels.Panel{
		ID:       "log",
		Title:    "Log",
		Content:  "x",
		Position: panels.PositionSidebar,
		X:        coord(10),
		Y:        coord(10),
	}
	// Non-overlay panels must not carry coordinates.
	assert.NotNil(t, ValidatePanel(sidebar))
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Encode(GMResponseChunk{Type: TypeGMResponseChunk, MessageID: "m1", Text: "once upon"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"messageId":"m1"`)
	assert.Contains(t, string(data), `"type":"gm_response_chunk"`)
}

func TestClientFramesSurviveDecodeEncode(t *testing.T) {
	// Every client variant must re-encode to the bytes it was decoded
	// from, up to key order.
	frames := []string{
		`{"type":"authenticate","token":"secret","adventureId":"adv-1"}`,
		`{"type":"authenticate","token":"secret"}`,
		`{"type":"start_adventure","adventureId":"adv-1"}`,
		`{"type":"start_adventure"}`,
		`{"type":"player_input","text":"look around"}`,
		`{"type":"ping"}`,
		`{"type":"abort"}`,
		`{"type":"recap"}`,
	}

	for _, frame := range frames {
		t.Run(frame, func(t *testing.T) {
			msg, verr := DecodeClient([]byte(frame))
			require.Nil(t, verr)

			out, err := Encode(msg)
			require.NoError(t, err)

			var want, got map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(frame), &want))
			require.NoError(t, json.Unmarshal(out, &got))
			assert.Equal(t, want, got)
		})
	}
}
