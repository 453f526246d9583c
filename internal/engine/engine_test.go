package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questweaver/server/internal/state"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(Request{
		Summary: "the party reached the keep",
		Entries: []state.NarrativeEntry{
			{Kind: state.EntryPlayerInput, Text: "enter the keep"},
			{Kind: state.EntryGMResponse, Text: "the gate groans open"},
		},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "the party reached the keep")
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[2].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[3].Role)
}

func TestBuildMessagesWithoutSummary(t *testing.T) {
	msgs := buildMessages(Request{
		Entries: []state.NarrativeEntry{{Kind: state.EntryPlayerInput, Text: "hello"}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, defaultSystemPrompt, msgs[0].Content)
}

func TestBuildMessagesCustomSystemPrompt(t *testing.T) {
	msgs := buildMessages(Request{SystemPrompt: "be terse"})
	require.Len(t, msgs, 1)
	assert.Equal(t, "be terse", msgs[0].Content)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(errors.New("invalid api key, status code: 401")))
	assert.True(t, isRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, isRetryableError(errors.New("connection refused")))
	assert.True(t, isRetryableError(errors.New("error, status code: 429, rate limited")))
	assert.True(t, isRetryableError(errors.New("error, status code: 503")))
}

func TestScriptedGeneratorReplaysTurn(t *testing.T) {
	gen := &ScriptedGenerator{Turns: [][]ScriptStep{{
		{Token: "a"},
		{ToolName: ToolRollDice, ToolArgs: json.RawMessage(`{"expression":"1d6"}`)},
		{Token: "b"},
		{Done: true},
	}}}

	events, err := gen.Generate(context.Background(), Request{})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "a", ev.Token)

	ev = <-events
	require.NotNil(t, ev.Tool)
	assert.Equal(t, ToolRollDice, ev.Tool.Name)
	ev.Tool.Result <- ToolResult{Content: "7"}

	ev = <-events
	assert.Equal(t, "b", ev.Token)

	ev = <-events
	assert.True(t, ev.Done)

	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 1, gen.Calls())
}

func TestScriptedGeneratorCancelClosesWithoutTerminal(t *testing.T) {
	gen := &ScriptedGenerator{Turns: [][]ScriptStep{{
		{Token: "start"},
		{Token: "slow", Delay: 5 * time.Second},
		{Done: true},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := gen.Generate(ctx, Request{})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "start", ev.Token)
	cancel()

	select {
	case ev, open := <-events:
		assert.False(t, open, "expected closed channel, got %+v", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestScriptedGeneratorExhaustedTurnsEmitDone(t *testing.T) {
	gen := &ScriptedGenerator{}
	events, err := gen.Generate(context.Background(), Request{})
	require.NoError(t, err)

	ev := <-events
	assert.True(t, ev.Done)
}

func TestScriptedSummarizer(t *testing.T) {
	s := &ScriptedSummarizer{Text: "short version"}
	text, err := s.Summarize(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "short version", text)

	s.Fail = errors.New("down")
	_, err = s.Summarize(context.Background(), "", nil)
	assert.Error(t, err)
}
