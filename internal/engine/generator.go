// Package engine wraps the external narrative generator. The core does
// not inspect token content; it relays tokens and reacts to structured
// tool invocations.
package engine

import (
	"context"
	"encoding/json"

	"questweaver/server/internal/state"
)

// ToolResult is the consumer's answer to a tool invocation. IsError
// reports a recoverable tool failure (e.g. panel capacity) back to the
// generator without failing the turn.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolCall is a structured side-effect request emitted mid-stream. The
// producer blocks on Result until the consumer has applied the
// corresponding micro-engine transition, which keeps tool effects
// synchronous with respect to the token stream.
type ToolCall struct {
	ID     string
	Name   string
	Args   json.RawMessage
	Result chan ToolResult
}

// Event is one element of a generation stream: exactly one of Token,
// Tool, Done, or Err is set. The channel is closed after Done or Err,
// or without either when the context is cancelled.
type Event struct {
	Token string
	Tool  *ToolCall
	Done  bool
	Err   error
}

// Request carries the conversation context for one turn. Entries
// already include the player input that triggered the turn.
type Request struct {
	SystemPrompt string
	Summary      string
	Entries      []state.NarrativeEntry
}

// Generator produces a cancellable stream of narrative events.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Event, error)
}

// Summarizer folds narrative entries (and any prior summary) into a
// single prose summary. Used by explicit recap and save-time compaction.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error)
}
