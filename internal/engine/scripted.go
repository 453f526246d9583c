package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"questweaver/server/internal/state"
)

// ScriptStep is one step of a scripted turn: a token, a tool call, or a
// terminal done/error. Steps with Delay pause before emitting, which
// lets tests exercise aborts and timeouts.
type ScriptStep struct {
	Token    string
	ToolName string
	ToolArgs json.RawMessage
	Done     bool
	Err      error
	Delay    time.Duration
}

// ScriptedGenerator replays canned turns. Each Generate call consumes
// the next script in order; calls beyond the script list emit a single
// Done. It exists for tests and local development without a model.
type ScriptedGenerator struct {
	Turns [][]ScriptStep

	mu    sync.Mutex
	calls int
}

// Calls reports how many turns have been started.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *ScriptedGenerator) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	g.mu.Lock()
	var script []ScriptStep
	if g.calls < len(g.Turns) {
		script = g.Turns[g.calls]
	}
	g.calls++
	g.mu.Unlock()

	events := make(chan Event)
	go func() {
		defer close(events)

		for _, step := range script {
			if step.Delay > 0 {
				select {
				case <-time.After(step.Delay):
				case <-ctx.Done():
					return
				}
			}

			ev := Event{Token: step.Token, Done: step.Done, Err: step.Err}
			if step.ToolName != "" {
				ev.Tool = &ToolCall{
					ID:     step.ToolName + "-call",
					Name:   step.ToolName,
					Args:   step.ToolArgs,
					Result: make(chan ToolResult, 1),
				}
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}

			if ev.Tool != nil {
				select {
				case <-ev.Tool.Result:
				case <-ctx.Done():
					return
				}
			}
			if step.Done || step.Err != nil {
				return
			}
		}

		select {
		case events <- Event{Done: true}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// ScriptedSummarizer returns a fixed summary, or an error when Fail is
// set. Tests use it to drive recap and compaction paths.
type ScriptedSummarizer struct {
	Text string
	Fail error
}

func (s *ScriptedSummarizer) Summarize(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error) {
	if s.Fail != nil {
		return "", s.Fail
	}
	return s.Text, nil
}
