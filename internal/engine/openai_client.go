package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"questweaver/server/internal/config"
	"questweaver/server/internal/state"
)

const (
	maxRetries   = 3
	retryDelay   = 1 * time.Second
	maxToolLoops = 8

	defaultSystemPrompt = "You are the game master of a tabletop-style " +
		"adventure. Narrate the world, voice its characters, and use the " +
		"available tools for dice rolls, combat tracking, panels, and " +
		"scene themes instead of inventing results."

	summaryPrompt = "Summarize the following adventure transcript into a " +
		"compact recap that preserves named characters, open plot threads, " +
		"acquired items, and unresolved consequences. Write plain prose."
)

// GMClient drives an OpenAI-compatible chat completion API as the
// narrative generator: it streams tokens, surfaces tool calls to the
// consumer, feeds tool results back, and continues until the model
// finishes the turn. It also implements Summarizer for recap and
// compaction.
type GMClient struct {
	client       *openai.Client
	model        string
	summaryModel string
	maxTokens    int
	temperature  float32
}

func NewGMClient(cfg config.AIConfig) *GMClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Model
	}

	return &GMClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		summaryModel: summaryModel,
		maxTokens:    cfg.MaxTokens,
		temperature:  float32(cfg.Temperature),
	}
}

// Generate starts one turn. The returned channel is closed when the
// turn completes, fails, or the context is cancelled.
func (c *GMClient) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	events := make(chan Event)
	go c.run(ctx, buildMessages(req), events)
	return events, nil
}

func (c *GMClient) run(ctx context.Context, messages []openai.ChatCompletionMessage, events chan<- Event) {
	defer close(events)

	for loop := 0; loop < maxToolLoops; loop++ {
		content, toolCalls, err := c.streamOnce(ctx, messages, events)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emit(ctx, events, Event{Err: err})
			return
		}

		if len(toolCalls) == 0 {
			c.emit(ctx, events, Event{Done: true})
			return
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			call := &ToolCall{
				ID:     tc.ID,
				Name:   tc.Function.Name,
				Args:   json.RawMessage(tc.Function.Arguments),
				Result: make(chan ToolResult, 1),
			}
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			if !c.emit(ctx, events, Event{Tool: call}) {
				return
			}

			var result ToolResult
			select {
			case result = <-call.Result:
			case <-ctx.Done():
				return
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result.Content,
			})
		}
	}

	c.emit(ctx, events, Event{Err: fmt.Errorf("generator exceeded %d tool loops", maxToolLoops)})
}

// streamOnce runs a single streamed completion, relaying tokens and
// accumulating any tool-call deltas.
func (c *GMClient) streamOnce(ctx context.Context, messages []openai.ChatCompletionMessage, events chan<- Event) (string, []openai.ToolCall, error) {
	stream, err := c.openStream(ctx, messages)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var content strings.Builder
	pending := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("stream read failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if !c.emit(ctx, events, Event{Token: delta.Content}) {
				return "", nil, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			acc, ok := pending[index]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	toolCalls := make([]openai.ToolCall, 0, len(pending))
	for _, i := range indexes {
		toolCalls = append(toolCalls, *pending[i])
	}

	return content.String(), toolCalls, nil
}

// openStream opens the completion stream, retrying transient failures
// with linear backoff.
func (c *GMClient) openStream(ctx context.Context, messages []openai.ChatCompletionMessage) (*openai.ChatCompletionStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Tools:       toolDefinitions,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		log.Printf("[GMClient] Stream open attempt %d failed: %v", attempt+1, err)
	}

	return nil, fmt.Errorf("failed to open generation stream: %w", lastErr)
}

// Summarize folds entries and any prior summary into one prose recap.
func (c *GMClient) Summarize(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error) {
	var transcript strings.Builder
	if prior != "" {
		transcript.WriteString("Previous summary:\n")
		transcript.WriteString(prior)
		transcript.WriteString("\n\n")
	}
	for _, entry := range entries {
		switch entry.Kind {
		case state.EntryPlayerInput:
			transcript.WriteString("Player: ")
		default:
			transcript.WriteString("GM: ")
		}
		transcript.WriteString(entry.Text)
		transcript.WriteString("\n")
	}

	req := openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript.String()},
		},
		MaxTokens: c.maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("summarization returned no choices")
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	return "", fmt.Errorf("failed to summarize after %d attempts: %w", maxRetries, lastErr)
}

// emit sends an event unless the context is cancelled first. It returns
// false when the send was abandoned.
func (c *GMClient) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	if req.Summary != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Story so far: " + req.Summary,
		})
	}
	for _, entry := range req.Entries {
		role := openai.ChatMessageRoleAssistant
		if entry.Kind == state.EntryPlayerInput {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: entry.Text,
		})
	}
	return messages
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "status code: 429") ||
		strings.Contains(msg, "status code: 5")
}
