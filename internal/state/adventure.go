package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"questweaver/server/internal/combat"
	"questweaver/server/internal/panels"
)

// EntryKind distinguishes who authored a narrative entry.
type EntryKind string

const (
	EntryPlayerInput EntryKind = "player_input"
	EntryGMResponse  EntryKind = "gm_response"
)

// NarrativeEntry is one immutable line of the adventure transcript.
// Entries are ordered by append sequence; the ID is used for idempotent
// client-side reconciliation after a reconnect.
type NarrativeEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EntryKind `json:"kind"`
	Text      string    `json:"text"`
}

// HistorySummary is the sole surviving trace of archived entries.
// Once entries are folded into a summary they are discarded for good.
type HistorySummary struct {
	GeneratedAt     time.Time `json:"generated_at"`
	EntriesArchived int       `json:"entries_archived"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Text            string    `json:"text"`
}

// NarrativeHistory holds the live transcript tail plus an optional
// summary of everything archived so far.
type NarrativeHistory struct {
	Entries []NarrativeEntry `json:"entries"`
	Summary *HistorySummary  `json:"summary,omitempty"`
}

// DiceRequester identifies who asked for a roll.
type DiceRequester string

const (
	DiceRequestedByGM     DiceRequester = "gm"
	DiceRequestedBySystem DiceRequester = "system"
)

// DiceLogEntry is one record of the append-only dice audit trail.
// Hidden rolls are logged the same as visible ones; visibility only
// gates what is relayed to the player-facing transcript.
type DiceLogEntry struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Expression      string        `json:"expression"`
	IndividualRolls []int         `json:"individual_rolls"`
	Total           int           `json:"total"`
	Context         string        `json:"context,omitempty"`
	Visible         bool          `json:"visible"`
	RequestedBy     DiceRequester `json:"requested_by"`
}

// AdventureState is the aggregate root for one adventure. It is mutated
// exclusively by the session controller that owns the adventure's single
// active connection, so no internal locking is needed.
type AdventureState struct {
	ID        string           `json:"id"`
	Token     string           `json:"session_token"`
	History   NarrativeHistory `json:"history"`
	Combat    *combat.State    `json:"combat,omitempty"`
	Panels    []panels.Panel   `json:"panels"`
	DiceLog   []DiceLogEntry   `json:"dice_log"`
	Character json.RawMessage  `json:"character,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// New creates a fresh adventure owning the given session token.
func New(token string) *AdventureState {
	now := time.Now().UTC()
	return &AdventureState{
		ID:        uuid.NewString(),
		Token:     token,
		Panels:    []panels.Panel{},
		DiceLog:   []DiceLogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendEntry appends an immutable narrative entry and returns it.
func (s *AdventureState) AppendEntry(kind EntryKind, text string) NarrativeEntry {
	entry := NarrativeEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Text:      text,
	}
	s.History.Entries = append(s.History.Entries, entry)
	s.UpdatedAt = entry.Timestamp
	return entry
}

// AppendDiceRoll appends a roll to the audit trail and returns the entry.
func (s *AdventureState) AppendDiceRoll(expression string, rolls []int, total int, rollContext string, visible bool, by DiceRequester) DiceLogEntry {
	entry := DiceLogEntry{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Expression:      expression,
		IndividualRolls: rolls,
		Total:           total,
		Context:         rollContext,
		Visible:         visible,
		RequestedBy:     by,
	}
	s.DiceLog = append(s.DiceLog, entry)
	s.UpdatedAt = entry.Timestamp
	return entry
}

// Summarize produces a prose summary of the given entries, folding in
// the prior summary text when present. Implementations call out to the
// narrative generator and must respect ctx cancellation.
type Summarize func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error)

// Compact archives all but the newest keepTail entries into the history
// summary. It is all-or-nothing: on summarization failure the entries
// are left untouched and the error is returned. Compacting a history
// with keepTail or fewer entries is a no-op.
func (s *AdventureState) Compact(ctx context.Context, summarize Summarize, keepTail int) error {
	if keepTail < 0 {
		keepTail = 0
	}
	if len(s.History.Entries) <= keepTail {
		return nil
	}

	archived := s.History.Entries[:len(s.History.Entries)-keepTail]
	tail := s.History.Entries[len(s.History.Entries)-keepTail:]

	prior := ""
	if s.History.Summary != nil {
		prior = s.History.Summary.Text
	}

	text, err := summarize(ctx, prior, archived)
	if err != nil {
		return fmt.Errorf("failed to summarize %d entries: %w", len(archived), err)
	}

	summary := &HistorySummary{
		GeneratedAt:     time.Now().UTC(),
		EntriesArchived: len(archived),
		From:            archived[0].Timestamp,
		To:              archived[len(archived)-1].Timestamp,
		Text:            text,
	}
	if s.History.Summary != nil {
		summary.EntriesArchived += s.History.Summary.EntriesArchived
		if s.History.Summary.From.Before(summary.From) {
			summary.From = s.History.Summary.From
		}
	}

	s.History.Summary = summary
	s.History.Entries = append([]NarrativeEntry{}, tail...)
	s.UpdatedAt = summary.GeneratedAt
	return nil
}
