package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"questweaver/server/internal/engine"
	"questweaver/server/internal/panels"
	"questweaver/server/internal/protocol"
	"questweaver/server/internal/state"
	"questweaver/server/internal/storage"
)

type phase int

const (
	phaseAwaitingAuth phase = iota
	phaseIdle
	phaseGenerating
	phaseClosed
)

// maxValidationStrikes is how many consecutive malformed frames a
// connection may send before it is closed.
const maxValidationStrikes = 10

const persistTimeout = 10 * time.Second

type inboundFrame struct {
	conn Conn
	data []byte
}

// Controller is the per-adventure session state machine. Its event loop
// is the single logical thread of control for the adventure: client
// frames, generator events, transport attach/detach, and timer expiries
// all arrive on channels and are handled one at a time.
type Controller struct {
	registry *Registry

	attachCh   chan Conn
	detachCh   chan Conn
	inbound    chan inboundFrame
	shutdownCh chan struct{}
	doneCh     chan struct{}
	once       sync.Once

	// Everything below is owned by the run loop.
	adventureID  string
	st           *state.AdventureState
	panelReg     *panels.Registry
	conn         Conn
	authed       bool
	pendingToken string
	ph           phase
	strikes      int

	genCancel     context.CancelFunc
	genEvents     <-chan engine.Event
	genMsgID      string
	genText       strings.Builder
	genAborted    bool
	genTimer      *time.Timer
	genTimeoutC   <-chan time.Time
	closeAfterGen bool

	graceTimer *time.Timer
	graceC     <-chan time.Time
}

func newController(adventureID string, registry *Registry) *Controller {
	return &Controller{
		registry:    registry,
		adventureID: adventureID,
		attachCh:    make(chan Conn, 4),
		detachCh:    make(chan Conn, 4),
		inbound:     make(chan inboundFrame, 32),
		shutdownCh:  make(chan struct{}),
		doneCh:      make(chan struct{}),
		panelReg:    panels.NewRegistry(),
		ph:          phaseAwaitingAuth,
	}
}

// Attach hands a new transport to the controller. A controller that
// has already torn down closes the connection instead of queueing it.
func (c *Controller) Attach(conn Conn) {
	select {
	case <-c.doneCh:
		conn.Close()
		return
	default:
	}
	select {
	case c.attachCh <- conn:
	case <-c.doneCh:
		conn.Close()
	}
}

// Detach reports transport loss for the given connection.
func (c *Controller) Detach(conn Conn) {
	select {
	case c.detachCh <- conn:
	case <-c.doneCh:
	}
}

// HandleFrame delivers one raw client frame.
func (c *Controller) HandleFrame(conn Conn, data []byte) {
	select {
	case c.inbound <- inboundFrame{conn: conn, data: data}:
	case <-c.doneCh:
	}
}

// Shutdown asks the controller to persist and exit.
func (c *Controller) Shutdown() {
	c.once.Do(func() { close(c.shutdownCh) })
}

// Done is closed once the controller has fully torn down.
func (c *Controller) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Controller) run() {
	for {
		select {
		case conn := <-c.attachCh:
			c.handleAttach(conn)
		case conn := <-c.detachCh:
			c.handleDetach(conn)
		case frame := <-c.inbound:
			c.drainAttach()
			c.handleFrame(frame)
		case ev, ok := <-c.genEvents:
			c.handleGenEvent(ev, ok)
		case <-c.genTimeoutC:
			c.handleGenTimeout()
		case <-c.graceC:
			c.handleGraceExpired()
		case <-c.shutdownCh:
			c.teardown()
		}

		if c.ph == phaseClosed {
			return
		}
	}
}

// --- transport lifecycle ---

// drainAttach binds any transport whose attach event is still queued.
// An attach is always enqueued before the first frame from that
// connection, so a frame must never be judged against c.conn while its
// attach waits behind it.
func (c *Controller) drainAttach() {
	for {
		select {
		case conn := <-c.attachCh:
			c.handleAttach(conn)
		default:
			return
		}
	}
}

func (c *Controller) handleAttach(conn Conn) {
	if c.conn != nil && c.conn != conn {
		// A newer connection for the same adventure wins.
		c.conn.Close()
	}
	c.conn = conn
	c.authed = false
	c.strikes = 0
	c.closeAfterGen = false
	c.stopGrace()
	log.Printf("[Session] Transport attached (adventure=%s)", c.adventureID)
}

func (c *Controller) handleDetach(conn Conn) {
	if conn != c.conn {
		return
	}
	c.conn = nil
	c.authed = false

	if c.st == nil {
		// Nothing to keep alive for a session that never bound an
		// adventure.
		c.teardown()
		return
	}

	c.startGrace()
	log.Printf("[Session] Transport lost, reconnect window open (adventure=%s, generating=%v)",
		c.adventureID, c.ph == phaseGenerating)
}

func (c *Controller) handleGraceExpired() {
	c.graceC = nil
	c.graceTimer = nil

	if c.ph == phaseGenerating {
		// Never drop work in flight: finish the turn, persist it, then
		// close. The response is delivered on the next reconnect.
		c.closeAfterGen = true
		return
	}
	log.Printf("[Session] Reconnect window expired (adventure=%s)", c.adventureID)
	c.teardown()
}

func (c *Controller) startGrace() {
	c.stopGrace()
	c.graceTimer = time.NewTimer(c.registry.opts.ReconnectGrace)
	c.graceC = c.graceTimer.C
}

func (c *Controller) stopGrace() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.graceC = nil
}

func (c *Controller) teardown() {
	if c.ph == phaseClosed {
		return
	}

	if c.genCancel != nil {
		// A cancelled generation is discarded, never persisted.
		c.genCancel()
		c.genCancel = nil
	}
	c.stopGenTimer()
	c.stopGrace()

	if c.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := c.registry.deps.Store.Save(ctx, c.st); err != nil {
			log.Printf("[Session] Final save failed (adventure=%s): %v", c.adventureID, err)
		}
		cancel()

		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.registry.deps.Redis.ClearLive(ctx, c.adventureID)
		cancel()
	}

	c.registry.remove(c.adventureID, c)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.ph = phaseClosed
	c.once.Do(func() { close(c.shutdownCh) })
	close(c.doneCh)

	// The loop stops servicing channels now; close any attach that
	// slipped in before doneCh closed.
	for {
		select {
		case conn := <-c.attachCh:
			conn.Close()
		default:
			log.Printf("[Session] Controller closed (adventure=%s)", c.adventureID)
			return
		}
	}
}

// --- client frames ---

func (c *Controller) handleFrame(frame inboundFrame) {
	if frame.conn != c.conn {
		// Stale frame from a replaced connection.
		return
	}

	msg, verr := protocol.DecodeClient(frame.data)
	if verr != nil {
		c.strikes++
		c.sendError(protocol.CodeValidation, verr.Error(), true, "")
		if c.strikes >= maxValidationStrikes {
			log.Printf("[Session] Closing connection after %d malformed frames (adventure=%s)", c.strikes, c.adventureID)
			c.conn.Close()
		}
		return
	}
	c.strikes = 0

	switch m := msg.(type) {
	case protocol.Ping:
		c.send(protocol.Pong{Type: protocol.TypePong})
	case protocol.Authenticate:
		c.handleAuthenticate(m)
	case protocol.StartAdventure:
		c.handleStartAdventure(m)
	case protocol.PlayerInput:
		c.handlePlayerInput(m)
	case protocol.Abort:
		c.handleAbort()
	case protocol.Recap:
		c.handleRecap()
	}
}

func (c *Controller) handleAuthenticate(m protocol.Authenticate) {
	if c.st != nil && m.AdventureID != "" && m.AdventureID != c.adventureID {
		c.sendError(protocol.CodeValidation, "session is bound to a different adventure", true, "")
		return
	}

	target := m.AdventureID
	if target == "" {
		target = c.adventureID
	}

	if target == "" {
		// No adventure named anywhere: hold the token for a following
		// start_adventure.
		c.pendingToken = m.Token
		c.authed = true
		c.send(protocol.Authenticated{Type: protocol.TypeAuthenticated})
		return
	}

	if c.st == nil {
		if !c.loadAdventure(target) {
			return
		}
	}

	if subtle.ConstantTimeCompare([]byte(m.Token), []byte(c.st.Token)) != 1 {
		c.sendError(protocol.CodeInvalidToken, "invalid session token", false, "")
		c.conn.Close()
		return
	}

	c.finishAuth()
}

// loadAdventure hydrates state from the store. Returns false after
// surfacing a failure to the client.
func (c *Controller) loadAdventure(adventureID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	st, err := c.registry.deps.Store.Load(ctx, adventureID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.sendError(protocol.CodeAdventureNotFound, "adventure not found", false, "")
		c.conn.Close()
		return false
	case errors.Is(err, storage.ErrCorrupted):
		c.sendError(protocol.CodeStateCorrupted, "adventure state is corrupted and cannot be loaded", false, err.Error())
		c.conn.Close()
		return false
	case err != nil:
		c.sendError(protocol.CodeProcessingTimeout, "failed to load adventure, please retry", true, err.Error())
		return false
	}

	c.st = st
	c.adventureID = st.ID
	c.panelReg.Restore(st.Panels)
	c.st.Panels = c.panelReg.List()
	c.registry.bind(st.ID, c)
	return true
}

func (c *Controller) finishAuth() {
	c.authed = true
	if c.ph == phaseAwaitingAuth {
		c.ph = phaseIdle
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := c.registry.deps.Redis.MarkLive(ctx, c.adventureID, c.registry.opts.ReconnectGrace*2); err != nil {
		log.Printf("[Session] Failed to mark presence (adventure=%s): %v", c.adventureID, err)
	}
	cancel()

	c.send(protocol.Authenticated{Type: protocol.TypeAuthenticated, AdventureID: c.adventureID})
	c.sendAdventureLoaded()
}

func (c *Controller) handleStartAdventure(m protocol.StartAdventure) {
	if !c.authed {
		c.sendError(protocol.CodeValidation, "authenticate before starting an adventure", true, "")
		return
	}

	if c.st != nil {
		// Idempotent: an already-bound session just replays its state.
		if m.AdventureID != "" && m.AdventureID != c.adventureID {
			c.sendError(protocol.CodeValidation, "session is bound to a different adventure", true, "")
			return
		}
		c.sendAdventureLoaded()
		return
	}

	if m.AdventureID != "" {
		if !c.loadAdventure(m.AdventureID) {
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.pendingToken), []byte(c.st.Token)) != 1 {
			c.sendError(protocol.CodeInvalidToken, "invalid session token", false, "")
			c.conn.Close()
			return
		}
		c.finishAuth()
		return
	}

	st := state.New(c.pendingToken)
	c.st = st
	c.adventureID = st.ID
	c.registry.bind(st.ID, c)
	c.ph = phaseIdle
	c.persist()
	log.Printf("[Session] Adventure created (adventure=%s)", c.adventureID)
	c.send(protocol.Authenticated{Type: protocol.TypeAuthenticated, AdventureID: c.adventureID})
	c.sendAdventureLoaded()
}

func (c *Controller) handlePlayerInput(m protocol.PlayerInput) {
	if !c.authed || c.st == nil {
		c.sendError(protocol.CodeValidation, "not authenticated", true, "")
		return
	}
	if c.ph == phaseGenerating {
		// Single-slot: no input queue. The client resends once the
		// in-flight turn ends.
		c.sendError(protocol.CodeProcessingTimeout, "a response is already being generated", true, "")
		return
	}

	if !c.allowTurn() {
		return
	}

	c.st.AppendEntry(state.EntryPlayerInput, m.Text)
	c.startGeneration()
}

func (c *Controller) allowTurn() bool {
	opts := c.registry.opts
	if c.registry.deps.Redis == nil || opts.TurnLimit <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	allowed, wait, err := c.registry.deps.Redis.AllowTurn(ctx, c.adventureID, opts.TurnLimit, opts.TurnWindow)
	if err != nil {
		// Fail open: a limiter outage must not block play.
		log.Printf("[Session] Turn limiter unavailable (adventure=%s): %v", c.adventureID, err)
		return true
	}
	if !allowed {
		c.send(protocol.ErrorMessage{
			Type:         protocol.TypeError,
			Code:         protocol.CodeRateLimit,
			Message:      "too many turns, slow down",
			Retryable:    true,
			RetryAfterMS: int(wait.Milliseconds()),
		})
		return false
	}
	return true
}

// --- generation ---

func (c *Controller) startGeneration() {
	summary := ""
	if c.st.History.Summary != nil {
		summary = c.st.History.Summary.Text
	}

	genCtx, cancel := context.WithCancel(context.Background())
	events, err := c.registry.deps.Generator.Generate(genCtx, engine.Request{
		Summary: summary,
		Entries: c.st.History.Entries,
	})
	if err != nil {
		cancel()
		c.sendError(protocol.CodeGMError, "the game master is unavailable, please retry", true, err.Error())
		return
	}

	c.genCancel = cancel
	c.genEvents = events
	c.genMsgID = uuid.NewString()
	c.genText.Reset()
	c.genAborted = false
	c.ph = phaseGenerating

	c.send(protocol.GMResponseStart{Type: protocol.TypeGMResponseStart, MessageID: c.genMsgID})
	c.resetGenTimer()
}

func (c *Controller) handleGenEvent(ev engine.Event, ok bool) {
	if !ok {
		// Producer closed without a terminal event: an abort finishing
		// its cleanup, or an unexpected death.
		if c.genAborted {
			c.endTurn(false)
		} else {
			c.endTurn(false)
			c.sendError(protocol.CodeGMError, "generation ended unexpectedly", true, "")
		}
		return
	}

	c.resetGenTimer()

	switch {
	case ev.Err != nil:
		c.endTurn(false)
		c.sendError(protocol.CodeGMError, "the game master failed to respond", true, ev.Err.Error())
	case ev.Tool != nil:
		c.dispatchTool(ev.Tool)
	case ev.Done:
		c.endTurn(true)
	case ev.Token != "":
		c.genText.WriteString(ev.Token)
		if !c.genAborted {
			c.sendStream(protocol.GMResponseChunk{Type: protocol.TypeGMResponseChunk, MessageID: c.genMsgID, Text: ev.Token})
		}
	}
}

// endTurn closes out the in-flight generation. When commit is true the
// buffered response becomes a narrative entry and is persisted; aborted
// or failed turns are discarded.
func (c *Controller) endTurn(commit bool) {
	if commit && !c.genAborted {
		if text := c.genText.String(); text != "" {
			c.st.AppendEntry(state.EntryGMResponse, text)
		}
		c.persist()
	}

	c.sendStream(protocol.GMResponseEnd{Type: protocol.TypeGMResponseEnd, MessageID: c.genMsgID})

	if c.genCancel != nil {
		c.genCancel()
		c.genCancel = nil
	}
	c.genEvents = nil
	c.stopGenTimer()
	c.genText.Reset()
	c.genAborted = false
	c.ph = phaseIdle

	if c.closeAfterGen {
		c.teardown()
	}
}

func (c *Controller) handleAbort() {
	if c.ph != phaseGenerating || c.genAborted {
		// Idempotent: abort while idle is a no-op.
		return
	}
	log.Printf("[Session] Aborting generation (adventure=%s, message=%s)", c.adventureID, c.genMsgID)
	c.genAborted = true
	c.genCancel()
	// Cooperative cancel: the producer observes ctx and closes the
	// channel; endTurn runs from the closed-channel event.
}

func (c *Controller) handleGenTimeout() {
	if c.ph != phaseGenerating {
		return
	}
	log.Printf("[Session] Generation timed out (adventure=%s, message=%s)", c.adventureID, c.genMsgID)
	c.genAborted = true
	c.endTurn(false)
	c.sendError(protocol.CodeGMError, "the game master timed out", true, "")
}

func (c *Controller) resetGenTimer() {
	c.stopGenTimer()
	c.genTimer = time.NewTimer(c.registry.opts.GenerationTimeout)
	c.genTimeoutC = c.genTimer.C
}

func (c *Controller) stopGenTimer() {
	if c.genTimer != nil {
		c.genTimer.Stop()
		c.genTimer = nil
	}
	c.genTimeoutC = nil
}

// --- recap ---

func (c *Controller) handleRecap() {
	if !c.authed || c.st == nil {
		c.sendError(protocol.CodeValidation, "not authenticated", true, "")
		return
	}
	if c.ph != phaseIdle {
		c.sendError(protocol.CodeProcessingTimeout, "recap is only available between turns", true, "")
		return
	}
	if len(c.st.History.Entries) == 0 {
		c.send(protocol.RecapError{Type: protocol.TypeRecapError, Reason: "no narrative history to summarize"})
		return
	}

	c.send(protocol.RecapStarted{Type: protocol.TypeRecapStarted})

	ctx, cancel := context.WithTimeout(context.Background(), c.registry.opts.GenerationTimeout)
	defer cancel()

	// All-or-nothing: Compact leaves entries untouched on failure.
	if err := c.st.Compact(ctx, c.registry.deps.Summarizer.Summarize, 0); err != nil {
		log.Printf("[Session] Recap failed (adventure=%s): %v", c.adventureID, err)
		c.send(protocol.RecapError{Type: protocol.TypeRecapError, Reason: "summarization failed"})
		return
	}

	c.persist()
	c.send(protocol.RecapComplete{
		Type:    protocol.TypeRecapComplete,
		History: c.st.History.Entries,
		Summary: c.st.History.Summary,
	})
}

// --- outbound ---

func (c *Controller) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.registry.deps.Store.Save(ctx, c.st); err != nil {
		log.Printf("[Session] Save failed (adventure=%s): %v", c.adventureID, err)
		c.sendError(protocol.CodeProcessingTimeout, "failed to persist adventure state", true, err.Error())
	}
}

func (c *Controller) sendAdventureLoaded() {
	c.send(protocol.AdventureLoaded{
		Type:        protocol.TypeAdventureLoaded,
		AdventureID: c.adventureID,
		History:     c.st.History.Entries,
		Summary:     c.st.History.Summary,
		Panels:      c.panelReg.List(),
		Combat:      c.st.Combat,
	})
}

func (c *Controller) sendError(code protocol.ErrorCode, message string, retryable bool, details string) {
	c.send(protocol.ErrorMessage{
		Type:             protocol.TypeError,
		Code:             code,
		Message:          message,
		Retryable:        retryable,
		TechnicalDetails: details,
	})
}

// sendStream relays a generation-stream frame. Unlike send it requires
// an authenticated transport: after a mid-generation reconnect, nothing
// streams until the token handshake completes, and the client catches
// up from the adventure_loaded replay instead.
func (c *Controller) sendStream(msg interface{}) {
	if !c.authed {
		return
	}
	c.send(msg)
}

func (c *Controller) send(msg interface{}) {
	if c.conn == nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("[Session] Failed to encode outbound message (adventure=%s): %v", c.adventureID, err)
		return
	}
	if !c.conn.Send(data) {
		log.Printf("[Session] Outbound buffer full, dropping connection (adventure=%s)", c.adventureID)
		c.conn.Close()
	}
}
