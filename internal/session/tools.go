package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"questweaver/server/internal/combat"
	"questweaver/server/internal/dice"
	"questweaver/server/internal/engine"
	"questweaver/server/internal/panels"
	"questweaver/server/internal/protocol"
	"questweaver/server/internal/state"
)

// incapacitatingConditions are the condition strings that take a
// combatant out of the turn rotation.
var incapacitatingConditions = []string{
	"unconscious", "dead", "incapacitated", "paralyzed", "petrified",
}

// dispatchTool applies one tool call to the adventure state and replies
// on the call's result channel. The generator blocks on that reply, so
// every state change lands before the next token streams. Tool failures
// are reported back to the generator as tool errors, never to the
// player as connection errors.
func (c *Controller) dispatchTool(call *engine.ToolCall) {
	c.sendStream(protocol.ToolStatus{
		Type:        protocol.TypeToolStatus,
		State:       protocol.ToolStatusActive,
		Description: toolLabel(call.Name),
	})

	result := c.applyTool(call)

	c.sendStream(protocol.ToolStatus{Type: protocol.TypeToolStatus, State: protocol.ToolStatusIdle})

	select {
	case call.Result <- result:
	default:
		log.Printf("[Session] Tool result channel refused write (adventure=%s, tool=%s)", c.adventureID, call.Name)
	}
}

func (c *Controller) applyTool(call *engine.ToolCall) engine.ToolResult {
	switch call.Name {
	case engine.ToolRollDice:
		return c.toolRollDice(call.Args)
	case engine.ToolStartCombat:
		return c.toolStartCombat(call.Args)
	case engine.ToolNextTurn:
		return c.toolNextTurn()
	case engine.ToolEndCombat:
		return c.toolEndCombat()
	case engine.ToolCreatePanel:
		return c.toolCreatePanel(call.Args)
	case engine.ToolUpdatePanel:
		return c.toolUpdatePanel(call.Args)
	case engine.ToolDismissPanel:
		return c.toolDismissPanel(call.Args)
	case engine.ToolChangeTheme:
		return c.toolChangeTheme(call.Args)
	default:
		return toolError(fmt.Sprintf("unknown tool: %s", call.Name))
	}
}

func (c *Controller) toolRollDice(args json.RawMessage) engine.ToolResult {
	var params struct {
		Expression string `json:"expression"`
		Context    string `json:"context"`
		Hidden     bool   `json:"hidden"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid roll_dice arguments: " + err.Error())
	}

	result, err := dice.Roll(params.Expression)
	if err != nil {
		return toolError(err.Error())
	}

	// Every roll lands in the audit trail, hidden or not.
	c.st.AppendDiceRoll(result.Expression, result.Rolls, result.Total, params.Context, !params.Hidden, state.DiceRequestedByGM)

	if !params.Hidden {
		c.sendStream(protocol.ToolStatus{
			Type:        protocol.TypeToolStatus,
			State:       protocol.ToolStatusActive,
			Description: describeRoll(result, params.Context),
		})
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return toolError("failed to encode roll result: " + err.Error())
	}
	return engine.ToolResult{Content: string(payload)}
}

func (c *Controller) toolStartCombat(args json.RawMessage) engine.ToolResult {
	var params struct {
		Combatants []struct {
			Name       string   `json:"name"`
			Initiative *int     `json:"initiative"`
			IsPlayer   bool     `json:"is_player"`
			Conditions []string `json:"conditions"`
		} `json:"combatants"`
		Structure string `json:"structure"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid start_combat arguments: " + err.Error())
	}

	combatants := make([]combat.Combatant, 0, len(params.Combatants))
	for _, cb := range params.Combatants {
		initiative := 0
		if cb.Initiative != nil {
			initiative = *cb.Initiative
		} else {
			// The narrator left initiative open; roll it here and log
			// the roll as system-requested.
			roll, err := dice.Roll("1d20")
			if err != nil {
				return toolError("failed to roll initiative: " + err.Error())
			}
			initiative = roll.Total
			c.st.AppendDiceRoll(roll.Expression, roll.Rolls, roll.Total,
				fmt.Sprintf("initiative for %s", cb.Name), true, state.DiceRequestedBySystem)
		}
		combatants = append(combatants, combat.Combatant{
			Name:       cb.Name,
			Initiative: initiative,
			IsPlayer:   cb.IsPlayer,
			Conditions: cb.Conditions,
		})
	}

	structure := combat.Structure(params.Structure)
	if structure == "" {
		structure = combat.StructureInitiative
	}

	cs, err := combat.Start(combatants, structure)
	if err != nil {
		return toolError(err.Error())
	}
	c.st.Combat = cs

	current, _ := cs.Current()
	return toolOK(fmt.Sprintf("combat started, round %d, %s acts first", cs.Round, current.Name))
}

func (c *Controller) toolNextTurn() engine.ToolResult {
	if c.st.Combat == nil {
		return toolError(combat.ErrNotActive.Error())
	}

	err := combat.NextTurn(c.st.Combat, c.isIncapacitated)
	if err != nil {
		// Reported as a structured tool failure so the narrator can
		// react in prose; combat state is unchanged.
		return toolError(err.Error())
	}

	current, err := c.st.Combat.Current()
	if err != nil {
		return toolError(err.Error())
	}
	return toolOK(fmt.Sprintf("round %d, it is %s's turn", c.st.Combat.Round, current.Name))
}

func (c *Controller) toolEndCombat() engine.ToolResult {
	if c.st.Combat == nil {
		return toolError(combat.ErrNotActive.Error())
	}
	if err := combat.End(c.st.Combat); err != nil {
		return toolError(err.Error())
	}
	c.st.Combat = nil
	return toolOK("combat ended")
}

func (c *Controller) isIncapacitated(cb combat.Combatant) bool {
	for _, cond := range cb.Conditions {
		for _, bad := range incapacitatingConditions {
			if strings.EqualFold(cond, bad) {
				return true
			}
		}
	}
	return false
}

func (c *Controller) toolCreatePanel(args json.RawMessage) engine.ToolResult {
	var params struct {
		ID         string   `json:"id"`
		Title      string   `json:"title"`
		Content    string   `json:"content"`
		Position   string   `json:"position"`
		Persistent bool     `json:"persistent"`
		X          *float64 `json:"x"`
		Y          *float64 `json:"y"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid create_panel arguments: " + err.Error())
	}

	panel := panels.Panel{
		ID:         params.ID,
		Title:      params.Title,
		Content:    params.Content,
		Position:   panels.Position(params.Position),
		Persistent: params.Persistent,
		X:          params.X,
		Y:          params.Y,
		CreatedAt:  time.Now().UTC(),
	}

	if verr := protocol.ValidatePanel(panel); verr != nil {
		return toolError(verr.Error())
	}
	if err := c.panelReg.Create(panel); err != nil {
		return toolError(err.Error())
	}
	c.st.Panels = c.panelReg.List()

	c.sendStream(protocol.PanelCreate{Type: protocol.TypePanelCreate, Panel: panel})
	return toolOK(fmt.Sprintf("panel %q created", panel.ID))
}

func (c *Controller) toolUpdatePanel(args json.RawMessage) engine.ToolResult {
	var params struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid update_panel arguments: " + err.Error())
	}
	if verr := protocol.ValidatePanelContent(params.Content); verr != nil {
		return toolError(verr.Error())
	}

	panel, err := c.panelReg.Update(params.ID, params.Content)
	if err != nil {
		return toolError(err.Error())
	}
	c.st.Panels = c.panelReg.List()

	c.sendStream(protocol.PanelUpdate{Type: protocol.TypePanelUpdate, ID: panel.ID, Content: panel.Content})
	return toolOK(fmt.Sprintf("panel %q updated", panel.ID))
}

func (c *Controller) toolDismissPanel(args json.RawMessage) engine.ToolResult {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid dismiss_panel arguments: " + err.Error())
	}

	if err := c.panelReg.Dismiss(params.ID); err != nil {
		return toolError(err.Error())
	}
	c.st.Panels = c.panelReg.List()

	c.sendStream(protocol.PanelDismiss{Type: protocol.TypePanelDismiss, ID: params.ID})
	return toolOK(fmt.Sprintf("panel %q dismissed", params.ID))
}

func (c *Controller) toolChangeTheme(args json.RawMessage) engine.ToolResult {
	var params struct {
		Mood               string `json:"mood"`
		Genre              string `json:"genre"`
		Region             string `json:"region"`
		TransitionDuration int    `json:"transition_duration"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return toolError("invalid change_theme arguments: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err := c.registry.deps.Themes.Resolve(ctx, params.Mood, params.Genre, params.Region)
	if err != nil {
		// Theme changes degrade gracefully: relay without a background.
		log.Printf("[Session] Background lookup failed (adventure=%s): %v", c.adventureID, err)
		url = ""
	}

	c.sendStream(protocol.ThemeChange{
		Type:               protocol.TypeThemeChange,
		Mood:               params.Mood,
		Genre:              params.Genre,
		Region:             params.Region,
		BackgroundURL:      url,
		TransitionDuration: params.TransitionDuration,
	})
	return toolOK("theme changed")
}

func toolOK(content string) engine.ToolResult {
	return engine.ToolResult{Content: content}
}

func toolError(msg string) engine.ToolResult {
	return engine.ToolResult{Content: msg, IsError: true}
}

// toolLabel is the player-facing activity description for a tool.
func toolLabel(name string) string {
	switch name {
	case engine.ToolRollDice:
		return "Rolling dice"
	case engine.ToolStartCombat:
		return "Setting up combat"
	case engine.ToolNextTurn:
		return "Advancing combat"
	case engine.ToolEndCombat:
		return "Wrapping up combat"
	case engine.ToolCreatePanel, engine.ToolUpdatePanel, engine.ToolDismissPanel:
		return "Updating panels"
	case engine.ToolChangeTheme:
		return "Shifting the scene"
	default:
		return "Working"
	}
}

func describeRoll(result dice.Result, rollContext string) string {
	desc := fmt.Sprintf("Rolled %s: %v = %d", result.Expression, result.Rolls, result.Total)
	if rollContext != "" {
		desc = fmt.Sprintf("%s (%s)", desc, rollContext)
	}
	return desc
}
