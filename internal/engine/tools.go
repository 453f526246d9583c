package engine

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// Tool names form a closed set. The session controller dispatches them
// through a lookup table and rejects anything else explicitly.
const (
	ToolRollDice     = "roll_dice"
	ToolStartCombat  = "start_combat"
	ToolNextTurn     = "next_turn"
	ToolEndCombat    = "end_combat"
	ToolCreatePanel  = "create_panel"
	ToolUpdatePanel  = "update_panel"
	ToolDismissPanel = "dismiss_panel"
	ToolChangeTheme  = "change_theme"
)

var toolDefinitions = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolRollDice,
			Description: "Roll dice using standard notation, e.g. 2d6+3 or 4dF. Hidden rolls are logged but not shown to the player.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"expression": {"type": "string", "description": "Dice expression such as 1d20+5"},
					"context": {"type": "string", "description": "What the roll is for"},
					"hidden": {"type": "boolean", "description": "Hide the result from the player"}
				},
				"required": ["expression"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolStartCombat,
			Description: "Begin combat with an initiative order.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"combatants": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"name": {"type": "string"},
								"initiative": {"type": "integer"},
								"is_player": {"type": "boolean"},
								"conditions": {"type": "array", "items": {"type": "string"}}
							},
							"required": ["name", "initiative"]
						}
					}
				},
				"required": ["combatants"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolNextTurn,
			Description: "Advance combat to the next able combatant.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolEndCombat,
			Description: "End the current combat.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolCreatePanel,
			Description: "Create an informational panel. At most five panels may be live at once.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Short identifier, letters/digits/hyphens"},
					"title": {"type": "string"},
					"content": {"type": "string", "description": "Markdown body"},
					"position": {"type": "string", "enum": ["sidebar", "header", "overlay"]},
					"persistent": {"type": "boolean"},
					"x": {"type": "number", "description": "Overlay only, 0-100"},
					"y": {"type": "number", "description": "Overlay only, 0-100"}
				},
				"required": ["id", "title", "content", "position"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolUpdatePanel,
			Description: "Replace the content of an existing panel.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["id", "content"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolDismissPanel,
			Description: "Remove a panel.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"}
				},
				"required": ["id"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolChangeTheme,
			Description: "Shift the visual theme when the scene's mood or location changes.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"mood": {"type": "string"},
					"genre": {"type": "string"},
					"region": {"type": "string"},
					"transition_duration": {"type": "integer", "description": "Milliseconds"}
				},
				"required": ["mood", "genre", "region"]
			}`),
		},
	},
}
