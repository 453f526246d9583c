// Package combat implements the turn-order micro-engine. It tracks
// initiative and round advancement only; whether a combatant is
// incapacitated is decided by the caller and passed in as a predicate,
// so the engine holds no RPG-rule knowledge.
package combat

import (
	"errors"
	"sort"
)

// ErrNoCombatants indicates combat was started with an empty roster.
var ErrNoCombatants = errors.New("combat requires at least one combatant")

// ErrNotActive indicates an operation on a missing or ended combat.
var ErrNotActive = errors.New("no active combat")

// ErrAllIncapacitated indicates every combatant failed the
// incapacitation check, so there is no valid next turn.
var ErrAllIncapacitated = errors.New("all combatants are incapacitated")

// Structure describes how turns are organized.
type Structure string

const (
	// StructureInitiative is strict initiative-order turn taking.
	StructureInitiative Structure = "initiative"
	// StructureFreeform tracks rounds without enforcing turn order.
	StructureFreeform Structure = "freeform"
)

// Combatant is one participant in the turn order.
type Combatant struct {
	Name       string   `json:"name"`
	Initiative int      `json:"initiative"`
	IsPlayer   bool     `json:"is_player"`
	Conditions []string `json:"conditions,omitempty"`
}

// State is the combat turn-order state. A nil State means not in combat.
type State struct {
	Active          bool        `json:"active"`
	Round           int         `json:"round"`
	InitiativeOrder []Combatant `json:"initiative_order"`
	CurrentIndex    int         `json:"current_index"`
	Structure       Structure   `json:"structure"`
}

// Start begins combat with the given roster. Combatants are ordered by
// initiative descending; ties preserve input order.
func Start(combatants []Combatant, structure Structure) (*State, error) {
	if len(combatants) == 0 {
		return nil, ErrNoCombatants
	}
	if structure == "" {
		structure = StructureInitiative
	}

	order := append([]Combatant{}, combatants...)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Initiative > order[j].Initiative
	})

	return &State{
		Active:          true,
		Round:           1,
		InitiativeOrder: order,
		CurrentIndex:    0,
		Structure:       structure,
	}, nil
}

// Current returns the combatant whose turn it is.
func (s *State) Current() (Combatant, error) {
	if s == nil || !s.Active {
		return Combatant{}, ErrNotActive
	}
	return s.InitiativeOrder[s.CurrentIndex], nil
}

// NextTurn advances to the next combatant, wrapping to the top of the
// order and incrementing the round on wraparound. Combatants for whom
// incapacitated returns true are skipped, bounded by one full lap: if
// every combatant is down, the state is left unchanged and
// ErrAllIncapacitated is returned.
func NextTurn(s *State, incapacitated func(Combatant) bool) error {
	if s == nil || !s.Active {
		return ErrNotActive
	}

	index := s.CurrentIndex
	round := s.Round
	for i := 0; i < len(s.InitiativeOrder); i++ {
		index++
		if index >= len(s.InitiativeOrder) {
			index = 0
			round++
		}
		if incapacitated == nil || !incapacitated(s.InitiativeOrder[index]) {
			s.CurrentIndex = index
			s.Round = round
			return nil
		}
	}

	return ErrAllIncapacitated
}

// End finishes combat. The caller discards the state afterwards; a nil
// state is the canonical "not in combat" representation.
func End(s *State) error {
	if s == nil || !s.Active {
		return ErrNotActive
	}
	s.Active = false
	return nil
}
