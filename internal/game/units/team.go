package units

import (
	"github.com/queuefight/queuefight-server/internal/game/narration"
)

// Team is an ordered roster. Index 0 is the front unit.
type Team struct {
	Name   string
	budget float64
	units  []*Unit
	log    narration.Narrator
}

// NewTeam creates an empty roster with the given purchase budget.
func NewTeam(name string, budget float64, log narration.Narrator) *Team {
	if log == nil {
		log = narration.Discard
	}
	return &Team{Name: name, budget: budget, log: log}
}

// Budget returns the remaining money.
func (t *Team) Budget() float64 {
	return t.budget
}

// CanAfford reports whether cost fits the remaining budget.
func (t *Team) CanAfford(cost float64) bool {
	return cost <= t.budget
}

// AddFighter buys u and appends it. It returns false when the budget does not
// cover the unit's cost.
func (t *Team) AddFighter(u *Unit) bool {
	if u == nil {
		return false
	}
	if !t.CanAfford(u.Cost) {
		t.log.Logf("%s cannot afford %s: costs %.0f, budget %.0f", t.Name, u.Name, u.Cost, t.budget)
		return false
	}
	t.budget -= u.Cost
	u.team = t
	t.units = append(t.units, u)
	return true
}

// AddFighterAt inserts u at index without touching the budget. The index is
// clamped to [0, Len()].
func (t *Team) AddFighterAt(index int, u *Unit) {
	if u == nil {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(t.units) {
		index = len(t.units)
	}
	u.team = t
	t.units = append(t.units, nil)
	copy(t.units[index+1:], t.units[index:])
	t.units[index] = u
}

// RemoveFighter removes u by identity and returns the index it held, or -1.
func (t *Team) RemoveFighter(u *Unit) int {
	idx := t.IndexOf(u)
	if idx < 0 {
		return -1
	}
	t.units = append(t.units[:idx], t.units[idx+1:]...)
	if u.team == t {
		u.team = nil
	}
	return idx
}

// Dismiss removes u and refunds its cost.
func (t *Team) Dismiss(u *Unit) bool {
	if t.RemoveFighter(u) < 0 {
		return false
	}
	t.budget += u.Cost
	return true
}

// NextFighter returns the front unit or nil.
func (t *Team) NextFighter() *Unit {
	if len(t.units) == 0 {
		return nil
	}
	return t.units[0]
}

// LivingFighters returns units with health left, in roster order.
func (t *Team) LivingFighters() []*Unit {
	out := make([]*Unit, 0, len(t.units))
	for _, u := range t.units {
		if u.Alive() {
			out = append(out, u)
		}
	}
	return out
}

// Fighters returns a copy of the roster.
func (t *Team) Fighters() []*Unit {
	out := make([]*Unit, len(t.units))
	copy(out, t.units)
	return out
}

// At returns the unit at index or nil.
func (t *Team) At(index int) *Unit {
	if index < 0 || index >= len(t.units) {
		return nil
	}
	return t.units[index]
}

// IndexOf returns the position of u or -1.
func (t *Team) IndexOf(u *Unit) int {
	for i, v := range t.units {
		if v == u {
			return i
		}
	}
	return -1
}

// Contains reports whether u is in the roster.
func (t *Team) Contains(u *Unit) bool {
	return t.IndexOf(u) >= 0
}

// Len returns the roster size.
func (t *Team) Len() int {
	return len(t.units)
}

// HasFighters reports whether anything is left in the roster.
func (t *Team) HasFighters() bool {
	return len(t.units) > 0
}

// ResetForNewBattle heals every unit and clears buffs and per-round flags.
func (t *Team) ResetForNewBattle() {
	for _, u := range t.units {
		u.Reset()
	}
}
