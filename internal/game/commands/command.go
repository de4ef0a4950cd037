// Package commands implements the reversible mutations applied to a battle.
//
// Every command captures the pre-state of the units it touches when it is
// constructed. Undo restores only that captured state and never re-reads live
// values. Execute restores the same pre-state before rolling its outcome, so
// redoing a command re-randomizes it instead of replaying the original roll.
package commands

import (
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// Command is one reversible mutation.
type Command interface {
	Execute()
	Undo()
	Describe() string
}

// unitState is the captured pre-state of one unit.
type unitState struct {
	unit        *units.Unit
	team        *units.Team
	index       int
	health      float64
	buff        units.Buff
	buffApplied bool
}

func capture(u *units.Unit) unitState {
	s := unitState{
		unit:        u,
		team:        u.Team(),
		index:       -1,
		health:      u.Health,
		buff:        u.Buff(),
		buffApplied: u.BuffApplied,
	}
	if s.team != nil {
		s.index = s.team.IndexOf(u)
	}
	return s
}

// restore puts the unit back exactly as captured, reinserting it at the
// captured position when it has left its roster.
func (s unitState) restore() {
	s.unit.SetHealth(s.health)
	s.unit.SetBuff(s.buff)
	s.unit.BuffApplied = s.buffApplied
	if s.team != nil && s.index >= 0 && !s.team.Contains(s.unit) {
		s.team.AddFighterAt(s.index, s.unit)
	}
}
