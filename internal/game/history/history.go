// Package history indexes executed commands and deaths by round and drives
// undo, redo and rewind.
//
// The round counter is the last round that was begun. Round 0 stands for the
// start of the battle and is always present after Reset, so rewinding to 0
// restores the opening state.
package history

import (
	"math"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/game/commands"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// DefaultMaxDepth is the undo stack cap when none is configured.
const DefaultMaxDepth = 200

// ResurrectFraction is the share of max health a resurrected unit gets back.
const ResurrectFraction = 0.1

// Death records a unit removed from its roster during a round.
type Death struct {
	Unit   *units.Unit
	Team   *units.Team
	Health float64
	Index  int
}

type entry struct {
	cmd   commands.Command
	round int
}

// batch is an undone group of commands waiting on the redo stack.
type batch struct {
	round int
	cmds  []commands.Command
	whole bool
}

// Manager owns the undo and redo stacks of one battle. It is not safe for
// concurrent use.
type Manager struct {
	undo     []entry
	redo     []batch
	byRound  map[int][]commands.Command
	deaths   map[int][]Death
	rounds   []int
	current  int
	maxDepth int

	// truncatedThrough is the newest round that lost commands to the depth
	// cap. Rewinds may not target anything older.
	truncatedThrough int

	log    narration.Narrator
	logger *zap.Logger
}

// New creates a manager positioned at round 0.
func New(maxDepth int, log narration.Narrator, logger *zap.Logger) *Manager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if log == nil {
		log = narration.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{maxDepth: maxDepth, log: log, logger: logger}
	m.Reset(0)
	return m
}

// Reset drops all history and positions the counter at round.
func (m *Manager) Reset(round int) {
	m.undo = nil
	m.redo = nil
	m.byRound = make(map[int][]commands.Command)
	m.deaths = make(map[int][]Death)
	m.rounds = []int{round}
	m.current = round
	m.truncatedThrough = math.MinInt
}

// Current returns the last begun round.
func (m *Manager) Current() int {
	return m.current
}

// MaxDepth returns the undo stack cap.
func (m *Manager) MaxDepth() int {
	return m.maxDepth
}

// BeginRound starts the next round and returns its number. Starting a round
// discards everything that could have been redone.
func (m *Manager) BeginRound() int {
	m.current++
	m.rounds = append(m.rounds, m.current)
	m.redo = nil
	return m.current
}

// Execute runs cmd and records it under the current round.
func (m *Manager) Execute(cmd commands.Command) {
	cmd.Execute()
	m.redo = nil
	m.push(cmd, m.current)
}

func (m *Manager) push(cmd commands.Command, round int) {
	m.undo = append(m.undo, entry{cmd: cmd, round: round})
	m.byRound[round] = append(m.byRound[round], cmd)

	for len(m.undo) > m.maxDepth {
		oldest := m.undo[0]
		m.undo = m.undo[1:]
		list := m.byRound[oldest.round]
		if len(list) > 0 {
			list = list[1:]
		}
		if len(list) == 0 {
			delete(m.byRound, oldest.round)
		} else {
			m.byRound[oldest.round] = list
		}
		if oldest.round > m.truncatedThrough {
			m.truncatedThrough = oldest.round
		}
		m.logger.Debug("history depth exceeded, dropped oldest command",
			zap.Int("round", oldest.round),
			zap.String("command", oldest.cmd.Describe()))
	}
}

// RecordDeath notes that u left team at index during the current round.
func (m *Manager) RecordDeath(u *units.Unit, team *units.Team, index int) {
	m.deaths[m.current] = append(m.deaths[m.current], Death{
		Unit:   u,
		Team:   team,
		Health: u.Health,
		Index:  index,
	})
}

// Undo inverts the most recent command.
func (m *Manager) Undo() bool {
	if len(m.undo) == 0 {
		m.log.Logf("nothing to undo")
		return false
	}
	last := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	list := m.byRound[last.round]
	if len(list) > 0 {
		m.byRound[last.round] = list[:len(list)-1]
	}
	last.cmd.Undo()
	m.redo = append(m.redo, batch{round: last.round, cmds: []commands.Command{last.cmd}})
	return true
}

// Redo re-executes the most recently undone command.
func (m *Manager) Redo() bool {
	if len(m.redo) == 0 || m.redo[len(m.redo)-1].whole {
		m.log.Logf("nothing to redo")
		return false
	}
	b := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	for _, cmd := range b.cmds {
		cmd.Execute()
		m.push(cmd, b.round)
	}
	return true
}

// CanRewindTo reports whether target is a valid rewind destination.
func (m *Manager) CanRewindTo(target int) bool {
	return target < m.current && target >= m.truncatedThrough && m.indexOfRound(target) >= 0
}

// AvailableRewindRounds lists the valid rewind targets, oldest first.
func (m *Manager) AvailableRewindRounds() []int {
	out := make([]int, 0, len(m.rounds))
	for _, r := range m.rounds {
		if m.CanRewindTo(r) {
			out = append(out, r)
		}
	}
	return out
}

// RewindTo restores the state at the end of round target. Every round after
// target is undone, most recent first: its dead are reinserted where they
// fell, its commands are inverted in reverse order and its records are
// dropped. Resurrected units end with a tenth of their max health and are
// returned; units the undo removed again are not. The undone
// rounds go to the redo stack so RedoRound replays them oldest first.
func (m *Manager) RewindTo(target int) ([]*units.Unit, bool) {
	if !m.CanRewindTo(target) {
		m.log.Logf("cannot rewind to round %d", target)
		m.logger.Debug("rejected rewind",
			zap.Int("target", target),
			zap.Int("current", m.current))
		return nil, false
	}

	// Single-command redos would land out of round order after a rewind.
	kept := m.redo[:0]
	for _, b := range m.redo {
		if b.whole {
			kept = append(kept, b)
		}
	}
	m.redo = kept

	var revived []*units.Unit
	cut := m.indexOfRound(target) + 1
	for i := len(m.rounds) - 1; i >= cut; i-- {
		r := m.rounds[i]
		revived = append(revived, m.resurrect(r)...)

		cmds := m.byRound[r]
		for j := len(cmds) - 1; j >= 0; j-- {
			cmds[j].Undo()
		}
		m.undo = m.undo[:len(m.undo)-len(cmds)]
		delete(m.byRound, r)
		delete(m.deaths, r)

		undone := make([]commands.Command, len(cmds))
		copy(undone, cmds)
		m.redo = append(m.redo, batch{round: r, cmds: undone, whole: true})
	}
	m.rounds = m.rounds[:cut]
	m.current = target

	// clones conjured in a rewound round were removed again by their undo
	back := revived[:0]
	for _, u := range revived {
		if u.Team() == nil || !u.Team().Contains(u) {
			continue
		}
		u.SetHealth(u.MaxHealth * ResurrectFraction)
		back = append(back, u)
	}
	m.log.Logf("rewound to round %d", target)
	return back, true
}

func (m *Manager) resurrect(round int) []*units.Unit {
	list := m.deaths[round]
	out := make([]*units.Unit, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		d := list[i]
		if d.Team.Contains(d.Unit) {
			continue
		}
		d.Team.AddFighterAt(d.Index, d.Unit)
		out = append(out, d.Unit)
		m.log.Logf("%s returns to %s", d.Unit.Name, d.Team.Name)
	}
	return out
}

// UndoRound rewinds exactly one round and returns the round that was undone.
func (m *Manager) UndoRound() (int, bool) {
	if len(m.rounds) < 2 {
		m.log.Logf("no round to undo")
		return 0, false
	}
	undone := m.current
	if _, ok := m.RewindTo(m.rounds[len(m.rounds)-2]); !ok {
		return 0, false
	}
	return undone, true
}

// CanUndoRound reports whether UndoRound would succeed.
func (m *Manager) CanUndoRound() bool {
	return len(m.rounds) >= 2 && m.CanRewindTo(m.rounds[len(m.rounds)-2])
}

// RedoRound re-executes the most recently undone round and makes it current.
// Deaths are not replayed; the caller sweeps rosters afterwards.
func (m *Manager) RedoRound() (int, bool) {
	if len(m.redo) == 0 || !m.redo[len(m.redo)-1].whole {
		m.log.Logf("no round to redo")
		return 0, false
	}
	b := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]

	m.current = b.round
	m.rounds = append(m.rounds, b.round)
	for _, cmd := range b.cmds {
		cmd.Execute()
		m.push(cmd, b.round)
	}
	m.log.Logf("redid round %d", b.round)
	return b.round, true
}

// CanRedoRound reports whether a whole round waits on the redo stack.
func (m *Manager) CanRedoRound() bool {
	return len(m.redo) > 0 && m.redo[len(m.redo)-1].whole
}

// UndoDepth returns the number of commands that can still be undone.
func (m *Manager) UndoDepth() int {
	return len(m.undo)
}

// RedoDepth returns the number of pending redo groups.
func (m *Manager) RedoDepth() int {
	return len(m.redo)
}

// Rounds returns the rounds on record, oldest first.
func (m *Manager) Rounds() []int {
	out := make([]int, len(m.rounds))
	copy(out, m.rounds)
	return out
}

// CommandsInRound returns the commands recorded for round.
func (m *Manager) CommandsInRound(round int) []commands.Command {
	list := m.byRound[round]
	out := make([]commands.Command, len(list))
	copy(out, list)
	return out
}

// DeathsInRound returns the deaths recorded for round.
func (m *Manager) DeathsInRound(round int) []Death {
	list := m.deaths[round]
	out := make([]Death, len(list))
	copy(out, list)
	return out
}

func (m *Manager) indexOfRound(round int) int {
	for i, r := range m.rounds {
		if r == round {
			return i
		}
	}
	return -1
}
