package game

import (
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// BattleView is the snapshot consumed by renderers.
type BattleView struct {
	BattleID     string     `json:"battle_id"`
	Round        int        `json:"round"`
	State        string     `json:"state"`
	Attacker     string     `json:"attacker"`
	Winner       string     `json:"winner,omitempty"`
	Draw         bool       `json:"draw,omitempty"`
	Teams        []TeamView `json:"teams"`
	Log          []string   `json:"log"`
	RewindRounds []int      `json:"rewind_rounds"`
	CanUndo      bool       `json:"can_undo"`
	CanRedo      bool       `json:"can_redo"`
}

// TeamView is one roster in roster order. Only living units are listed.
type TeamView struct {
	Name   string     `json:"name"`
	Side   string     `json:"side"`
	Budget float64    `json:"budget"`
	Units  []UnitView `json:"units"`
}

// UnitView is one unit as shown to the renderer.
type UnitView struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Archetype string  `json:"archetype"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"max_health"`
	Icon      string  `json:"icon"`
	Buff      string  `json:"buff,omitempty"`
}

// View builds a snapshot of the battle.
func (b *Battle) View() *BattleView {
	v := &BattleView{
		BattleID:     b.id,
		Round:        b.history.Current(),
		State:        b.state.String(),
		Draw:         b.draw,
		Log:          b.log.Lines(),
		RewindRounds: b.AvailableRewindRounds(),
	}
	if b.state == StateNotStarted {
		return v
	}

	if t := b.team(b.Attacker()); t != nil && b.state != StateGameOver {
		v.Attacker = t.Name
	}
	if t := b.team(b.winner); t != nil {
		v.Winner = t.Name
	}
	v.Teams = []TeamView{teamView(b.first, SideFirst), teamView(b.second, SideSecond)}
	if b.state == StateWaitingForPlayer {
		v.CanUndo = b.history.CanUndoRound()
		v.CanRedo = b.history.CanRedoRound()
	}
	return v
}

func teamView(t *units.Team, side Side) TeamView {
	tv := TeamView{Name: t.Name, Side: string(side), Budget: t.Budget()}
	for _, u := range t.LivingFighters() {
		uv := UnitView{
			ID:        u.ID,
			Name:      u.Name,
			Archetype: string(u.Archetype),
			Health:    u.Health,
			MaxHealth: u.MaxHealth,
			Icon:      u.Icon,
		}
		if buff := u.Buff(); buff.Active() {
			uv.Buff = buff.Kind.String()
		}
		tv.Units = append(tv.Units, uv)
	}
	return tv
}
