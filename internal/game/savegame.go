package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/game/units"
)

// SaveVersion is the current save DTO version.
const SaveVersion = 1

// SaveGame is the persisted snapshot of a battle. Command history is not
// saved; a loaded battle starts with empty undo and redo stacks.
type SaveGame struct {
	Version  int    `json:"version"`
	BattleID string `json:"battle_id"`
	// Round is the last begun round.
	Round int    `json:"round"`
	State string `json:"state"`
	// StartingAttacker and CurrentAttacker are "first" or "second". Older
	// saves without them fall back to round parity.
	StartingAttacker string     `json:"starting_attacker,omitempty"`
	CurrentAttacker  string     `json:"current_attacker,omitempty"`
	Winner           string     `json:"winner,omitempty"`
	Draw             bool       `json:"draw,omitempty"`
	Teams            []SaveTeam `json:"teams"`
	Log              []string   `json:"log"`
}

// SaveTeam is one roster in a save.
type SaveTeam struct {
	Name   string     `json:"name"`
	Budget float64    `json:"budget"`
	Units  []SaveUnit `json:"units"`
}

// SaveUnit is one unit in a save.
type SaveUnit struct {
	Archetype string  `json:"archetype"`
	Health    float64 `json:"health"`
	ID        int     `json:"id"`
	Name      string  `json:"name,omitempty"`
}

// Export captures the battle as a SaveGame.
func (b *Battle) Export() (*SaveGame, error) {
	if b.state == StateNotStarted {
		return nil, fmt.Errorf("export: %w: %s", ErrWrongState, b.state)
	}
	save := &SaveGame{
		Version:          SaveVersion,
		BattleID:         b.id,
		Round:            b.history.Current(),
		State:            b.state.String(),
		StartingAttacker: string(b.starting),
		CurrentAttacker:  string(b.Attacker()),
		Winner:           string(b.winner),
		Draw:             b.draw,
		Log:              b.log.Lines(),
	}
	for _, t := range []*units.Team{b.first, b.second} {
		st := SaveTeam{Name: t.Name, Budget: t.Budget()}
		for _, u := range t.LivingFighters() {
			st.Units = append(st.Units, SaveUnit{
				Archetype: string(u.Archetype),
				Health:    u.Health,
				ID:        u.ID,
				Name:      u.Name,
			})
		}
		save.Teams = append(save.Teams, st)
	}
	return save, nil
}

// Import replaces the battle state with save. Units are rebuilt through the
// factory with their saved ids and health; budgets are not charged. On error
// neither the battle nor the factory's id allocator is touched.
func (b *Battle) Import(save *SaveGame) error {
	if save == nil {
		return fmt.Errorf("import: empty save")
	}
	if save.Version != SaveVersion {
		return fmt.Errorf("import: unsupported save version %d", save.Version)
	}
	if len(save.Teams) != 2 {
		return fmt.Errorf("import: expected 2 teams, got %d", len(save.Teams))
	}
	if save.Round < 0 {
		return fmt.Errorf("import: negative round %d", save.Round)
	}
	state, ok := ParseGameState(save.State)
	if !ok || state == StateNotStarted || state == StateTurnInProgress {
		state = StateWaitingForPlayer
	}

	// every entry is checked before any id is reserved
	seen := make(map[int]bool)
	for _, st := range save.Teams {
		for _, su := range st.Units {
			if seen[su.ID] {
				return fmt.Errorf("import: duplicate unit id %d", su.ID)
			}
			seen[su.ID] = true
			if err := b.factory.CheckRestore(su.Archetype, su.ID); err != nil {
				return fmt.Errorf("import team %s: %w", st.Name, err)
			}
		}
	}

	teams := make([]*units.Team, 2)
	for i, st := range save.Teams {
		t := b.NewTeam(st.Name, st.Budget)
		for _, su := range st.Units {
			u, err := b.factory.Restore(su.Archetype, su.ID, su.Name)
			if err != nil {
				return fmt.Errorf("import team %s: %w", st.Name, err)
			}
			u.SetHealth(su.Health)
			if !u.Alive() {
				continue
			}
			t.AddFighterAt(t.Len(), u)
		}
		teams[i] = t
	}

	b.first, b.second = teams[0], teams[1]
	b.history.Reset(save.Round)
	b.log.Replace(save.Log)
	b.winner = Side(save.Winner)
	if b.winner != SideFirst && b.winner != SideSecond {
		b.winner = SideNone
	}
	b.draw = save.Draw

	next := save.Round + 1
	b.starting = Side(save.StartingAttacker)
	switch current := Side(save.CurrentAttacker); {
	case current == SideFirst || current == SideSecond:
		b.refRound, b.refSide = next, current
	case b.starting == SideFirst || b.starting == SideSecond:
		b.refRound, b.refSide = 1, b.starting
	default:
		// Odd rounds go to the first team.
		b.refRound, b.refSide = 1, SideFirst
	}
	if b.starting != SideFirst && b.starting != SideSecond {
		b.starting = b.attackerFor(1)
	}

	if state != StateGameOver && (!b.first.HasFighters() || !b.second.HasFighters()) {
		b.state = StateWaitingForPlayer
		b.checkWin()
	} else {
		b.state = StateNotStarted
		b.setState(state)
	}
	b.logger.Info("battle loaded",
		zap.Int("round", save.Round),
		zap.String("attacker", string(b.Attacker())))
	return nil
}
