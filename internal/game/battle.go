package game

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/game/abilities"
	"github.com/queuefight/queuefight-server/internal/game/commands"
	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/history"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// GameState is the turn-state of a battle.
type GameState int

const (
	StateNotStarted GameState = iota
	StateWaitingForPlayer
	StateTurnInProgress
	StateGameOver
)

func (s GameState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateWaitingForPlayer:
		return "WAITING_FOR_PLAYER"
	case StateTurnInProgress:
		return "TURN_IN_PROGRESS"
	case StateGameOver:
		return "GAME_OVER"
	default:
		return "UNKNOWN"
	}
}

// ParseGameState is the inverse of String.
func ParseGameState(s string) (GameState, bool) {
	for _, st := range []GameState{StateNotStarted, StateWaitingForPlayer, StateTurnInProgress, StateGameOver} {
		if st.String() == s {
			return st, true
		}
	}
	return StateNotStarted, false
}

// Side identifies one of the two rosters independent of its name.
type Side string

const (
	SideNone   Side = ""
	SideFirst  Side = "first"
	SideSecond Side = "second"
)

func (s Side) other() Side {
	switch s {
	case SideFirst:
		return SideSecond
	case SideSecond:
		return SideFirst
	default:
		return SideNone
	}
}

var (
	// ErrWrongState is returned when an intent is not allowed in the current state.
	ErrWrongState = errors.New("intent not allowed in current state")
	// ErrEmptyRoster is returned when a battle is started with an empty team.
	ErrEmptyRoster = errors.New("team has no fighters")
	// ErrNothingToUndo is returned when no round can be undone.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned when no undone round is waiting.
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrInvalidRewind is returned for rewind targets outside the history.
	ErrInvalidRewind = errors.New("invalid rewind target")
)

// Notification types
const (
	NotifyStateChanged   = "STATE_CHANGED"
	NotifyRoundCompleted = "ROUND_COMPLETED"
	NotifyGameOver       = "GAME_OVER"
)

// Notification is emitted to the renderer after battle transitions.
type Notification struct {
	Type      string
	BattleID  string
	Round     int
	Timestamp time.Time
	Data      map[string]interface{}
}

// NotificationHandler receives battle notifications. It is called
// synchronously on the goroutine that drives the battle.
type NotificationHandler func(Notification)

// Options tune a Battle. Zero values pick defaults.
type Options struct {
	MaxUndoDepth int
	Rand         dice.Source
	Log          *narration.Log
	Logger       *zap.Logger
	Notify       NotificationHandler
}

// Battle is the turn-state machine of one fight between two teams. It is not
// safe for concurrent use; Manager serializes access.
type Battle struct {
	id      string
	factory *units.Factory
	rng     dice.Source
	log     *narration.Log
	history *history.Manager
	logger  *zap.Logger
	notify  NotificationHandler

	first  *units.Team
	second *units.Team
	state  GameState
	winner Side
	draw   bool

	starting Side
	// refRound is attacked by refSide; sides alternate from there.
	refRound int
	refSide  Side
}

// NewBattle creates a battle in StateNotStarted.
func NewBattle(id string, factory *units.Factory, opts Options) *Battle {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Log == nil {
		opts.Log = narration.New(opts.Logger)
	}
	if opts.Rand == nil {
		opts.Rand = dice.New(time.Now().UnixNano())
	}
	return &Battle{
		id:      id,
		factory: factory,
		rng:     opts.Rand,
		log:     opts.Log,
		history: history.New(opts.MaxUndoDepth, opts.Log, opts.Logger),
		logger:  opts.Logger.With(zap.String("battle_id", id)),
		notify:  opts.Notify,
		state:   StateNotStarted,
	}
}

// ID returns the battle id.
func (b *Battle) ID() string { return b.id }

// State returns the current turn-state.
func (b *Battle) State() GameState { return b.state }

// Round returns the last begun round. Zero before the first round.
func (b *Battle) Round() int { return b.history.Current() }

// Log returns the narration log shared by the battle and its teams.
func (b *Battle) Log() *narration.Log { return b.log }

// History exposes the round history.
func (b *Battle) History() *history.Manager { return b.history }

// Teams returns both rosters.
func (b *Battle) Teams() (*units.Team, *units.Team) { return b.first, b.second }

// Winner returns the winning side, SideNone while running or on a draw.
func (b *Battle) Winner() Side { return b.winner }

// Draw reports whether the battle ended with both rosters empty.
func (b *Battle) Draw() bool { return b.draw }

// NewTeam creates a roster narrating into the battle log.
func (b *Battle) NewTeam(name string, budget float64) *units.Team {
	return units.NewTeam(name, budget, b.log)
}

// SetNotificationHandler replaces the notification handler.
func (b *Battle) SetNotificationHandler(h NotificationHandler) {
	b.notify = h
}

// Start resets both rosters and picks the opening attacker at random.
func (b *Battle) Start(first, second *units.Team) error {
	if first == nil || second == nil {
		return fmt.Errorf("start battle: %w", ErrEmptyRoster)
	}
	if !first.HasFighters() {
		return fmt.Errorf("start battle: %s: %w", first.Name, ErrEmptyRoster)
	}
	if !second.HasFighters() {
		return fmt.Errorf("start battle: %s: %w", second.Name, ErrEmptyRoster)
	}

	first.ResetForNewBattle()
	second.ResetForNewBattle()
	b.first, b.second = first, second
	b.winner, b.draw = SideNone, false
	b.history.Reset(0)

	b.starting = SideFirst
	if b.rng.Intn(2) == 1 {
		b.starting = SideSecond
	}
	b.refRound, b.refSide = 1, b.starting

	b.log.Logf("%s vs %s, %s attacks first", first.Name, second.Name, b.team(b.starting).Name)
	b.logger.Info("battle started",
		zap.String("first", first.Name),
		zap.String("second", second.Name),
		zap.String("starting_attacker", string(b.starting)))
	b.setState(StateWaitingForPlayer)
	return nil
}

// Attacker returns the side that attacks in the next round.
func (b *Battle) Attacker() Side {
	return b.attackerFor(b.history.Current() + 1)
}

func (b *Battle) attackerFor(round int) Side {
	if (round-b.refRound)%2 == 0 {
		return b.refSide
	}
	return b.refSide.other()
}

func (b *Battle) team(s Side) *units.Team {
	switch s {
	case SideFirst:
		return b.first
	case SideSecond:
		return b.second
	default:
		return nil
	}
}

// NextRound resolves one full round.
func (b *Battle) NextRound() error {
	if b.state != StateWaitingForPlayer {
		return fmt.Errorf("next round: %w: %s", ErrWrongState, b.state)
	}
	b.setState(StateTurnInProgress)

	round := b.history.BeginRound()
	attacker, defender := b.team(b.attackerFor(round)), b.team(b.attackerFor(round).other())
	b.log.Logf("round %d: %s attacks %s", round, attacker.Name, defender.Name)

	abilities.ResolveTeam(b.specialContext(attacker, defender))
	abilities.ResolveTeam(b.specialContext(defender, attacker))
	for _, t := range []*units.Team{attacker, defender} {
		for _, u := range t.Fighters() {
			u.UsedSpecial = false
		}
	}

	b.sweep()
	if b.checkWin() {
		return nil
	}

	front, target := attacker.NextFighter(), defender.NextFighter()
	if front.Has(units.CapAttacker) {
		b.history.Execute(commands.NewAttack(front, target, b.log))
	} else {
		b.log.Logf("%s cannot attack", front.Name)
	}

	b.sweep()
	if b.checkWin() {
		return nil
	}

	b.logger.Debug("round completed", zap.Int("round", round))
	b.setState(StateWaitingForPlayer)
	b.emit(NotifyRoundCompleted, map[string]interface{}{"round": round})
	return nil
}

func (b *Battle) specialContext(own, enemy *units.Team) abilities.Context {
	return abilities.Context{
		Own:     own,
		Enemy:   enemy,
		Rand:    b.rng,
		Log:     b.log,
		Exec:    b.history,
		Factory: b.factory,
		Logger:  b.logger,
	}
}

// sweep removes dead units one at a time so each recorded index is exact for
// reinsertion in reverse order.
func (b *Battle) sweep() {
	for _, t := range []*units.Team{b.first, b.second} {
		for _, u := range t.Fighters() {
			if u.Alive() {
				continue
			}
			b.history.RecordDeath(u, t, t.IndexOf(u))
			t.RemoveFighter(u)
			b.log.Logf("%s of %s has fallen", u.Name, t.Name)
		}
	}
}

// checkWin ends the battle when a roster is empty.
func (b *Battle) checkWin() bool {
	firstOut, secondOut := !b.first.HasFighters(), !b.second.HasFighters()
	switch {
	case firstOut && secondOut:
		b.draw = true
		b.log.Logf("both teams are wiped out, the battle is a draw")
	case firstOut:
		b.winner = SideSecond
		b.log.Logf("%s wins", b.second.Name)
	case secondOut:
		b.winner = SideFirst
		b.log.Logf("%s wins", b.first.Name)
	default:
		return false
	}
	b.logger.Info("battle over",
		zap.Int("round", b.history.Current()),
		zap.String("winner", string(b.winner)),
		zap.Bool("draw", b.draw))
	b.setState(StateGameOver)
	b.emit(NotifyGameOver, map[string]interface{}{"winner": string(b.winner), "draw": b.draw})
	return true
}

// UndoRound reverts the most recent round and hands the turn back to its
// attacker.
func (b *Battle) UndoRound() error {
	if b.state != StateWaitingForPlayer {
		return fmt.Errorf("undo round: %w: %s", ErrWrongState, b.state)
	}
	round, ok := b.history.UndoRound()
	if !ok {
		return ErrNothingToUndo
	}
	b.logger.Debug("round undone", zap.Int("round", round))
	b.emit(NotifyStateChanged, map[string]interface{}{"undone_round": round})
	return nil
}

// RedoRound replays the most recently undone round with fresh rolls.
func (b *Battle) RedoRound() error {
	if b.state != StateWaitingForPlayer {
		return fmt.Errorf("redo round: %w: %s", ErrWrongState, b.state)
	}
	round, ok := b.history.RedoRound()
	if !ok {
		return ErrNothingToRedo
	}
	b.sweep()
	if b.checkWin() {
		return nil
	}
	b.logger.Debug("round redone", zap.Int("round", round))
	b.emit(NotifyStateChanged, map[string]interface{}{"redone_round": round})
	return nil
}

// RewindTo restores the battle to the end of round.
func (b *Battle) RewindTo(round int) error {
	if b.state != StateWaitingForPlayer {
		return fmt.Errorf("rewind: %w: %s", ErrWrongState, b.state)
	}
	revived, ok := b.history.RewindTo(round)
	if !ok {
		return fmt.Errorf("rewind to %d: %w", round, ErrInvalidRewind)
	}
	b.logger.Debug("rewound",
		zap.Int("round", round),
		zap.Int("revived", len(revived)))
	b.emit(NotifyStateChanged, map[string]interface{}{"rewound_to": round})
	return nil
}

// AvailableRewindRounds lists valid rewind targets, oldest first.
func (b *Battle) AvailableRewindRounds() []int {
	if b.state != StateWaitingForPlayer {
		return nil
	}
	return b.history.AvailableRewindRounds()
}

func (b *Battle) setState(s GameState) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	if s == StateTurnInProgress || prev == StateTurnInProgress && s == StateWaitingForPlayer {
		// TurnInProgress is never observable from outside a round.
		return
	}
	b.emit(NotifyStateChanged, map[string]interface{}{"from": prev.String(), "to": s.String()})
}

func (b *Battle) emit(kind string, data map[string]interface{}) {
	if b.notify == nil {
		return
	}
	b.notify(Notification{
		Type:      kind,
		BattleID:  b.id,
		Round:     b.history.Current(),
		Timestamp: time.Now(),
		Data:      data,
	})
}
