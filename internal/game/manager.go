package game

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

var (
	// ErrBattleNotFound is returned for unknown battle ids.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrUnknownIntent is returned for intent types the manager does not handle.
	ErrUnknownIntent = errors.New("unknown intent")
	// ErrNoStore is returned by save and load when no store is configured.
	ErrNoStore = errors.New("save storage is not configured")
)

// Intent types accepted by Dispatch.
const (
	IntentNextRound = "next_round"
	IntentUndoRound = "undo_round"
	IntentRedoRound = "redo_round"
	IntentRewind    = "rewind"
	IntentSave      = "save"
	IntentLoad      = "load"
	IntentView      = "view"
)

// Intent is a renderer request against one battle.
type Intent struct {
	Type  string `json:"type"`
	Round int    `json:"round,omitempty"`
	Slot  string `json:"slot,omitempty"`
}

// TeamSpec describes a roster to build. With Random set, Units is ignored and
// the roster is bought at random within Budget.
type TeamSpec struct {
	Name   string   `json:"name"`
	Budget float64  `json:"budget,omitempty"`
	Units  []string `json:"units,omitempty"`
	Random bool     `json:"random,omitempty"`
}

// SaveStore persists encoded saves by slot name.
type SaveStore interface {
	Put(ctx context.Context, slot string, data []byte) error
	Get(ctx context.Context, slot string) ([]byte, error)
}

// ManagerConfig holds battle defaults.
type ManagerConfig struct {
	Budget       float64
	MaxUndoDepth int
	// Seed makes battles reproducible. Battle n uses Seed+n; zero seeds from
	// the clock.
	Seed int64
}

// ViewSubscriber receives the view of a battle after every mutating intent.
type ViewSubscriber func(view *BattleView)

type managedBattle struct {
	mu       sync.Mutex
	battle   *Battle
	archived bool
}

// Manager owns many battles and serializes access to each of them.
type Manager struct {
	logger  *zap.Logger
	factory *units.Factory
	store   SaveStore
	replays *ReplayRecorder
	cfg     ManagerConfig
	seq     atomic.Int64

	mu         sync.RWMutex
	battles    map[string]*managedBattle
	subscriber ViewSubscriber
	notify     NotificationHandler
}

// NewManager creates a manager. store and replays may be nil.
func NewManager(logger *zap.Logger, factory *units.Factory, store SaveStore, replays *ReplayRecorder, cfg ManagerConfig) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger,
		factory: factory,
		store:   store,
		replays: replays,
		cfg:     cfg,
		battles: make(map[string]*managedBattle),
	}
}

// SetSubscriber registers the view subscriber.
func (m *Manager) SetSubscriber(fn ViewSubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = fn
}

// SetNotificationHandler registers a handler for notifications of every battle.
func (m *Manager) SetNotificationHandler(h NotificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = h
}

func (m *Manager) emit(n Notification) {
	m.mu.RLock()
	h := m.notify
	m.mu.RUnlock()
	if h != nil {
		h(n)
	}
}

func (m *Manager) publish(view *BattleView) {
	m.mu.RLock()
	fn := m.subscriber
	m.mu.RUnlock()
	if fn != nil && view != nil {
		fn(view)
	}
}

func (m *Manager) nextRand() dice.Source {
	n := m.seq.Add(1) - 1
	if m.cfg.Seed == 0 {
		return dice.New(time.Now().UnixNano() + n)
	}
	return dice.New(m.cfg.Seed + n)
}

// Create builds both rosters, starts a battle and returns its first view.
func (m *Manager) Create(ctx context.Context, first, second TeamSpec) (*BattleView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logger := m.logger.With(zap.String("battle_id", id))
	rng := m.nextRand()
	b := NewBattle(id, m.factory, Options{
		MaxUndoDepth: m.cfg.MaxUndoDepth,
		Rand:         rng,
		Log:          narration.New(logger),
		Logger:       m.logger,
		Notify:       m.emit,
	})

	red, err := m.buildTeam(b, first, rng)
	if err != nil {
		return nil, err
	}
	blue, err := m.buildTeam(b, second, rng)
	if err != nil {
		return nil, err
	}
	if err := b.Start(red, blue); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.battles[id] = &managedBattle{battle: b}
	m.mu.Unlock()

	if m.replays != nil {
		m.replays.StartRecording(id)
	}
	view := b.View()
	m.record(id, view)
	logger.Info("battle created",
		zap.Int("first_units", red.Len()),
		zap.Int("second_units", blue.Len()))
	m.publish(view)
	return view, nil
}

func (m *Manager) buildTeam(b *Battle, spec TeamSpec, rng dice.Source) (*units.Team, error) {
	budget := spec.Budget
	if budget <= 0 {
		budget = m.cfg.Budget
	}
	name := spec.Name
	if name == "" {
		return nil, errors.New("team name is required")
	}
	team := b.NewTeam(name, budget)
	if spec.Random {
		if err := units.RandomRoster(m.factory, rng, team); err != nil {
			return nil, fmt.Errorf("build team %s: %w", name, err)
		}
		return team, nil
	}
	for _, archetype := range spec.Units {
		u, err := m.factory.Create(archetype)
		if err != nil {
			return nil, fmt.Errorf("build team %s: %w", name, err)
		}
		team.AddFighter(u)
	}
	return team, nil
}

func (m *Manager) lookup(id string) (*managedBattle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.battles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBattleNotFound, id)
	}
	return mb, nil
}

// Dispatch applies intent to a battle and returns the resulting view.
func (m *Manager) Dispatch(ctx context.Context, id string, intent Intent) (*BattleView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mb, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	view, mutated, err := m.apply(ctx, mb, intent)
	mb.mu.Unlock()
	if err != nil {
		m.logger.Debug("intent rejected",
			zap.String("battle_id", id),
			zap.String("intent", intent.Type),
			zap.Error(err))
		return view, err
	}
	if mutated {
		m.publish(view)
	}
	return view, nil
}

func (m *Manager) apply(ctx context.Context, mb *managedBattle, intent Intent) (*BattleView, bool, error) {
	b := mb.battle
	var err error
	switch intent.Type {
	case IntentView:
		return b.View(), false, nil
	case IntentNextRound:
		err = b.NextRound()
	case IntentUndoRound:
		err = b.UndoRound()
	case IntentRedoRound:
		err = b.RedoRound()
	case IntentRewind:
		err = b.RewindTo(intent.Round)
	case IntentSave:
		err = m.save(ctx, b, intent.Slot)
		return b.View(), false, err
	case IntentLoad:
		err = m.load(ctx, b, intent.Slot)
		if err == nil {
			mb.archived = false
			if m.replays != nil {
				m.replays.StartRecording(b.ID())
			}
		}
	default:
		return b.View(), false, fmt.Errorf("%w: %q", ErrUnknownIntent, intent.Type)
	}
	view := b.View()
	if err != nil {
		return view, false, err
	}

	m.record(b.ID(), view)
	if b.State() == StateGameOver && !mb.archived && m.replays != nil {
		mb.archived = true
		if aerr := m.replays.Archive(b.ID()); aerr != nil {
			m.logger.Warn("failed to archive replay", zap.String("battle_id", b.ID()), zap.Error(aerr))
		}
	}
	return view, true, nil
}

func (m *Manager) record(id string, view *BattleView) {
	if m.replays != nil {
		m.replays.Record(id, view)
	}
}

func (m *Manager) save(ctx context.Context, b *Battle, slot string) error {
	if m.store == nil {
		return ErrNoStore
	}
	save, err := b.Export()
	if err != nil {
		return err
	}
	data, err := EncodeSave(save)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, slot, data); err != nil {
		return fmt.Errorf("save slot %s: %w", slot, err)
	}
	b.Log().Logf("battle saved to slot %s", slot)
	return nil
}

func (m *Manager) load(ctx context.Context, b *Battle, slot string) error {
	if m.store == nil {
		return ErrNoStore
	}
	data, err := m.store.Get(ctx, slot)
	if err != nil {
		return fmt.Errorf("load slot %s: %w", slot, err)
	}
	save, err := DecodeSave(data)
	if err != nil {
		return fmt.Errorf("load slot %s: %w", slot, err)
	}
	if err := b.Import(save); err != nil {
		return err
	}
	b.Log().Logf("battle loaded from slot %s", slot)
	return nil
}

// View returns the current view of a battle.
func (m *Manager) View(id string) (*BattleView, error) {
	return m.Dispatch(context.Background(), id, Intent{Type: IntentView})
}

// Close forgets a battle and drops its unfinished replay.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.battles[id]
	delete(m.battles, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBattleNotFound, id)
	}
	if m.replays != nil {
		m.replays.Discard(id)
	}
	m.logger.Info("battle closed", zap.String("battle_id", id))
	return nil
}

// OpenReplay returns a private copy of a battle's replay with its own cursor.
// A running battle's recording is preferred over the archive on disk, so
// closed battles can be played back once they have been archived.
func (m *Manager) OpenReplay(id string) (*Replay, error) {
	if m.replays == nil {
		return nil, ErrReplaysDisabled
	}
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("%w: %q", ErrReplayNotFound, id)
	}
	if r, ok := m.replays.Replay(id); ok {
		return r.Snapshot(), nil
	}
	r, err := m.replays.Load(id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReplayNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ReplayFrame returns view index of a battle's replay.
func (m *Manager) ReplayFrame(id string, index int) (*ReplayFrame, error) {
	r, err := m.OpenReplay(id)
	if err != nil {
		return nil, err
	}
	return r.Frame(index)
}

// List returns the ids of all open battles, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.battles))
	for id := range m.battles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
