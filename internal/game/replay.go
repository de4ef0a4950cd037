package game

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrReplaysDisabled is returned when no replay recorder is configured.
	ErrReplaysDisabled = errors.New("replay recording is disabled")
	// ErrReplayNotFound is returned when a battle has no recorded or archived replay.
	ErrReplayNotFound = errors.New("replay not found")
	// ErrReplayIndex is returned when playback moves past either end.
	ErrReplayIndex = errors.New("replay index out of range")
)

// Replay moves accepted by Step.
const (
	ReplayStart    = "start"
	ReplayNext     = "next"
	ReplayPrevious = "previous"
	ReplaySkip     = "skip"
)

// ReplayFrame is one view of a replay with its position.
type ReplayFrame struct {
	BattleID string      `json:"battle_id"`
	Index    int         `json:"index"`
	Count    int         `json:"count"`
	View     *BattleView `json:"view"`
}

// Replay is a recorded battle: one view per observable step.
type Replay struct {
	BattleID     string
	Views        []*BattleView
	CurrentIndex int
	mu           sync.RWMutex
}

// NewReplay creates an empty replay.
func NewReplay(battleID string) *Replay {
	return &Replay{
		BattleID: battleID,
		Views:    make([]*BattleView, 0),
	}
}

// Record appends a view.
func (r *Replay) Record(view *BattleView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Views = append(r.Views, view)
}

// Start rewinds playback to the first view.
func (r *Replay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CurrentIndex = 0
}

// Next returns the view at the cursor and advances it.
func (r *Replay) Next() *BattleView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CurrentIndex < len(r.Views) {
		v := r.Views[r.CurrentIndex]
		r.CurrentIndex++
		return v
	}
	return nil
}

// Previous moves the cursor back and returns that view.
func (r *Replay) Previous() *BattleView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CurrentIndex > 0 {
		r.CurrentIndex--
		return r.Views[r.CurrentIndex]
	}
	return nil
}

// Skip moves the cursor by count, clamped to the recorded range.
func (r *Replay) Skip(count int) *BattleView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Views) == 0 {
		return nil
	}
	idx := r.CurrentIndex + count
	if idx >= len(r.Views) {
		idx = len(r.Views) - 1
	}
	if idx < 0 {
		idx = 0
	}
	r.CurrentIndex = idx
	return r.Views[idx]
}

// Size returns the number of recorded views.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Views)
}

// At returns the view at index or nil.
func (r *Replay) At(index int) *BattleView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.Views) {
		return r.Views[index]
	}
	return nil
}

// Cursor returns the playback position.
func (r *Replay) Cursor() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.CurrentIndex
}

// Snapshot copies the recorded views into a replay with its own cursor.
func (r *Replay) Snapshot() *Replay {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]*BattleView, len(r.Views))
	copy(views, r.Views)
	return &Replay{BattleID: r.BattleID, Views: views}
}

// Frame returns the view at index with its position.
func (r *Replay) Frame(index int) (*ReplayFrame, error) {
	v := r.At(index)
	if v == nil {
		return nil, fmt.Errorf("%w: %d of %d", ErrReplayIndex, index, r.Size())
	}
	return &ReplayFrame{BattleID: r.BattleID, Index: index, Count: r.Size(), View: v}, nil
}

// Step moves the cursor and returns the view it lands on. Start returns the
// first view, Next the view at the cursor, Previous the one before it and
// Skip moves by count.
func (r *Replay) Step(move string, count int) (*ReplayFrame, error) {
	var (
		v     *BattleView
		index int
	)
	switch move {
	case ReplayStart:
		r.Start()
		v = r.Next()
	case ReplayNext, "":
		v = r.Next()
	case ReplayPrevious:
		v = r.Previous()
		index = r.Cursor()
	case ReplaySkip:
		v = r.Skip(count)
		index = r.Cursor()
	default:
		return nil, fmt.Errorf("%w: replay move %q", ErrUnknownIntent, move)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: cursor at %d of %d", ErrReplayIndex, r.Cursor(), r.Size())
	}
	if move != ReplayPrevious && move != ReplaySkip {
		index = r.Cursor() - 1
	}
	return &ReplayFrame{BattleID: r.BattleID, Index: index, Count: r.Size(), View: v}, nil
}

type replayMetadata struct {
	BattleID  string
	Timestamp time.Time
	Version   int
	ViewCount int
}

// SaveToFile writes the replay as <dir>/<battle id>.replay (gzip + gob).
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, r.BattleID+".replay")
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	zw := gzip.NewWriter(file)
	enc := gob.NewEncoder(zw)

	meta := replayMetadata{
		BattleID:  r.BattleID,
		Timestamp: time.Now(),
		Version:   1,
		ViewCount: len(r.Views),
	}
	if err := enc.Encode(&meta); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i, v := range r.Views {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode view %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush replay: %w", err)
	}
	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, battleID string) (*Replay, error) {
	filename := filepath.Join(directory, battleID+".replay")

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()

	dec := gob.NewDecoder(zr)
	var meta replayMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.Version != 1 {
		return nil, fmt.Errorf("unsupported replay version: %d", meta.Version)
	}

	replay := NewReplay(meta.BattleID)
	for i := 0; i < meta.ViewCount; i++ {
		var v BattleView
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode view %d: %w", i, err)
		}
		replay.Views = append(replay.Views, &v)
	}
	return replay, nil
}

// ReplayRecorder keeps the replays of running battles.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay
	saveDir string
}

// NewReplayRecorder creates a recorder archiving into saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// StartRecording begins a fresh replay for battleID.
func (rr *ReplayRecorder) StartRecording(battleID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[battleID] = NewReplay(battleID)
	rr.logger.Info("started replay recording", zap.String("battle_id", battleID))
}

// Record appends view to the battle's replay if one is recording.
func (rr *ReplayRecorder) Record(battleID string, view *BattleView) {
	rr.mu.RLock()
	replay := rr.replays[battleID]
	rr.mu.RUnlock()

	if replay == nil {
		return
	}
	replay.Record(view)
	rr.logger.Debug("recorded replay view",
		zap.String("battle_id", battleID),
		zap.Int("view_count", replay.Size()))
}

// Replay returns the in-memory replay of a battle.
func (rr *ReplayRecorder) Replay(battleID string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	r, ok := rr.replays[battleID]
	return r, ok
}

// Archive writes the replay to disk and drops it from memory.
func (rr *ReplayRecorder) Archive(battleID string) error {
	rr.mu.RLock()
	replay, ok := rr.replays[battleID]
	rr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrReplayNotFound, battleID)
	}

	// the replay stays readable from memory until the file is complete
	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}
	rr.mu.Lock()
	delete(rr.replays, battleID)
	rr.mu.Unlock()
	rr.logger.Info("saved replay to disk",
		zap.String("battle_id", battleID),
		zap.Int("view_count", replay.Size()),
		zap.String("directory", rr.saveDir))
	return nil
}

// Load reads an archived replay.
func (rr *ReplayRecorder) Load(battleID string) (*Replay, error) {
	return LoadReplayFromFile(rr.saveDir, battleID)
}

// Discard drops a replay without saving it.
func (rr *ReplayRecorder) Discard(battleID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	delete(rr.replays, battleID)
}
