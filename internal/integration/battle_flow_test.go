package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
	"github.com/queuefight/queuefight-server/internal/game/units"
	"github.com/queuefight/queuefight-server/internal/repository"
	"github.com/queuefight/queuefight-server/internal/server"
)

type battleEnv struct {
	cfg     *config.Config
	store   repository.Store
	replays *game.ReplayRecorder
	manager *game.Manager
	conn    *grpc.ClientConn
	logger  *zap.Logger
}

func loadConfig(t testing.TB) *config.Config {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "battle:\n  seed: 99\n  max_undo_depth: 40\n" +
		"storage:\n  backend: sqlite\n  sqlite_path: " + filepath.Join(dir, "saves.db") + "\n" +
		"replay:\n  enabled: true\n  dir: " + filepath.Join(dir, "replays") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

// newBattleEnv wires a manager and gRPC server the way cmd/server does. A nil
// store opens the one named by cfg.
func newBattleEnv(t testing.TB, cfg *config.Config, store repository.Store) *battleEnv {
	logger := zaptest.NewLogger(t)
	if store == nil {
		var err error
		store, err = repository.Open(context.Background(), cfg.Storage, logger)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}

	catalog, err := units.LoadCatalog(cfg.Battle.CatalogFile)
	require.NoError(t, err)
	replays := game.NewReplayRecorder(logger, cfg.Replay.Dir)
	manager := game.NewManager(logger, units.NewFactory(catalog, nil), store, replays, game.ManagerConfig{
		Budget:       cfg.Battle.Budget,
		MaxUndoDepth: cfg.Battle.MaxUndoDepth,
		Seed:         cfg.Battle.Seed,
	})

	lis := bufconn.Listen(1 << 20)
	grpcServer := server.NewGRPCServer(cfg.Server.GRPC, manager, logger)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &battleEnv{cfg: cfg, store: store, replays: replays, manager: manager, conn: conn, logger: logger}
}

func (e *battleEnv) call(t testing.TB, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = e.conn.Invoke(context.Background(), method, in, out)
	return out, err
}

func (e *battleEnv) start(t testing.TB) string {
	view, err := e.call(t, server.MethodStartBattle, map[string]any{
		"first":  map[string]any{"name": "Red", "units": []any{"StrongFighter", "Archer", "Healer"}},
		"second": map[string]any{"name": "Blue", "units": []any{"StrongFighter", "WeakFighter", "Wall"}},
	})
	require.NoError(t, err)
	id := view.Fields["battle_id"].GetStringValue()
	require.NotEmpty(t, id)
	return id
}

func (e *battleEnv) intent(t testing.TB, id string, intent map[string]any) *structpb.Struct {
	view, err := e.call(t, server.MethodDispatch, map[string]any{"battle_id": id, "intent": intent})
	require.NoError(t, err)
	return view
}

func round(view *structpb.Struct) int {
	return int(view.Fields["round"].GetNumberValue())
}

// rosters lists id:health per team. Buffs are not part of a save.
func rosters(view *structpb.Struct) [][]string {
	var out [][]string
	for _, team := range view.Fields["teams"].GetListValue().GetValues() {
		var ids []string
		for _, u := range team.GetStructValue().Fields["units"].GetListValue().GetValues() {
			f := u.GetStructValue().Fields
			ids = append(ids, fmt.Sprintf("%v:%v", f["id"].GetNumberValue(), f["health"].GetNumberValue()))
		}
		out = append(out, ids)
	}
	return out
}

func stateOf(view *structpb.Struct) string {
	return view.Fields["state"].GetStringValue()
}

func TestSaveLoadAcrossRestart(t *testing.T) {
	cfg := loadConfig(t)
	env := newBattleEnv(t, cfg, nil)
	id := env.start(t)

	for i := 0; i < 2; i++ {
		env.intent(t, id, map[string]any{"type": game.IntentNextRound})
	}
	saved := env.intent(t, id, map[string]any{"type": game.IntentSave, "slot": "checkpoint"})
	require.Equal(t, 2, round(saved))
	savedRosters := rosters(saved)
	require.NotEmpty(t, savedRosters[0])

	slots, err := env.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "checkpoint", slots[0].Slot)

	// a second server on the same store resumes the saved battle
	restarted := newBattleEnv(t, cfg, env.store)
	other := restarted.start(t)
	loaded := restarted.intent(t, other, map[string]any{"type": game.IntentLoad, "slot": "checkpoint"})
	assert.Equal(t, 2, round(loaded))
	assert.Equal(t, other, loaded.Fields["battle_id"].GetStringValue())
	assert.Equal(t, savedRosters, rosters(loaded))
	assert.False(t, loaded.Fields["can_undo"].GetBoolValue())

	_, err = restarted.call(t, server.MethodDispatch, map[string]any{
		"battle_id": other,
		"intent":    map[string]any{"type": game.IntentLoad, "slot": "nowhere"},
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = restarted.call(t, server.MethodDispatch, map[string]any{
		"battle_id": other,
		"intent":    map[string]any{"type": game.IntentSave, "slot": "../etc"},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUndoRedoRewindOverRPC(t *testing.T) {
	env := newBattleEnv(t, loadConfig(t), nil)
	id := env.start(t)

	for i := 0; i < 4; i++ {
		env.intent(t, id, map[string]any{"type": game.IntentNextRound})
	}
	rewound := env.intent(t, id, map[string]any{"type": game.IntentRewind, "round": 1})
	assert.Equal(t, 1, round(rewound))
	assert.True(t, rewound.Fields["can_redo"].GetBoolValue())

	redone := env.intent(t, id, map[string]any{"type": game.IntentRedoRound})
	assert.Equal(t, 2, round(redone))

	undone := env.intent(t, id, map[string]any{"type": game.IntentUndoRound})
	assert.Equal(t, 1, round(undone))

	next := env.intent(t, id, map[string]any{"type": game.IntentNextRound})
	assert.Equal(t, 2, round(next))
	assert.False(t, next.Fields["can_redo"].GetBoolValue(), "a new round clears redo")
}

func TestBattleRunsToGameOverAndArchivesReplay(t *testing.T) {
	env := newBattleEnv(t, loadConfig(t), nil)
	id := env.start(t)

	var view *structpb.Struct
	for i := 0; i < 200; i++ {
		view = env.intent(t, id, map[string]any{"type": game.IntentNextRound})
		if stateOf(view) == game.StateGameOver.String() {
			break
		}
	}
	require.Equal(t, game.StateGameOver.String(), stateOf(view))
	winner := view.Fields["winner"].GetStringValue()
	assert.True(t, winner == "Red" || winner == "Blue" || view.Fields["draw"].GetBoolValue())

	_, err := env.call(t, server.MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentNextRound},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = os.Stat(filepath.Join(env.cfg.Replay.Dir, id+".replay"))
	require.NoError(t, err)
	replay, err := env.replays.Load(id)
	require.NoError(t, err)
	assert.Equal(t, round(view)+1, replay.Size(), "one view per round plus the opening view")
	assert.Equal(t, 0, replay.At(0).Round)
}
