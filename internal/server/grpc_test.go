package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
	"github.com/queuefight/queuefight-server/internal/game/units"
	"github.com/queuefight/queuefight-server/internal/repository"
)

func newTestManager(t *testing.T) *game.Manager {
	t.Helper()
	cat, err := units.DefaultCatalog()
	require.NoError(t, err)
	return game.NewManager(zaptest.NewLogger(t), units.NewFactory(cat, nil), nil, nil, game.ManagerConfig{
		Budget:       100,
		MaxUndoDepth: 50,
		Seed:         11,
	})
}

func newReplayManager(t *testing.T) *game.Manager {
	t.Helper()
	cat, err := units.DefaultCatalog()
	require.NoError(t, err)
	replays := game.NewReplayRecorder(zaptest.NewLogger(t), t.TempDir())
	return game.NewManager(zaptest.NewLogger(t), units.NewFactory(cat, nil), nil, replays, game.ManagerConfig{
		Budget:       100,
		MaxUndoDepth: 50,
		Seed:         11,
	})
}

func newBufconnClient(t *testing.T, manager *game.Manager) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(config.GRPCConfig{MaxConcurrentStreams: 10}, manager, zaptest.NewLogger(t))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), method, in, out)
	return out, err
}

func knightsSpec(name string) map[string]any {
	return map[string]any{"name": name, "units": []any{"StrongFighter", "StrongFighter"}}
}

func TestBattleServiceFlow(t *testing.T) {
	conn := newBufconnClient(t, newTestManager(t))

	view, err := invoke(t, conn, MethodStartBattle, map[string]any{
		"first":  knightsSpec("Red"),
		"second": knightsSpec("Blue"),
	})
	require.NoError(t, err)
	id := view.Fields["battle_id"].GetStringValue()
	require.NotEmpty(t, id)
	assert.Equal(t, game.StateWaitingForPlayer.String(), view.Fields["state"].GetStringValue())
	assert.Equal(t, 0.0, view.Fields["round"].GetNumberValue())
	assert.Len(t, view.Fields["teams"].GetListValue().GetValues(), 2)

	next, err := invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentNextRound},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, next.Fields["round"].GetNumberValue())
	assert.True(t, next.Fields["can_undo"].GetBoolValue())

	rewound, err := invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentRewind, "round": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rewound.Fields["round"].GetNumberValue())

	got, err := invoke(t, conn, MethodGetView, map[string]any{"battle_id": id})
	require.NoError(t, err)
	assert.Equal(t, id, got.Fields["battle_id"].GetStringValue())

	list, err := invoke(t, conn, MethodListBattles, map[string]any{})
	require.NoError(t, err)
	ids := list.Fields["battle_ids"].GetListValue().GetValues()
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0].GetStringValue())
}

func TestBattleServiceErrors(t *testing.T) {
	conn := newBufconnClient(t, newTestManager(t))

	_, err := invoke(t, conn, MethodGetView, map[string]any{"battle_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, conn, MethodGetView, map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, MethodStartBattle, map[string]any{
		"first":  map[string]any{"name": "Red", "units": []any{"Dragon"}},
		"second": knightsSpec("Blue"),
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	view, err := invoke(t, conn, MethodStartBattle, map[string]any{
		"first":  knightsSpec("Red"),
		"second": knightsSpec("Blue"),
	})
	require.NoError(t, err)
	id := view.Fields["battle_id"].GetStringValue()

	_, err = invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentUndoRound},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentRewind, "round": 4},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": "dance"},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    "next_round",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetReplay(t *testing.T) {
	conn := newBufconnClient(t, newReplayManager(t))

	view, err := invoke(t, conn, MethodStartBattle, map[string]any{
		"first":  knightsSpec("Red"),
		"second": knightsSpec("Blue"),
	})
	require.NoError(t, err)
	id := view.Fields["battle_id"].GetStringValue()

	_, err = invoke(t, conn, MethodDispatch, map[string]any{
		"battle_id": id,
		"intent":    map[string]any{"type": game.IntentNextRound},
	})
	require.NoError(t, err)

	frame, err := invoke(t, conn, MethodGetReplay, map[string]any{"battle_id": id, "index": 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, frame.Fields["index"].GetNumberValue())
	assert.Equal(t, 2.0, frame.Fields["count"].GetNumberValue())
	assert.Equal(t, 1.0, frame.Fields["view"].GetStructValue().Fields["round"].GetNumberValue())

	_, err = invoke(t, conn, MethodGetReplay, map[string]any{"battle_id": id, "index": 5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = invoke(t, conn, MethodGetReplay, map[string]any{"battle_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = invoke(t, conn, MethodGetReplay, map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetReplayWithoutRecorder(t *testing.T) {
	conn := newBufconnClient(t, newTestManager(t))
	_, err := invoke(t, conn, MethodGetReplay, map[string]any{"battle_id": "any"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestHealthService(t *testing.T) {
	conn := newBufconnClient(t, newTestManager(t))
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: BattleServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{game.ErrBattleNotFound, codes.NotFound},
		{fmt.Errorf("load: %w", repository.ErrSlotNotFound), codes.NotFound},
		{game.ErrInvalidRewind, codes.InvalidArgument},
		{fmt.Errorf("create: %w", units.ErrUnknownArchetype), codes.InvalidArgument},
		{repository.ErrInvalidSlot, codes.InvalidArgument},
		{game.ErrWrongState, codes.FailedPrecondition},
		{game.ErrNothingToRedo, codes.FailedPrecondition},
		{game.ErrNoStore, codes.FailedPrecondition},
		{game.ErrChecksumMismatch, codes.DataLoss},
		{game.ErrReplayNotFound, codes.NotFound},
		{game.ErrReplayIndex, codes.InvalidArgument},
		{game.ErrReplaysDisabled, codes.FailedPrecondition},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}

func TestChainUnaryInterceptorsOrder(t *testing.T) {
	var calls []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			calls = append(calls, name+" in")
			resp, err := handler(ctx, req)
			calls = append(calls, name+" out")
			return resp, err
		}
	}
	chain := ChainUnaryInterceptors(mark("a"), mark("b"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) {
			calls = append(calls, "handler")
			return "resp", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)
	assert.Equal(t, []string{"a in", "b in", "handler", "b out", "a out"}, calls)
}

func TestRecoveryInterceptor(t *testing.T) {
	chain := ChainUnaryInterceptors(RecoveryInterceptor(zaptest.NewLogger(t)), LoggingInterceptor(zaptest.NewLogger(t)))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodDispatch},
		func(ctx context.Context, req any) (any, error) {
			panic("kaboom")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
}
