package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
	"github.com/queuefight/queuefight-server/internal/game/units"
	"github.com/queuefight/queuefight-server/internal/repository"
)

// BattleServiceName is the fully qualified gRPC service name.
const BattleServiceName = "queuefight.v1.BattleService"

// Full method names, usable with grpc.ClientConn.Invoke.
const (
	MethodStartBattle = "/" + BattleServiceName + "/StartBattle"
	MethodDispatch    = "/" + BattleServiceName + "/Dispatch"
	MethodGetView     = "/" + BattleServiceName + "/GetView"
	MethodListBattles = "/" + BattleServiceName + "/ListBattles"
	MethodGetReplay   = "/" + BattleServiceName + "/GetReplay"
)

// StartBattleRequest is the JSON shape of a StartBattle payload.
type StartBattleRequest struct {
	First  game.TeamSpec `json:"first"`
	Second game.TeamSpec `json:"second"`
}

// DispatchRequest is the JSON shape of a Dispatch payload.
type DispatchRequest struct {
	BattleID string      `json:"battle_id"`
	Intent   game.Intent `json:"intent"`
}

// GetViewRequest is the JSON shape of a GetView payload.
type GetViewRequest struct {
	BattleID string `json:"battle_id"`
}

// GetReplayRequest is the JSON shape of a GetReplay payload.
type GetReplayRequest struct {
	BattleID string `json:"battle_id"`
	Index    int    `json:"index"`
}

// battleServer serves BattleService. Payloads travel as structpb.Struct so no
// generated stubs are needed.
type battleServer struct {
	manager *game.Manager
	logger  *zap.Logger
}

// battleService is implemented by battleServer; the ServiceDesc HandlerType
// uses it to check registrations.
type battleService interface {
	StartBattle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetView(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListBattles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReplay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(battleService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(battleService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(battleService), ctx, req.(*structpb.Struct))
		})
	}
}

var battleServiceDesc = grpc.ServiceDesc{
	ServiceName: BattleServiceName,
	HandlerType: (*battleService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartBattle", Handler: unaryHandler(MethodStartBattle, battleService.StartBattle)},
		{MethodName: "Dispatch", Handler: unaryHandler(MethodDispatch, battleService.Dispatch)},
		{MethodName: "GetView", Handler: unaryHandler(MethodGetView, battleService.GetView)},
		{MethodName: "ListBattles", Handler: unaryHandler(MethodListBattles, battleService.ListBattles)},
		{MethodName: "GetReplay", Handler: unaryHandler(MethodGetReplay, battleService.GetReplay)},
	},
	Metadata: "queuefight/v1/battle.proto",
}

// RegisterBattleService registers BattleService on s.
func RegisterBattleService(s grpc.ServiceRegistrar, manager *game.Manager, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(&battleServiceDesc, &battleServer{manager: manager, logger: logger})
}

// NewGRPCServer builds a gRPC server with recovery and logging interceptors,
// BattleService and the standard health service registered.
func NewGRPCServer(cfg config.GRPCConfig, manager *game.Manager, logger *zap.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams))
	}
	s := grpc.NewServer(opts...)
	RegisterBattleService(s, manager, logger)

	hs := health.NewServer()
	hs.SetServingStatus(BattleServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

func (s *battleServer) StartBattle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in StartBattleRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	view, err := s.manager.Create(ctx, in.First, in.Second)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("battle started via gRPC",
		zap.String("battle_id", view.BattleID),
		zap.String("peer", extractHostFromContext(ctx)),
	)
	return toStruct(view)
}

func (s *battleServer) Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in DispatchRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.BattleID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "battle_id is required")
	}
	view, err := s.manager.Dispatch(ctx, in.BattleID, in.Intent)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

func (s *battleServer) GetView(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in GetViewRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.BattleID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "battle_id is required")
	}
	view, err := s.manager.View(in.BattleID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

func (s *battleServer) ListBattles(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ids := s.manager.List()
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	out, err := structpb.NewStruct(map[string]any{"battle_ids": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode battle list: %v", err)
	}
	return out, nil
}

func (s *battleServer) GetReplay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in GetReplayRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.BattleID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "battle_id is required")
	}
	frame, err := s.manager.ReplayFrame(in.BattleID, in.Index)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(frame)
}

func fromStruct(in *structpb.Struct, out any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, game.ErrBattleNotFound),
		errors.Is(err, game.ErrReplayNotFound),
		errors.Is(err, repository.ErrSlotNotFound):
		code = codes.NotFound
	case errors.Is(err, game.ErrUnknownIntent),
		errors.Is(err, game.ErrInvalidRewind),
		errors.Is(err, game.ErrEmptyRoster),
		errors.Is(err, game.ErrReplayIndex),
		errors.Is(err, units.ErrUnknownArchetype),
		errors.Is(err, repository.ErrInvalidSlot):
		code = codes.InvalidArgument
	case errors.Is(err, game.ErrWrongState),
		errors.Is(err, game.ErrNothingToUndo),
		errors.Is(err, game.ErrNothingToRedo),
		errors.Is(err, game.ErrNoStore),
		errors.Is(err, game.ErrReplaysDisabled):
		code = codes.FailedPrecondition
	case errors.Is(err, game.ErrChecksumMismatch):
		code = codes.DataLoss
	}
	return status.Error(code, err.Error())
}

func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return ""
}
