package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
)

// HTTPServer serves the renderer WebSocket and a small JSON API.
type HTTPServer struct {
	cfg     config.WebSocketConfig
	manager *game.Manager
	hub     *Hub
	logger  *zap.Logger

	upgrader websocket.Upgrader
	router   *mux.Router

	mu  sync.Mutex
	srv *http.Server
}

// NewHTTPServer wires routes. The hub must be running for /ws to work.
func NewHTTPServer(cfg config.WebSocketConfig, manager *game.Manager, hub *Hub, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	s := &HTTPServer{
		cfg:     cfg,
		manager: manager,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// renderers are served from other origins during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/battles", s.handleListBattles).Methods(http.MethodGet)
	api.HandleFunc("/battles", s.handleCreateBattle).Methods(http.MethodPost)
	api.HandleFunc("/battles/{id}", s.handleGetBattle).Methods(http.MethodGet)
	api.HandleFunc("/battles/{id}", s.handleCloseBattle).Methods(http.MethodDelete)
	api.HandleFunc("/battles/{id}/intents", s.handleIntent).Methods(http.MethodPost)
	api.HandleFunc("/battles/{id}/replay/{index:[0-9]+}", s.handleReplayFrame).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Serve accepts connections on lis until Shutdown.
func (s *HTTPServer) Serve(lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("starting WebSocket server", zap.String("address", lis.Addr().String()))
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// StartWebSocketServer listens on cfg.Address and serves until Shutdown.
func StartWebSocketServer(s *HTTPServer) error {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *HTTPServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !s.hub.attach(client) {
		conn.Close()
		return
	}

	go client.writePump(s.cfg.PingInterval)
	go client.readPump(context.WithoutCancel(r.Context()))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"battles": len(s.manager.List()),
	})
}

func (s *HTTPServer) handleListBattles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"battle_ids": s.manager.List()})
}

func (s *HTTPServer) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	var req StartBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "decode request: %v", err))
		return
	}
	view, err := s.manager.Create(r.Context(), req.First, req.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetBattle(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.View(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCloseBattle(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleIntent(w http.ResponseWriter, r *http.Request) {
	var intent game.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "decode intent: %v", err))
		return
	}
	view, err := s.manager.Dispatch(r.Context(), mux.Vars(r)["id"], intent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleReplayFrame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "replay index: %v", err))
		return
	}
	frame, err := s.manager.ReplayFrame(vars["id"], index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		st, _ = status.FromError(toStatus(err))
	}
	writeJSON(w, httpStatus(st.Code()), errorPayload{Error: st.Message(), Code: st.Code().String()})
}

func statusCodeName(err error) string {
	return status.Code(toStatus(err)).String()
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.DataLoss:
		return http.StatusUnprocessableEntity
	case codes.Canceled, codes.DeadlineExceeded:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
