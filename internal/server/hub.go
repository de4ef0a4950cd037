package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/queuefight/queuefight-server/internal/game"
)

// WebSocket message types
const (
	MsgCreateBattle = "create_battle"
	MsgJoinBattle   = "join_battle"
	MsgIntent       = "intent"
	MsgListBattles  = "list_battles"
	MsgReplayStep   = "replay_step"

	MsgBattleView = "battle_view"
	MsgBattleList = "battle_list"
	MsgReplayView = "replay_frame"
	MsgError      = "error"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type     string          `json:"type"`
	BattleID string          `json:"battle_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// replayStep moves a client's replay cursor. Move is one of the game.Replay*
// moves; Count is used by skip.
type replayStep struct {
	Move  string `json:"move"`
	Count int    `json:"count,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Client is one renderer connection. It follows at most one battle.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// following and replay are only touched by the read goroutine; the hub
	// keeps its own copy of following in clients.
	following string
	replay    *game.Replay
}

type publication struct {
	battleID string
	payload  []byte
}

type delivery struct {
	client  *Client
	payload []byte
}

type subscription struct {
	client   *Client
	battleID string
}

// Hub fans battle views out to subscribed clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	manager *game.Manager
	logger  *zap.Logger

	clients    map[*Client]string
	done       chan struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	direct     chan delivery
	broadcast  chan publication
}

// NewHub creates a hub and subscribes it to the manager's views.
func NewHub(manager *game.Manager, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		manager:    manager,
		logger:     logger,
		clients:    make(map[*Client]string),
		done:       make(chan struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		direct:     make(chan delivery),
		broadcast:  make(chan publication, sendBuffer),
	}
	manager.SetSubscriber(h.Publish)
	return h
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = ""
			h.logger.Debug("websocket client registered", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client unregistered", zap.Int("clients", len(h.clients)))
			}

		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; ok {
				h.clients[sub.client] = sub.battleID
			}

		case d := <-h.direct:
			if _, ok := h.clients[d.client]; !ok {
				continue
			}
			select {
			case d.client.send <- d.payload:
			default:
				h.logger.Warn("client send buffer full, dropping reply")
			}

		case pub := <-h.broadcast:
			for c, following := range h.clients {
				if following != pub.battleID {
					continue
				}
				select {
				case c.send <- pub.payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Publish queues view for every client following its battle. It is the
// manager's view subscriber.
func (h *Hub) Publish(view *game.BattleView) {
	payload, err := encodeMessage(MsgBattleView, view.BattleID, view)
	if err != nil {
		h.logger.Error("failed to encode battle view", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- publication{battleID: view.BattleID, payload: payload}:
	default:
		h.logger.Warn("dropping battle view, broadcast queue full", zap.String("battle_id", view.BattleID))
	}
}

func encodeMessage(typ, battleID string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: typ, BattleID: battleID, Data: raw})
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, msg WSMessage) {
	switch msg.Type {
	case MsgCreateBattle:
		var req StartBattleRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError(msg.BattleID, "decode create_battle: "+err.Error(), codes.InvalidArgument.String())
			return
		}
		view, err := h.manager.Create(ctx, req.First, req.Second)
		if err != nil {
			c.sendError("", err.Error(), statusCodeName(err))
			return
		}
		h.follow(c, view.BattleID)
		c.sendMessage(MsgBattleView, view.BattleID, view)

	case MsgJoinBattle:
		view, err := h.manager.View(msg.BattleID)
		if err != nil {
			c.sendError(msg.BattleID, err.Error(), statusCodeName(err))
			return
		}
		h.follow(c, msg.BattleID)
		c.sendMessage(MsgBattleView, msg.BattleID, view)

	case MsgIntent:
		var intent game.Intent
		if err := json.Unmarshal(msg.Data, &intent); err != nil {
			c.sendError(msg.BattleID, "decode intent: "+err.Error(), codes.InvalidArgument.String())
			return
		}
		view, err := h.manager.Dispatch(ctx, msg.BattleID, intent)
		if err != nil {
			c.sendError(msg.BattleID, err.Error(), statusCodeName(err))
			return
		}
		// mutating intents reach followers through Publish
		if intent.Type == game.IntentView || intent.Type == game.IntentSave || c.following != msg.BattleID {
			c.sendMessage(MsgBattleView, msg.BattleID, view)
		}

	case MsgListBattles:
		c.sendMessage(MsgBattleList, "", h.manager.List())

	case MsgReplayStep:
		var step replayStep
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &step); err != nil {
				c.sendError(msg.BattleID, "decode replay_step: "+err.Error(), codes.InvalidArgument.String())
				return
			}
		}
		if c.replay == nil || c.replay.BattleID != msg.BattleID || step.Move == game.ReplayStart {
			replay, err := h.manager.OpenReplay(msg.BattleID)
			if err != nil {
				c.sendError(msg.BattleID, err.Error(), statusCodeName(err))
				return
			}
			c.replay = replay
		}
		frame, err := c.replay.Step(step.Move, step.Count)
		if err != nil {
			c.sendError(msg.BattleID, err.Error(), statusCodeName(err))
			return
		}
		c.sendMessage(MsgReplayView, msg.BattleID, frame)

	default:
		c.sendError(msg.BattleID, "unknown message type "+msg.Type, codes.InvalidArgument.String())
	}
}

func (h *Hub) follow(c *Client, battleID string) {
	c.following = battleID
	select {
	case h.subscribe <- subscription{client: c, battleID: battleID}:
	case <-h.done:
	}
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (c *Client) sendMessage(typ, battleID string, data any) {
	payload, err := encodeMessage(typ, battleID, data)
	if err != nil {
		c.hub.logger.Error("failed to encode message", zap.String("type", typ), zap.Error(err))
		return
	}
	// only the hub goroutine writes to c.send
	select {
	case c.hub.direct <- delivery{client: c, payload: payload}:
	case <-c.hub.done:
	}
}

func (c *Client) sendError(battleID, text, code string) {
	c.sendMessage(MsgError, battleID, errorPayload{Error: text, Code: code})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "malformed message: "+err.Error(), codes.InvalidArgument.String())
			continue
		}
		c.hub.handleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
