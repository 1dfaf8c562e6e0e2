package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"reveal_backend/pkg/logger"
	"reveal_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	revealEventsChannel = "reveal_events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	EventAttempt  = "attempt"
	EventWinner   = "winner"
	EventConsumed = "consumed"
	EventExpired  = "expired"
)

// RevealEvent race 围观者看到的实时事件
type RevealEvent struct {
	Type          string `json:"type"`
	ParticipantID uint   `json:"participantId,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
}

type hubEnvelope struct {
	RevealID string          `json:"revealId"`
	Payload  json.RawMessage `json:"payload"`
}

// WatchClient 一个正在围观某条 race reveal 的连接
type WatchClient struct {
	Hub      *RevealHub
	Conn     *websocket.Conn
	Send     chan []byte
	RevealID string
	UserID   uint
	Limiter  *rate.Limiter
}

// RevealHub 按 revealId 维护围观连接，事件经 redis pub/sub 广播，
// 多实例部署时各实例各自推送本地连接
type RevealHub struct {
	mu         sync.RWMutex
	watchers   map[string]map[*WatchClient]bool
	register   chan *WatchClient
	unregister chan *WatchClient
	Redis      *redis.Client
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewRevealHub(rdb *redis.Client) *RevealHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &RevealHub{
		watchers:   make(map[string]map[*WatchClient]bool),
		register:   make(chan *WatchClient),
		unregister: make(chan *WatchClient),
		Redis:      rdb,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *RevealHub) Run() {
	pubsub := h.Redis.Subscribe(h.ctx, revealEventsChannel)
	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var env hubEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Log.Error("reveal pubsub unmarshal error", zap.Error(err))
				continue
			}
			h.pushLocal(env.RevealID, env.Payload)
		}
	}()

	for {
		select {
		case client := <-h.register:
			h.addWatcher(client)

		case client := <-h.unregister:
			h.removeWatcher(client)

		case <-h.ctx.Done():
			pubsub.Close()
			return
		}
	}
}

func (h *RevealHub) addWatcher(client *WatchClient) {
	h.mu.Lock()
	if h.watchers[client.RevealID] == nil {
		h.watchers[client.RevealID] = make(map[*WatchClient]bool)
	}
	h.watchers[client.RevealID][client] = true
	h.mu.Unlock()
	monitoring.RevealWatchers.Inc()
}

func (h *RevealHub) removeWatcher(client *WatchClient) {
	h.mu.Lock()
	if set, ok := h.watchers[client.RevealID]; ok {
		if _, ok := set[client]; ok {
			delete(set, client)
			close(client.Send)
			monitoring.RevealWatchers.Dec()
		}
		if len(set) == 0 {
			delete(h.watchers, client.RevealID)
		}
	}
	h.mu.Unlock()
}

// dropClient 连接退场。Run 已经退出时不再阻塞等待
func (h *RevealHub) dropClient(client *WatchClient) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *RevealHub) Stop() {
	h.mu.Lock()
	for _, set := range h.watchers {
		for client := range set {
			close(client.Send)
			client.Conn.Close()
		}
	}
	h.watchers = make(map[string]map[*WatchClient]bool)
	h.mu.Unlock()
	h.cancel()
}

// PublishEvent 事件先进 redis，再由各实例的订阅回推本地连接。
// redis 不可用时只记日志，轮询接口仍然可用
func (h *RevealHub) PublishEvent(revealID string, event RevealEvent) {
	if h == nil || h.Redis == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	env, err := json.Marshal(hubEnvelope{RevealID: revealID, Payload: payload})
	if err != nil {
		return
	}
	if err := h.Redis.Publish(h.ctx, revealEventsChannel, env).Err(); err != nil {
		logger.Log.Error("reveal event publish failed",
			zap.String("revealId", revealID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// pushLocal 推送必须在读锁内完成：close(Send) 只发生在持有写锁时，
// 锁外发送会撞上已关闭的通道
func (h *RevealHub) pushLocal(revealID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.watchers[revealID] {
		select {
		case client.Send <- payload:
		default:
			// 写不进去的慢连接直接放弃这条事件
		}
	}
}

// ServeWatch 升级为 websocket 并加入围观
func (h *RevealHub) ServeWatch(c *gin.Context, revealID string, userID uint) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WatchClient{
		Hub:      h,
		Conn:     conn,
		Send:     make(chan []byte, 16),
		RevealID: revealID,
		UserID:   userID,
		Limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump 围观连接不接受任何上行业务消息，只处理心跳和关闭
func (c *WatchClient) readPump() {
	defer func() {
		c.Hub.dropClient(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("websocket unexpected close", zap.Error(err), zap.Uint("userId", c.UserID))
			}
			break
		}
		if !c.Limiter.Allow() {
			continue
		}
	}
}

func (c *WatchClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(c.Send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-c.Send)
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
