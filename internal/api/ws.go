package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"freelancehub/internal/fanout"
	"freelancehub/internal/model"
	"freelancehub/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type wsMessage struct {
	Type    string       `json:"type"`
	Channel string       `json:"channel,omitempty"`
	Event   *model.Event `json:"event,omitempty"`
}

// wsObserver adapts one WebSocket connection to fanout.Observer. gorilla allows
// a single concurrent data writer, so data frames go through mu.
type wsObserver struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
	once   sync.Once
}

func (o *wsObserver) UserID() string { return o.userID }

func (o *wsObserver) Send(evt model.Event) error {
	return o.write(wsMessage{Type: "event", Event: &evt})
}

func (o *wsObserver) write(msg wsMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return o.conn.WriteJSON(msg)
}

// WriteControl may run concurrently with WriteJSON.
func (o *wsObserver) ping() error {
	return o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close is called by the hub, possibly while it holds its own lock, so it must
// not wait for an in-flight write: closing the socket unblocks that write.
func (o *wsObserver) Close() error {
	var err error
	o.once.Do(func() { err = o.conn.Close() })
	return err
}

type WSHandler struct {
	hub      *fanout.Hub
	svc      *service.Marketplace
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(hub *fanout.Hub, svc *service.Marketplace, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || origin == allowed {
						return true
					}
				}
				return false
			},
		},
		logger: logger,
	}
}

// ObserveProject GET /ws/projects/:id
// 只推送 audience 包含当前用户的事件
func (h *WSHandler) ObserveProject(c *gin.Context) {
	actor, _ := ActorFrom(c)
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	obs, ok := h.upgrade(c, actor)
	if !ok {
		return
	}
	h.serve(obs, h.hub.SubscribeProject(p.ID, obs))
}

// ObserveUser GET /ws/me
func (h *WSHandler) ObserveUser(c *gin.Context) {
	actor, _ := ActorFrom(c)
	obs, ok := h.upgrade(c, actor)
	if !ok {
		return
	}
	h.serve(obs, h.hub.SubscribeUser(obs))
}

func (h *WSHandler) upgrade(c *gin.Context, actor model.Actor) (*wsObserver, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		h.logger.Info("WebSocket upgrade failed", zap.String("user_id", actor.ID), zap.Error(err))
		return nil, false
	}
	return &wsObserver{conn: conn, userID: actor.ID}, true
}

// serve 阻塞直到连接断开或订阅被 hub 驱逐
func (h *WSHandler) serve(obs *wsObserver, sub *fanout.Subscription) {
	defer sub.Close()

	log := h.logger.With(zap.String("channel", sub.Channel()), zap.String("user_id", obs.userID))
	if err := obs.write(wsMessage{Type: "connected", Channel: sub.Channel()}); err != nil {
		log.Info("Failed to send welcome message", zap.Error(err))
		return
	}

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := obs.ping(); err != nil {
					sub.Close()
					return
				}
			}
		}
	}()

	conn := obs.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// 客户端只读；读循环用来处理 pong 和发现断线
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
