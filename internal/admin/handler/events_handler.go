package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// EventsHandler 通过WebSocket推送实例事件
type EventsHandler struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
	logger   config.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewEventsHandler 创建事件推送处理器
func NewEventsHandler(bus *eventbus.Bus, logger config.Logger) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// RegisterRoutes 注册API路由
func (h *EventsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/events", h.stream)
}

// Close 关闭所有推送连接
func (h *EventsHandler) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// stream 推送订阅之后发布的事件，可按 name 或 instance_id 过滤
func (h *EventsHandler) stream(c echo.Context) error {
	name := c.QueryParam("name")
	instanceID := c.QueryParam("instance_id")

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败", zap.Error(err))
		return nil
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer sub.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 读取循环用于发现客户端断开
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket读取失败", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				closeConn(conn)
				return nil
			}
			if !matches(ev, name, instanceID) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-readDone:
			return nil
		case <-h.stop:
			closeConn(conn)
			return nil
		}
	}
}

func closeConn(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func matches(ev model.InstanceEvent, name, instanceID string) bool {
	if instanceID != "" && ev.InstanceID != instanceID {
		return false
	}
	if name != "" && ev.Name() != name {
		return false
	}
	return true
}
