package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents транслирует события разбора в websocket.
// ?type=ReplayDecoded&type=ReplayDeleted сужает поток; по умолчанию ReplayDecoded и ReplayFailed.
// Медленный клиент теряет события, а не тормозит шину.
func (rs *RestServer) handleEvents(c *gin.Context) {
	types := c.QueryArray("type")
	if len(types) == 0 {
		types = []string{eventbus.TypeReplayDecoded, eventbus.TypeReplayFailed}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	send := make(chan *eventbus.Envelope, wsSendBuffer)
	sub, err := rs.bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		select {
		case send <- ev:
		default:
			logging.Debug("websocket client %s lagging, dropped %s", c.ClientIP(), ev.EventType)
		}
	})
	if err != nil {
		logging.Error("websocket subscribe: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(wsWriteWait))
		return
	}
	defer sub.Unsubscribe()

	logging.Debug("🔌 websocket client %s subscribed to %v", c.ClientIP(), types)
	go readPump(conn, cancel)
	writePump(ctx, conn, send)
}

// readPump нужен только для pong и обнаружения закрытия
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan *eventbus.Envelope) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
