package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/supervisor"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Handler streams supervisor events to WebSocket observers.
type Handler struct {
	sup     *supervisor.Supervisor
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a WebSocket handler over the supervisor's event feed.
func NewHandler(sup *supervisor.Supervisor, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		sup:     sup,
		log:     log.Named("ws"),
		metrics: metrics,
	}
}

// clientMessage is the inbound frame shape from observers.
type clientMessage struct {
	Type string `json:"type"`
}

// observerConn serializes writes to one connection. The reader goroutine
// answers pings while the event loop forwards events; gorilla/websocket
// allows only a single concurrent writer per connection.
type observerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *observerConn) send(data interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(data)
}

// HandleConnection upgrades the request and forwards supervisor events
// until the client disconnects. Events are fire-and-forget: a client
// that stops reading gets dropped, never backpressured into the
// supervisor.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()
	conn := &observerConn{conn: raw}

	connID := uuid.NewString()
	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	events, cancel := h.sup.Subscribe()
	defer cancel()

	conn.send(map[string]interface{}{
		"type":          "system",
		"message":       "Connected to extension host event feed",
		"connection_id": connID,
	})

	// Reader loop signals disconnect and answers pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg clientMessage
			if err := raw.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "ping":
				conn.send(map[string]interface{}{"type": "pong"})
			default:
				conn.send(map[string]interface{}{
					"type":    "error",
					"message": "unknown message type",
				})
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			payload := map[string]interface{}{
				"type":      string(event.Type),
				"timestamp": time.Now().Unix(),
			}
			if event.ExtensionID != "" {
				payload["extension_id"] = event.ExtensionID
			}
			if event.Message != "" {
				payload["message"] = event.Message
				payload["level"] = event.Level
			}
			if event.Command != "" {
				payload["command"] = event.Command
			}
			if err := conn.send(payload); err != nil {
				h.log.Debug("observer write failed, dropping",
					zap.String("connection", connID), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
