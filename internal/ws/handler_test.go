package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sup := supervisor.New(supervisor.Options{
		ExtensionsDir: t.TempDir(),
		Logger:        logging.NewNop(),
		Metrics:       monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})
	handler := NewHandler(sup, logging.NewNop(), monitoring.NewMetricsWith(prometheus.NewRegistry()))

	router := gin.New()
	router.GET("/stream", handler.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, sup
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamWelcomeAndPing(t *testing.T) {
	srv, _ := newStreamServer(t)
	conn := dialStream(t, srv)

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "system", welcome["type"])
	assert.NotEmpty(t, welcome["connection_id"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	var errFrame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])
}

func TestStreamConcurrentPingsAndEvents(t *testing.T) {
	srv, sup := newStreamServer(t)
	conn := dialStream(t, srv)

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))

	// Pings answered by the reader goroutine interleave with events
	// written by the forwarding loop; both must land intact on one
	// connection.
	const rounds = 50
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < rounds; i++ {
			if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}()
	for i := 0; i < rounds; i++ {
		_, err := sup.ExecuteCommand("workbench.reload", nil)
		require.NoError(t, err)
	}
	<-writerDone

	pongs, hostEvents := 0, 0
	deadline := time.Now().Add(3 * time.Second)
	for pongs < rounds && time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		switch frame["type"] {
		case "pong":
			pongs++
		case "host-command":
			hostEvents++
			assert.Equal(t, "workbench.reload", frame["command"])
		}
	}

	assert.Equal(t, rounds, pongs)
	assert.Greater(t, hostEvents, 0)
}
