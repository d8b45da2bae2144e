package notify

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/paper-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	go hub.Run()

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func TestHubBroadcastsToClient(t *testing.T) {
	t.Parallel()
	hub, url := newHubServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.clientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.OrderExecuted(types.NewExecutionEvent(&types.Order{
		OrderID:        "order-1",
		AccountID:      "acct-1",
		Symbol:         "BTCUSDT",
		Side:           types.SideBuy,
		Quantity:       decimal.NewFromFloat(0.1),
		ExecutionPrice: decimal.NewFromInt(50000),
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"order_id":"order-1"`)
}

func TestHubUnregistersDepartedClient(t *testing.T) {
	t.Parallel()
	hub, url := newHubServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.clientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// Closing the client must unregister it without waiting for the
	// next broadcast write to fail.
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.clientCount() == 0 },
		time.Second, 10*time.Millisecond)
}
