package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/tradekeeper/internal/cache/memory"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

func readFrame(t *testing.T, conn *websocket.Conn) *structpb.Struct {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	return &s
}

func TestHubForwardsBusEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Full"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Fields["channel"].GetStringValue())
	assert.Equal(t, "full", hello.Fields["event"].GetStructValue().Fields["mode"].GetStringValue())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	payload, err := json.Marshal(domain.LedgerEvent{
		Type:    domain.EventOrderExecuted,
		OrderID: 7,
		Token:   "APT",
		Price:   650_000_000,
		At:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelOrders, payload))

	frame := readFrame(t, conn)
	assert.Equal(t, domain.ChannelOrders, frame.Fields["channel"].GetStringValue())
	event := frame.Fields["event"].GetStructValue().AsMap()
	assert.Equal(t, "order_executed", event["type"])
	assert.Equal(t, float64(7), event["order_id"])
	assert.Equal(t, "6.5", event["price"])
}

func TestHelloQueuedBeforeRegistration(t *testing.T) {
	hub := NewHub(memory.NewSignalBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "keeper"})
	c := hub.newClient(nil)
	require.Len(t, c.send, 1)

	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(<-c.send, &s))
	assert.Equal(t, "hello", s.Fields["channel"].GetStringValue())
	assert.True(t, c.isSubscribed(domain.ChannelOrders))
}

func TestEncodeFrameRejectsNonJSON(t *testing.T) {
	_, err := encodeFrame("orders", []byte("not json"))
	assert.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r), "no origin header")

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker(nil)(r))
}
