package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/crypto"
)

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	msgs []Message
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return r.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersAndFansOut(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b", err: errors.New("down")}
	n := NewNotifier([]Sender{a, b}, []string{"order_executed", " alert_triggered "}, discard())

	require.NoError(t, n.Notify(context.Background(), "prices_updated", "t", "m"))
	assert.Empty(t, a.msgs)

	err := n.Notify(context.Background(), "alert_triggered", "BTC above 100000", "to the moon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: down")
	require.Len(t, a.msgs, 1)
	assert.Equal(t, "alert_triggered", a.msgs[0].Event)
	assert.Equal(t, "to the moon", a.msgs[0].Body)
	assert.Len(t, b.msgs, 1)
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "order_executed", "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), Message{Title: "Order 7 executed", Body: "20 USDC -> 3 APT"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Order 7 executed*\n20 USDC -> 3 APT", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Event: "keeper_attention"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestWebhookSenderSigns(t *testing.T) {
	signer := crypto.NewWebhookSigner("s3cret")
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified = signer.Verify(r.Header.Get(crypto.HeaderWebhookTimestamp), body, r.Header.Get(crypto.HeaderWebhookSignature))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "s3cret").Send(context.Background(), Message{Event: "order_executed", Title: "x"}))
	assert.True(t, verified)
}
