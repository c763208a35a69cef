package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/models"
	"FxGuard/pkg/logger"
)

func TestFinnhubStreamServesLatestTick(t *testing.T) {
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub["symbol"]

		now := time.Now().UnixMilli()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteJSON(map[string]interface{}{
			"type": "trade",
			"data": []map[string]interface{}{
				{"s": "OANDA:EUR_USD", "p": 1.1719, "t": now - 10},
				{"s": "OANDA:EUR_USD", "p": 1.1722, "t": now},
			},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewFinnhubStream(FinnhubConfig{
		APIKey:       "secret",
		WebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Pairs:        []models.CurrencyPair{"EURUSD"},
		MaxTickAge:   time.Minute,
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case sym := <-subscribed:
		assert.Equal(t, "OANDA:EUR_USD", sym)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		_, err := stream.Fetch(context.Background(), "EURUSD")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	obs, err := stream.Fetch(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.1722, obs.Price)
	assert.Equal(t, NameFinnhub, obs.Source)
	assert.True(t, stream.IsConnected())

	_, err = stream.Fetch(context.Background(), "GBPUSD")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestFinnhubStreamStaleTick(t *testing.T) {
	stream := NewFinnhubStream(FinnhubConfig{Pairs: []models.CurrencyPair{"EURUSD"}, MaxTickAge: time.Second}, logger.Nop())

	_, err := stream.Fetch(context.Background(), "EURUSD")
	assert.Equal(t, KindStale, KindOf(err))

	old := time.Now().Add(-time.Hour).UnixMilli()
	stream.handleFrame([]byte(`{"type":"trade","data":[{"s":"OANDA:EUR_USD","p":1.17,"t":` + strconv.FormatInt(old, 10) + `}]}`))

	_, err = stream.Fetch(context.Background(), "EURUSD")
	assert.Equal(t, KindStale, KindOf(err))
}
