package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FxGuard/internal/domain/models"
	"FxGuard/pkg/logger"
)

const NameFinnhub = "finnhub"

type FinnhubConfig struct {
	APIKey         string
	WebSocketURL   string
	Pairs          []models.CurrencyPair
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	MaxTickAge     time.Duration
	Priority       int
}

type tick struct {
	price float64
	at    time.Time
}

// FinnhubStream subscribes to Finnhub's forex trade feed and serves the latest tick
// per pair as an observation. Ticks older than MaxTickAge are reported as stale.
type FinnhubStream struct {
	cfg    FinnhubConfig
	log    *logger.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	mu        sync.RWMutex
	last      map[models.CurrencyPair]tick
	conn      *websocket.Conn
	connected bool
}

func NewFinnhubStream(cfg FinnhubConfig, log *logger.Logger) *FinnhubStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxTickAge <= 0 {
		cfg.MaxTickAge = time.Minute
	}
	return &FinnhubStream{
		cfg:    cfg,
		log:    log.With("finnhub"),
		dialer: websocket.DefaultDialer,
		now:    time.Now,
		last:   make(map[models.CurrencyPair]tick),
	}
}

func (s *FinnhubStream) Name() string  { return NameFinnhub }
func (s *FinnhubStream) Priority() int { return s.cfg.Priority }

// FinnhubSymbol is the OANDA symbol Finnhub uses for pair.
func FinnhubSymbol(pair models.CurrencyPair) string {
	return "OANDA:" + pair.Base() + "_" + pair.Quote()
}

func pairFromSymbol(sym string) (models.CurrencyPair, bool) {
	sym = strings.TrimPrefix(sym, "OANDA:")
	p, err := models.ParsePair(sym)
	return p, err == nil
}

func (s *FinnhubStream) Fetch(ctx context.Context, pair models.CurrencyPair) (models.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return models.PriceObservation{}, newFetchError(NameFinnhub, pair, KindTimeout, err)
	}

	s.mu.RLock()
	t, ok := s.last[pair]
	s.mu.RUnlock()

	if !ok {
		if !s.subscribed(pair) {
			return models.PriceObservation{}, newFetchError(NameFinnhub, pair, KindUnsupported, errUnsupportedPair)
		}
		return models.PriceObservation{}, newFetchError(NameFinnhub, pair, KindStale, errors.New("no tick received yet"))
	}
	if age := s.now().Sub(t.at); age > s.cfg.MaxTickAge {
		return models.PriceObservation{}, newFetchError(NameFinnhub, pair, KindStale, fmt.Errorf("last tick is %s old", age.Truncate(time.Second)))
	}

	return models.PriceObservation{Pair: pair, Price: t.price, Source: NameFinnhub, ObservedAt: t.at}, nil
}

func (s *FinnhubStream) subscribed(pair models.CurrencyPair) bool {
	for _, p := range s.cfg.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// Run keeps the stream connected until ctx is cancelled.
func (s *FinnhubStream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("finnhub stream dropped, reconnecting", logger.Error(err), logger.Duration("delay_ms", s.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *FinnhubStream) session(ctx context.Context) error {
	u, err := url.Parse(s.cfg.WebSocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	s.setConn(conn)
	defer s.setConn(nil)

	for _, p := range s.cfg.Pairs {
		msg := map[string]string{"type": "subscribe", "symbol": FinnhubSymbol(p)}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", p, err)
		}
	}
	s.log.Info("finnhub stream connected", logger.Int("pairs", len(s.cfg.Pairs)))

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}
		s.handleFrame(b)
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (s *FinnhubStream) handleFrame(b []byte) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range m.Data {
		pair, ok := pairFromSymbol(d.S)
		if !ok || d.P <= 0 {
			continue
		}
		at := time.UnixMilli(d.T).UTC()
		if prev, ok := s.last[pair]; ok && prev.at.After(at) {
			continue
		}
		s.last[pair] = tick{price: d.P, at: at}
	}
}

func (s *FinnhubStream) setConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil && s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = c
	s.connected = c != nil
}

func (s *FinnhubStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close drops the current connection; Run reconnects unless its ctx is done.
func (s *FinnhubStream) Close() error {
	s.setConn(nil)
	return nil
}
