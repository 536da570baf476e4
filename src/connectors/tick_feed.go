package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"tradefunnel/src/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type tickMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// TickHandler receives every decoded tick in feed order.
type TickHandler func(model.Tick)

// TickFeed streams ticks from a websocket endpoint and reconnects with backoff.
type TickFeed struct {
	url         string
	readTimeout time.Duration
	maxBackoff  time.Duration
	handlers    []TickHandler
	log         *logger.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
}

func NewTickFeed(cfg Config, log *logger.Entry, handlers ...TickHandler) *TickFeed {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	readTimeout := cfg.TickReadTimeout
	if readTimeout <= 0 {
		readTimeout = time.Minute
	}
	maxBackoff := cfg.TickReconnectMax
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &TickFeed{
		url:         cfg.TickFeedURL,
		readTimeout: readTimeout,
		maxBackoff:  maxBackoff,
		handlers:    handlers,
		log:         log.WithField("component", "tick_feed"),
		symbols:     make(map[string]struct{}),
	}
}

// Subscribe adds symbols to the stream; they are re-sent after every reconnect.
func (f *TickFeed) Subscribe(symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
	}
	if f.conn != nil {
		if err := f.conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
			f.log.WithError(err).Warn("subscribe failed, will resend on reconnect")
		}
	}
}

func (f *TickFeed) subscribed() []string {
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Run keeps the feed connected until ctx is done.
func (f *TickFeed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(250*time.Millisecond, f.maxBackoff)
	b.MaxInterval = f.maxBackoff
	b.MaxElapsedTime = 0

	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		f.log.WithError(err).WithField("retry_in", wait.String()).Warn("tick feed disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (f *TickFeed) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("ws dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	symbols := f.subscribed()
	if len(symbols) > 0 {
		err = conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols})
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()
	if err != nil {
		return true, fmt.Errorf("ws subscribe failed: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	f.log.WithField("url", f.url).Info("tick feed connected")
	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("ws read failed: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *TickFeed) dispatch(msg []byte) {
	var ticks []tickMessage
	if len(msg) > 0 && msg[0] == '[' {
		if err := json.Unmarshal(msg, &ticks); err != nil {
			f.log.WithError(err).Warn("undecodable tick batch")
			return
		}
	} else {
		var t tickMessage
		if err := json.Unmarshal(msg, &t); err != nil {
			f.log.WithError(err).Warn("undecodable tick")
			return
		}
		ticks = append(ticks, t)
	}

	for _, t := range ticks {
		if t.Symbol == "" || t.Price.Sign() <= 0 {
			continue
		}
		at := t.At
		if at.IsZero() {
			at = time.Now()
		}
		tick := model.Tick{Symbol: t.Symbol, Price: t.Price, At: at}
		for _, h := range f.handlers {
			h(tick)
		}
	}
}
