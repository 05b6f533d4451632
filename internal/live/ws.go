package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/errs"
)

// TradeMessage is the wire shape of one trade event, provider-agnostic at
// this layer — adapter-specific ws clients (future work) translate their
// own wire formats into this before handing ticks to WSClient.
type TradeMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Time   time.Time       `json:"time"`
}

// SymbolResolver maps a provider symbol to its bundle-local sid, so the
// websocket client never needs to know about the catalog directly.
type SymbolResolver func(symbol string) (int64, error)

// WSClient streams trades over a websocket connection and feeds them to an
// Aggregator. Grounded on internal/providers/kraken/websocket.go's
// dial/read-loop/reconnect-channel shape, generalized from Kraken's
// book/trade channel framing to a single trade-message stream.
type WSClient struct {
	url       string
	resolve   SymbolResolver
	agg       *Aggregator
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closeCh   chan struct{}
}

func NewWSClient(url string, resolve SymbolResolver, agg *Aggregator) *WSClient {
	return &WSClient{url: url, resolve: resolve, agg: agg, closeCh: make(chan struct{})}
}

// Connect dials the websocket endpoint and starts the read loop in the
// background. Connect returns once the handshake completes; message
// processing continues until ctx is canceled or Close is called.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return errs.New(errs.IO, "live.Connect", fmt.Errorf("already connected"))
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return errs.New(errs.IO, "live.Connect", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errs.New(errs.Network, "live.Connect", err)
	}
	c.conn = conn
	c.connected = true

	go c.readLoop(ctx)
	log.Info().Str("url", c.url).Msg("live trade stream connected")
	return nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("live trade read loop panic")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("live trade stream closed unexpectedly")
				return
			}
			log.Error().Err(err).Msg("live trade stream read error")
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg TradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("failed to parse trade message")
			continue
		}

		sid, err := c.resolve(msg.Symbol)
		if err != nil {
			log.Warn().Str("symbol", msg.Symbol).Err(err).Msg("unresolvable symbol on trade stream")
			continue
		}

		c.agg.Ingest(Tick{Sid: sid, Time: msg.Time, Price: msg.Price, Size: msg.Size})
	}
}

func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	close(c.closeCh)
	err := c.conn.Close()
	c.connected = false
	return err
}
