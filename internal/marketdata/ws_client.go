package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

const subscribeAckTimeout = 30 * time.Second

var errClosed = errors.New("client closed")

// WSClient implements TradeStream using gorilla/websocket. One connection
// carries every subscribed stream; the exchange routes by stream name.
type WSClient struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps uppercase symbol to its trade channel. The symbol is the
	// stable subscription key, so channels survive a reconnect unchanged.
	subs   map[string]chan Trade
	subsMu sync.RWMutex

	// pendingAcks maps request ID to a channel waiting for the command ack
	pendingAcks   map[uint64]chan error
	pendingAcksMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		subs:        make(map[string]chan Trade),
		pendingAcks: make(map[uint64]chan error),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// streamName renders the aggregate trade stream identifier for a symbol.
func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// SubscribeTrades subscribes to the aggregate trade stream for a symbol.
// The returned channel is closed when the client is closed.
func (c *WSClient) SubscribeTrades(ctx context.Context, symbol string) (<-chan Trade, error) {
	if c.closed.Load() {
		return nil, errClosed
	}

	key := strings.ToUpper(symbol)

	c.subsMu.RLock()
	_, exists := c.subs[key]
	c.subsMu.RUnlock()
	if exists {
		return nil, fmt.Errorf("already subscribed: %s", key)
	}

	if err := c.sendSubscribe(ctx, symbol); err != nil {
		return nil, err
	}

	// Create trade channel with large buffer for backpressure
	// Blocking send ensures no event loss; buffer absorbs burst
	ch := make(chan Trade, 10000)
	c.subsMu.Lock()
	c.subs[key] = ch
	c.subsMu.Unlock()

	return ch, nil
}

// sendSubscribe writes a SUBSCRIBE command and waits for its ack.
func (c *WSClient) sendSubscribe(ctx context.Context, symbol string) error {
	reqID := c.requestID.Add(1)

	req := wsCommand{
		Method: "SUBSCRIBE",
		Params: []string{streamName(symbol)},
		ID:     reqID,
	}

	// Create channel to receive the ack
	confirmCh := make(chan error, 1)
	c.pendingAcksMu.Lock()
	c.pendingAcks[reqID] = confirmCh
	c.pendingAcksMu.Unlock()

	dropPending := func() {
		c.pendingAcksMu.Lock()
		delete(c.pendingAcks, reqID)
		c.pendingAcksMu.Unlock()
	}

	// Send subscribe command
	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Wait for the ack (generous timeout for slow providers)
	select {
	case err := <-confirmCh:
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		return nil
	case <-time.After(subscribeAckTimeout):
		dropPending()
		return fmt.Errorf("subscription timeout after %v", subscribeAckTimeout)
	case <-c.done:
		return errClosed
	case <-ctx.Done():
		dropPending()
		return ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Close all subscription channels
	c.subsMu.Lock()
	for key, ch := range c.subs {
		close(ch)
		delete(c.subs, key)
	}
	c.subsMu.Unlock()

	// Fail pending subscribe waiters
	c.pendingAcksMu.Lock()
	for id, ch := range c.pendingAcks {
		select {
		case ch <- errClosed:
		default:
		}
		delete(c.pendingAcks, id)
	}
	c.pendingAcksMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop pumps frames off the socket and dispatches them, spinning while a
// reconnect is in flight.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Read failed on a live client: start one reconnect and
			// back off exponentially for the next failure.
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// A successful read resets the backoff
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect waits out the backoff delay, dials again and resubscribes every
// active stream. At most one reconnect runs at a time; the reconnecting flag
// is released on exit.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// The next read error schedules another attempt
		return
	}

	c.resubscribeAll()
}

// resubscribeAll re-sends SUBSCRIBE for every active symbol after reconnect.
// Channels are keyed by symbol, so subscribers keep their channel.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	symbols := make([]string, 0, len(c.subs))
	for sym := range c.subs {
		symbols = append(symbols, sym)
	}
	c.subsMu.RUnlock()

	for _, sym := range symbols {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.sendSubscribe(ctx, sym)
		cancel()
		if err != nil {
			// Failed to resubscribe; the next reconnect retries
			continue
		}
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	// Try to parse as command ack first; trade events carry no id field
	var ack wsAck
	if err := json.Unmarshal(message, &ack); err == nil && ack.ID != 0 {
		c.handleAck(&ack)
		return
	}

	// Try to parse as trade event
	var event tradeEvent
	if err := json.Unmarshal(message, &event); err == nil && event.EventType == "aggTrade" {
		c.handleTradeEvent(&event)
		return
	}
}

// handleAck resolves a pending command ack.
func (c *WSClient) handleAck(ack *wsAck) {
	c.pendingAcksMu.Lock()
	ch, ok := c.pendingAcks[ack.ID]
	if ok {
		delete(c.pendingAcks, ack.ID)
	}
	c.pendingAcksMu.Unlock()

	if !ok {
		return
	}

	var err error
	if ack.Error != nil {
		err = ack.Error
	}
	select {
	case ch <- err:
	default:
	}
}

// handleTradeEvent dispatches a trade to its symbol's subscriber.
func (c *WSClient) handleTradeEvent(event *tradeEvent) {
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		fmt.Printf("[ws] bad trade price %q for %s\n", event.Price, event.Symbol)
		return
	}
	qty, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		fmt.Printf("[ws] bad trade quantity %q for %s\n", event.Quantity, event.Symbol)
		return
	}

	trade := Trade{
		Symbol:       event.Symbol,
		AggID:        event.AggID,
		Price:        price,
		Quantity:     qty,
		TimestampMs:  event.TradeTimeMs,
		IsBuyerMaker: event.IsBuyerMaker,
	}

	c.subsMu.RLock()
	ch, ok := c.subs[event.Symbol]
	c.subsMu.RUnlock()

	if ok {
		// Block until we can send - never drop events
		select {
		case ch <- trade:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type wsAck struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wsError        `json:"error"`
}

type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *wsError) Error() string {
	return fmt.Sprintf("stream error %d: %s", e.Code, e.Msg)
}

// tradeEvent is the wire format of one aggregate trade notification.
type tradeEvent struct {
	EventType    string `json:"e"`
	EventTimeMs  int64  `json:"E"`
	Symbol       string `json:"s"`
	AggID        int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

var _ TradeStream = (*WSClient)(nil)
