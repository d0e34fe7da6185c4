package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
)

const (
	methodSubscribe    = "irn_subscribe"
	methodUnsubscribe  = "irn_unsubscribe"
	methodPublish      = "irn_publish"
	methodSubscription = "irn_subscription"

	dialTokenTTL = time.Hour
	callTimeout  = 30 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = 1 << 20
)

// frame is one JSON-RPC envelope on the relay socket.
type frame struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *frameError) Error() string {
	return fmt.Sprintf("relay: %d: %s", e.Code, e.Message)
}

type subscriptionData struct {
	ID   string `json:"id"`
	Data struct {
		Topic   string `json:"topic"`
		Message struct {
			Topic       string `json:"topic"`
			Message     string `json:"message"`
			PublishedAt int64  `json:"publishedAt"`
			Tag         int64  `json:"tag"`
		} `json:"message"`
	} `json:"data"`
}

// Client speaks the public relay protocol over a websocket: subscriptions
// by topic, mailbox-backed publishes, and server-pushed deliveries that the
// client acknowledges.
type Client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	metrics *metrics.Metrics

	nextID   atomic.Int64
	out      chan []byte
	messages chan Inbound
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending map[int64]chan frame
	subs    map[string]string
}

// DialConfig carries what the relay handshake needs.
type DialConfig struct {
	// URL is the relay endpoint, ws:// or wss://.
	URL string
	// ProjectID identifies the application to the relay operator.
	ProjectID string
	// Auth signs the dial token. Required.
	Auth *Auth
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Dial connects and authenticates to a relay.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("relay: auth identity is required")
	}

	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: parsing url: %w", err)
	}
	token, err := cfg.Auth.Token(cfg.URL, dialTokenTTL)
	if err != nil {
		return nil, err
	}
	query := endpoint.Query()
	query.Set("auth", token)
	if cfg.ProjectID != "" {
		query.Set("projectId", cfg.ProjectID)
	}
	endpoint.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dialing %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:     conn,
		log:      logger.Component("relay"),
		metrics:  cfg.Metrics,
		out:      make(chan []byte, 64),
		messages: make(chan Inbound, 64),
		done:     make(chan struct{}),
		pending:  make(map[int64]chan frame),
		subs:     make(map[string]string),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Subscribe registers interest in a topic. Subscribing twice is a no-op.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	_, exists := c.subs[topic]
	c.mu.Unlock()
	if exists {
		return nil
	}

	result, err := c.call(ctx, methodSubscribe, map[string]string{"topic": topic})
	if err != nil {
		return fmt.Errorf("relay: subscribing %s: %w", topic, err)
	}

	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return fmt.Errorf("relay: decoding subscription id: %w", err)
	}

	c.mu.Lock()
	c.subs[topic] = subID
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops a topic subscription.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	subID, exists := c.subs[topic]
	if exists {
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	if !exists {
		return nil
	}

	_, err := c.call(ctx, methodUnsubscribe, map[string]string{"topic": topic, "id": subID})
	if err != nil {
		return fmt.Errorf("relay: unsubscribing %s: %w", topic, err)
	}
	return nil
}

// Publish hands one sealed message to the relay mailbox.
func (c *Client) Publish(ctx context.Context, topic, message string, tag int64, ttl time.Duration) error {
	params := map[string]any{
		"topic":   topic,
		"message": message,
		"ttl":     int64(ttl.Seconds()),
		"tag":     tag,
		"prompt":  false,
	}
	if _, err := c.call(ctx, methodPublish, params); err != nil {
		return fmt.Errorf("relay: publishing to %s: %w", topic, err)
	}
	c.metrics.ObserveRelayMessage("out")
	return nil
}

// Messages returns the delivery stream. It closes when the connection dies.
func (c *Client) Messages() <-chan Inbound {
	return c.messages
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(frame{ID: id, JSONRPC: "2.0", Method: method, Params: raw})
	if err != nil {
		return nil, fmt.Errorf("marshaling frame: %w", err)
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.out <- data:
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s timed out", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Client) readPump() {
	defer close(c.messages)
	defer c.Close()

	c.conn.SetReadLimit(wsMaxMessage)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("relay connection lost", "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("dropping undecodable relay frame", "error", err)
			continue
		}

		if f.Method == methodSubscription {
			c.deliver(f)
			continue
		}
		c.resolve(f)
	}
}

// deliver routes one server push to the consumer and acknowledges it.
func (c *Client) deliver(f frame) {
	var sub subscriptionData
	if err := json.Unmarshal(f.Params, &sub); err != nil {
		c.log.Debug("dropping malformed subscription push", "error", err)
		return
	}

	inbound := Inbound{
		Topic:   sub.Data.Topic,
		Message: sub.Data.Message.Message,
		Tag:     sub.Data.Message.Tag,
	}
	select {
	case c.messages <- inbound:
		c.metrics.ObserveRelayMessage("in")
	case <-c.done:
		return
	}

	ack, err := json.Marshal(frame{ID: f.ID, JSONRPC: "2.0", Result: json.RawMessage("true")})
	if err != nil {
		return
	}
	select {
	case c.out <- ack:
	case <-c.done:
	}
}

func (c *Client) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("dropping reply for unknown call", "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
