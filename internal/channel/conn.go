// Package channel is the persistent bidirectional message channel to the
// artifact service. Download events are routed to subscribers by request id.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Options configures a Conn
type Options struct {
	URL    string
	APIKey string

	PingInterval   time.Duration
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration

	// SubscriberBuffer is the per-request queue length
	SubscriberBuffer int
}

// DefaultOptions returns options for url
func DefaultOptions(url, apiKey string) Options {
	return Options{
		URL:              url,
		APIKey:           apiKey,
		PingInterval:     30 * time.Second,
		ReconnectDelay:   5 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscriberBuffer: 64,
	}
}

type subscription struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// Conn is a reconnecting websocket client
type Conn struct {
	opts   Options
	dialer websocket.Dialer
	log    logger.Logger

	writeMu sync.Mutex
	wsMu    sync.RWMutex
	ws      *websocket.Conn

	connected atomic.Bool

	subsMu sync.Mutex
	subs   map[string]*subscription

	hooksMu   sync.Mutex
	onConnect []func()
	handlers  map[string][]func(Message)
}

// New creates a Conn; call Run to connect
func New(opts Options) *Conn {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Conn{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log:      logger.With("component", "channel"),
		subs:     make(map[string]*subscription),
		handlers: make(map[string][]func(Message)),
	}
}

// Connected reports whether the channel is currently up
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// OnConnect registers fn to run (in its own goroutine) after every successful dial
func (c *Conn) OnConnect(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Handle registers fn for messages of msgType that carry no subscribed request id
func (c *Conn) Handle(msgType string, fn func(Message)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], fn)
}

// Subscribe routes messages carrying requestID to the returned channel until
// cancel is called. cancel is idempotent.
func (c *Conn) Subscribe(requestID string) (<-chan Message, func()) {
	sub := &subscription{
		ch:   make(chan Message, c.opts.SubscriberBuffer),
		done: make(chan struct{}),
	}

	c.subsMu.Lock()
	if old, ok := c.subs[requestID]; ok {
		old.close()
	}
	c.subs[requestID] = sub
	c.subsMu.Unlock()

	cancel := func() {
		c.subsMu.Lock()
		if c.subs[requestID] == sub {
			delete(c.subs, requestID)
		}
		c.subsMu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Subscribers returns the number of live subscriptions
func (c *Conn) Subscribers() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.subs)
}

// Send writes msg as a JSON text frame
func (c *Conn) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.TextMessage, data)
}

// SendBinary writes header and payload as a binary frame
func (c *Conn) SendBinary(ctx context.Context, header Message, payload []byte) error {
	data, err := EncodeBinary(header, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.BinaryMessage, data)
}

func (c *Conn) write(ctx context.Context, messageType int, data []byte) error {
	c.wsMu.RLock()
	ws := c.ws
	c.wsMu.RUnlock()

	if ws == nil || !c.Connected() {
		return domain.ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return nil
}

// Run dials and serves the connection, reconnecting until ctx is done
func (c *Conn) Run(ctx context.Context) error {
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("channel disconnected, reconnecting", "error", err, "delay", c.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Conn) serve(ctx context.Context) error {
	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial channel (status: %s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to dial channel: %w", err)
	}

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()
	c.connected.Store(true)
	c.log.Info("channel connected", "url", c.opts.URL)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.connected.Store(false)
		c.wsMu.Lock()
		c.ws = nil
		c.wsMu.Unlock()
		ws.Close()
		c.failSubscribers("channel connection lost")
	}()

	go c.keepAlive(ctx, ws, done)
	c.fireConnect()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		msg, err := DecodeFrame(messageType, data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// keepAlive pings on an interval and closes ws when ctx ends
func (c *Conn) keepAlive(ctx context.Context, ws *websocket.Conn, done <-chan struct{}) {
	var tick <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.writeMu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			ws.Close()
			return
		case <-tick:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.log.Debug("ping failed", "error", err)
				ws.Close()
				return
			}
		}
	}
}

func (c *Conn) fireConnect() {
	c.hooksMu.Lock()
	hooks := make([]func(), len(c.onConnect))
	copy(hooks, c.onConnect)
	c.hooksMu.Unlock()

	for _, fn := range hooks {
		go fn()
	}
}

func (c *Conn) dispatch(msg Message) {
	if msg.RequestID != "" {
		c.subsMu.Lock()
		sub, ok := c.subs[msg.RequestID]
		c.subsMu.Unlock()

		if ok {
			select {
			case sub.ch <- msg:
			case <-sub.done:
			}
			return
		}
	}

	c.hooksMu.Lock()
	handlers := c.handlers[msg.Type]
	c.hooksMu.Unlock()

	if len(handlers) == 0 {
		c.log.Debug("unrouted message", "type", msg.Type, "request_id", msg.RequestID)
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}

// failSubscribers tells every in-flight download that the connection dropped
func (c *Conn) failSubscribers(reason string) {
	c.subsMu.Lock()
	subs := make(map[string]*subscription, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.subsMu.Unlock()

	for id, sub := range subs {
		select {
		case sub.ch <- Message{Type: TypeDownloadError, RequestID: id, Error: reason}:
		case <-sub.done:
		default:
		}
	}
}
