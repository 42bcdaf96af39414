package kekeke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/kekekebot/kekeke-go/frame"
	"github.com/kekekebot/kekeke-go/handshake"
	"github.com/kekekebot/kekeke-go/wire"
)

const (
	DefaultEndpoint     = "wss://ws.kekeke.cc/com.liquable.hiroba.websocket"
	DefaultPingInterval = 180 * time.Second
	sendQueueSize       = 64
)

// Authenticator performs the pre-connection login.
type Authenticator interface {
	Authenticate(ctx context.Context, anonymousID, topic string) (handshake.Credentials, error)
}

// Config holds connection parameters.
type Config struct {
	Endpoint      string        // WebSocket URL, DefaultEndpoint if empty
	Topic         string        // room name, without the /topic/ prefix
	NickName      string        // display name, must end in "bot" for use with a Bot
	AnonymousID   string        // generated when empty
	PingInterval  time.Duration // keep-alive PING period, DefaultPingInterval if zero
	DisableDedup  bool          // deliver redelivered MESSAGE frames again
	Authenticator Authenticator // handshake.NewClient() if nil
}

// Client is the kekeke WebSocket connection.
type Client struct {
	cfg   Config
	auth  Authenticator
	dedup *DedupWindow

	mu     sync.RWMutex
	id     Identity
	conn   net.Conn
	sendCh chan []byte
	cancel context.CancelFunc
	done   chan struct{} // closed once the loops have exited
	closed bool

	hmu         sync.RWMutex
	onMessage   func(frame.Frame)
	onConnected func(Identity)
	onClose     func(error)
}

// NewClient creates a client. Nothing is sent until Login.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.AnonymousID == "" {
		cfg.AnonymousID = uuid.NewString()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = handshake.NewClient()
	}
	c := &Client{
		cfg:  cfg,
		auth: auth,
		id:   Identity{NickName: cfg.NickName},
	}
	if !cfg.DisableDedup {
		c.dedup = NewDedupWindow()
	}
	return c
}

// Identity returns the account identity. PublicID, ColorToken and Kerma are
// filled by Login.
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// OnMessage registers a handler for MESSAGE frames. Handlers run on the read
// loop and must not block.
func (c *Client) OnMessage(h func(frame.Frame)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onMessage = chainHandler(c.onMessage, h)
}

// OnConnected registers a handler fired when the service acknowledges CONNECT.
func (c *Client) OnConnected(h func(Identity)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onConnected = chainHandler(c.onConnected, h)
}

// OnClose registers a handler fired once the connection is gone. The error
// is nil after Close.
func (c *Client) OnClose(h func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onClose = chainHandler(c.onClose, h)
}

func chainHandler[T any](existing, additional func(T)) func(T) {
	if existing == nil {
		return additional
	}
	return func(v T) {
		existing(v)
		additional(v)
	}
}

func (c *Client) emitMessage(f frame.Frame) {
	c.hmu.RLock()
	h := c.onMessage
	c.hmu.RUnlock()
	if h != nil {
		h(f)
	}
}

func (c *Client) emitConnected(id Identity) {
	c.hmu.RLock()
	h := c.onConnected
	c.hmu.RUnlock()
	if h != nil {
		h(id)
	}
}

func (c *Client) emitClose(err error) {
	c.hmu.RLock()
	h := c.onClose
	c.hmu.RUnlock()
	if h != nil {
		h(err)
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Login authenticates, opens the WebSocket and sends CONNECT. The loops it
// starts keep running until Close or a connection failure.
func (c *Client) Login(ctx context.Context) error {
	c.mu.RLock()
	already := c.conn != nil || c.closed
	c.mu.RUnlock()
	if already {
		return errors.New("kekeke: login already attempted")
	}

	creds, err := c.auth.Authenticate(ctx, c.cfg.AnonymousID, c.cfg.Topic)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	slog.Debug("handshake complete", "publicId", creds.PublicID, "kerma", creds.Kerma)

	conn, _, _, err := ws.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	login, _ := json.Marshal(wire.LoginPayload{AccessToken: creds.AccessToken, NickName: c.cfg.NickName})
	connect, err := encodeFrame(frame.TypeConnect, frame.Attributes{{Key: wire.AttrLogin, Value: string(login)}}, frame.EmptyPayload)
	if err != nil {
		conn.Close()
		return err
	}
	if err := wsutil.WriteClientText(conn, connect); err != nil {
		conn.Close()
		return fmt.Errorf("send connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.id.PublicID = creds.PublicID
	c.id.ColorToken = creds.ColorToken
	c.id.Kerma = creds.Kerma
	c.conn = conn
	c.sendCh = make(chan []byte, sendQueueSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	sendCh, done := c.sendCh, c.done
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn, sendCh) })
	g.Go(func() error { return c.keepAlive(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	go func() {
		err := g.Wait()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.emitClose(err)
		close(done)
	}()

	slog.Info("connected to kekeke", "endpoint", c.cfg.Endpoint, "topic", c.cfg.Topic)
	return nil
}

// Close disconnects and waits for the connection loops to exit. Safe to call
// more than once, but not from inside a handler.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.closed = true
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

func encodeFrame(t frame.Type, attrs frame.Attributes, payload any) ([]byte, error) {
	f, err := frame.New(t, attrs, payload)
	if err != nil {
		return nil, err
	}
	s, err := frame.Encode(f)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (c *Client) destination() frame.Attributes {
	return frame.Attributes{{Key: wire.AttrDestination, Value: "/topic/" + c.cfg.Topic}}
}

// enqueue hands an encoded frame to the write loop.
func (c *Client) enqueue(ctx context.Context, data []byte) error {
	c.mu.RLock()
	sendCh, done, cancelled := c.sendCh, c.done, c.closed
	c.mu.RUnlock()
	if cancelled {
		return ErrClosed
	}
	if sendCh == nil {
		return ErrNotLoggedIn
	}

	// the loops may have exited before closed is set
	select {
	case <-done:
		return ErrClosed
	default:
	}
	select {
	case sendCh <- data:
		return nil
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) chatPayload(content string, eventType wire.EventType) wire.ChatPayload {
	id := c.Identity()
	return wire.ChatPayload{
		SenderColorToken: id.ColorToken,
		SenderPublicID:   id.PublicID,
		SenderNickName:   id.NickName,
		Content:          html.EscapeString(content),
		Date:             strconv.FormatInt(time.Now().UnixMilli(), 10),
		EventType:        eventType,
	}
}

// SendText posts a chat message to the topic.
func (c *Client) SendText(ctx context.Context, text string, replyPublicIDs []string) error {
	if replyPublicIDs == nil {
		replyPublicIDs = []string{}
	}
	p := c.chatPayload(text, wire.EventChatMessage)
	p.Payload = &wire.ReplyTarget{ReplyPublicIDs: replyPublicIDs}

	data, err := encodeFrame(frame.TypeSend, c.destination(), p)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// DeleteMedia asks the service to remove a media url from the topic.
func (c *Client) DeleteMedia(ctx context.Context, url string) error {
	data, err := encodeFrame(frame.TypeSend, c.destination(), c.chatPayload("delete "+url, wire.EventDeleteMedia))
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("read error, disconnecting", "error", err)
			return fmt.Errorf("read: %w", err)
		}

		f, err := frame.Decode(string(data))
		if err != nil {
			slog.Debug("bad frame", "error", err)
			continue
		}

		switch f.Type {
		case frame.TypeConnected:
			sub, _ := encodeFrame(frame.TypeSubscribe, c.destination(), frame.EmptyPayload)
			if err := c.enqueue(ctx, sub); err != nil {
				return nil
			}
			c.emitConnected(c.Identity())

		case frame.TypePing:
			pong, _ := encodeFrame(frame.TypePong, nil, frame.EmptyPayload)
			if err := c.enqueue(ctx, pong); err != nil {
				return nil
			}

		case frame.TypeMessage:
			if c.dedup != nil && f.Payload != nil && c.dedup.Seen(f.Payload) {
				slog.Debug("duplicate message dropped")
				continue
			}
			c.emitMessage(f)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn net.Conn, sendCh <-chan []byte) error {
	for {
		select {
		case data := <-sendCh:
			if err := wsutil.WriteClientText(conn, data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("write error", "error", err)
				return fmt.Errorf("write: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) keepAlive(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := encodeFrame(frame.TypePing, nil, frame.EmptyPayload)
	for {
		select {
		case <-ticker.C:
			if err := c.enqueue(ctx, ping); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
