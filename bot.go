// Package kekeke is a chat-bot runtime for the kekeke.cc chat service.
//
// A Bot decodes inbound MESSAGE frames, drops messages from itself and from
// other bots, and routes each remaining message through receive middleware,
// listener resolution and listener middleware before invoking the matched
// callback. Replies pass through response middleware before transmission.
//
//	client := kekeke.NewClient(kekeke.Config{Topic: "test", NickName: "EchoBot"})
//	bot, err := kekeke.New(client)
//	if err != nil {
//		return err
//	}
//	bot.Respond(regexp.MustCompile(`(?i)ping`), func(ctx context.Context, r *kekeke.Response) error {
//		return r.Reply(ctx, "pong")
//	})
//	return bot.Run(ctx)
package kekeke

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/kekekebot/kekeke-go/frame"
	"github.com/kekekebot/kekeke-go/middleware"
	"github.com/kekekebot/kekeke-go/wire"
)

// ReceiveContext flows through receive middleware before listener resolution.
type ReceiveContext struct {
	Response *Response
}

// ListenerContext flows through listener middleware after resolution.
// Middleware may swap Response; the callback receives the final value.
type ListenerContext struct {
	Listener *Listener
	Match    Match
	Response *Response
}

// Result reports what happened to one dispatched message.
type Result int

const (
	// Dropped: guarded out (not a client message, from self, or from a bot).
	Dropped Result = iota
	// Halted: a receive or listener middleware called done.
	Halted
	// Unmatched: no listener matched.
	Unmatched
	// Handled: a listener callback ran.
	Handled
)

func (r Result) String() string {
	switch r {
	case Dropped:
		return "dropped"
	case Halted:
		return "halted"
	case Unmatched:
		return "unmatched"
	case Handled:
		return "handled"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Bot dispatches chat messages to registered listeners.
type Bot struct {
	conn      Conn
	listeners Registry

	receive  *middleware.Pipeline[*ReceiveContext]
	listener *middleware.Pipeline[*ListenerContext]
	response *middleware.Pipeline[*ResponseContext]

	wg sync.WaitGroup
}

// New creates a Bot over conn. The connection's nickname must end in "bot".
func New(conn Conn) (*Bot, error) {
	nick := conn.Identity().NickName
	if !NameLooksLikeBot(nick) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNickName, nick)
	}
	return &Bot{
		conn:     conn,
		receive:  middleware.New[*ReceiveContext](),
		listener: middleware.New[*ListenerContext](),
		response: middleware.New[*ResponseContext](),
	}, nil
}

// Identity returns the bot's account identity.
func (b *Bot) Identity() Identity { return b.conn.Identity() }

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// Hear registers a listener on broadcast messages whose raw content matches pattern.
func (b *Bot) Hear(pattern *regexp.Regexp, cb Callback) {
	b.listeners.Add(&Listener{Kind: Hear, Pattern: pattern, Callback: cb})
}

// Respond registers a listener on messages directed at the bot, by explicit
// reply or a leading @nickname, matching pattern after the mention is removed.
func (b *Bot) Respond(pattern *regexp.Regexp, cb Callback) {
	b.listeners.Add(&Listener{Kind: Respond, Pattern: pattern, Callback: cb})
}

// Listen registers a listener with a custom matcher.
func (b *Bot) Listen(match MatchFunc, cb Callback) {
	b.listeners.Add(&Listener{Kind: Custom, Matcher: match, Callback: cb})
}

// ReceiveMiddleware runs before listener resolution.
func (b *Bot) ReceiveMiddleware(fn middleware.Func[*ReceiveContext]) {
	b.receive.Use(fn)
}

// ListenerMiddleware runs after a listener matched, before its callback.
func (b *Bot) ListenerMiddleware(fn middleware.Func[*ListenerContext]) {
	b.listener.Use(fn)
}

// ResponseMiddleware runs before every send made through a Response.
func (b *Bot) ResponseMiddleware(fn middleware.Func[*ResponseContext]) {
	b.response.Use(fn)
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// shouldIgnore drops server notices, echoes of our own messages and anything
// written by another bot.
func (b *Bot) shouldIgnore(msg *ChatMessage) bool {
	s := msg.Sender()
	return msg.Publisher() != wire.PublisherClientTransport ||
		s.PublicID == b.conn.Identity().PublicID ||
		NameLooksLikeBot(s.NickName)
}

// Dispatch runs one message through guard, receive middleware, listener
// resolution, listener middleware and callback, in that order. The error is
// non-nil only for a cancelled ctx or a failing callback.
func (b *Bot) Dispatch(ctx context.Context, msg *ChatMessage) (Result, error) {
	if b.shouldIgnore(msg) {
		return Dropped, nil
	}

	rc := &ReceiveContext{Response: NewResponse(b.conn, msg, nil, b.response)}
	out, err := b.receive.Execute(ctx, rc)
	if err != nil {
		return Halted, err
	}
	if out == middleware.Halted {
		return Halted, nil
	}

	found, ok := b.listeners.Resolve(ctx, msg, b.conn.Identity())
	if !ok {
		return Unmatched, ctx.Err()
	}

	lc := &ListenerContext{
		Listener: found.Listener,
		Match:    found.Match,
		Response: NewResponse(b.conn, msg, found.Match, b.response),
	}
	out, err = b.listener.Execute(ctx, lc)
	if err != nil {
		return Halted, err
	}
	if out == middleware.Halted {
		return Halted, nil
	}

	if err := lc.Listener.Callback(ctx, lc.Response); err != nil {
		return Handled, fmt.Errorf("%s listener: %w", lc.Listener.Kind, err)
	}
	return Handled, nil
}

// HandleFrame decodes a MESSAGE frame and dispatches it on its own
// goroutine. Messages are not serialized against each other.
func (b *Bot) HandleFrame(ctx context.Context, f frame.Frame) {
	msg, err := NewChatMessage(f)
	if err != nil {
		slog.Debug("dropping frame", "type", f.Type, "error", err)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, err := b.Dispatch(ctx, msg)
		if err != nil {
			slog.Warn("dispatch failed", "sender", msg.Sender().NickName, "result", res, "error", err)
			return
		}
		slog.Debug("dispatched", "sender", msg.Sender().NickName, "result", res)
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (b *Bot) Wait() { b.wg.Wait() }

// Run binds to the connection, logs in and processes messages until ctx is
// cancelled or the connection closes.
func (b *Bot) Run(ctx context.Context) error {
	closed := make(chan error, 1)

	b.conn.OnMessage(func(f frame.Frame) { b.HandleFrame(ctx, f) })
	b.conn.OnConnected(func(id Identity) {
		slog.Info("bot started",
			"nickname", id.NickName,
			"publicId", id.PublicID,
			"colorToken", id.ColorToken,
			"kerma", id.Kerma)
	})
	b.conn.OnClose(func(err error) {
		select {
		case closed <- err:
		default:
		}
	})

	if err := b.conn.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-closed:
	}
	b.conn.Close()
	b.wg.Wait()
	return err
}
