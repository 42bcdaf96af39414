package kekeke

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"

	"github.com/kekekebot/kekeke-go/middleware"
)

// Send methods recorded on ResponseContext.
const (
	MethodSend  = "send"
	MethodReply = "reply"
)

// ResponseContext flows through the response middleware before each send.
// Middleware may rewrite Text and ReplyPublicIDs.
type ResponseContext struct {
	Response       *Response
	Text           string
	ReplyPublicIDs []string
	Method         string
}

// Response is handed to listener callbacks for answering a message.
type Response struct {
	message  *ChatMessage
	match    Match
	sender   Sender
	pipeline *middleware.Pipeline[*ResponseContext]
}

// NewResponse builds a Response. pipeline may be nil.
func NewResponse(sender Sender, msg *ChatMessage, match Match, pipeline *middleware.Pipeline[*ResponseContext]) *Response {
	return &Response{message: msg, match: match, sender: sender, pipeline: pipeline}
}

// Message returns the message being answered.
func (r *Response) Message() *ChatMessage { return r.message }

// Match returns the listener match, nil before a listener was resolved.
func (r *Response) Match() Match { return r.match }

// Text returns the decoded content of the message being answered.
func (r *Response) Text() string { return r.message.Content() }

// Send posts text to the room, addressed to replyPublicIDs. A halt in the
// response middleware suppresses the send without error.
func (r *Response) Send(ctx context.Context, text string, replyPublicIDs ...string) error {
	return r.send(ctx, MethodSend, text, replyPublicIDs)
}

// Reply answers the sender, prefixing text with "@nickname ".
func (r *Response) Reply(ctx context.Context, text string) error {
	return r.reply(ctx, text, true)
}

// ReplyUntagged answers the sender without the @nickname prefix.
func (r *Response) ReplyUntagged(ctx context.Context, text string) error {
	return r.reply(ctx, text, false)
}

func (r *Response) reply(ctx context.Context, text string, tag bool) error {
	s := r.message.Sender()
	if tag {
		text = "@" + s.NickName + " " + text
	}
	return r.send(ctx, MethodReply, text, []string{s.PublicID})
}

// Random sends one of texts chosen uniformly at random.
func (r *Response) Random(ctx context.Context, texts []string, replyPublicIDs ...string) error {
	if len(texts) == 0 {
		return errors.New("kekeke: random needs at least one text")
	}
	return r.Send(ctx, texts[rand.IntN(len(texts))], replyPublicIDs...)
}

// DeleteMedia asks the service to remove a posted media url.
func (r *Response) DeleteMedia(ctx context.Context, url string) error {
	return r.sender.DeleteMedia(ctx, url)
}

func (r *Response) send(ctx context.Context, method, text string, ids []string) error {
	ids = slices.Clone(ids)
	if ids == nil {
		ids = []string{}
	}
	if r.pipeline != nil {
		rc := &ResponseContext{Response: r, Text: text, ReplyPublicIDs: ids, Method: method}
		out, err := r.pipeline.Execute(ctx, rc)
		if err != nil {
			return err
		}
		if out == middleware.Halted {
			return nil
		}
		text, ids = rc.Text, rc.ReplyPublicIDs
	}
	return r.sender.SendText(ctx, text, ids)
}
