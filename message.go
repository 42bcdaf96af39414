package kekeke

import (
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/net/html"

	"github.com/kekekebot/kekeke-go/frame"
	"github.com/kekekebot/kekeke-go/wire"
)

// ChatSender identifies who wrote a chat message.
type ChatSender struct {
	PublicID   string
	NickName   string
	ColorToken string
}

// ChatMessage is a read-only view over a MESSAGE frame.
type ChatMessage struct {
	frame   frame.Frame
	payload wire.ChatPayload
}

// NewChatMessage wraps a MESSAGE frame. A frame without payload yields an
// empty message.
func NewChatMessage(f frame.Frame) (*ChatMessage, error) {
	if f.Type != frame.TypeMessage {
		return nil, fmt.Errorf("%w: got %s", ErrNotChatMessage, f.Type)
	}
	m := &ChatMessage{frame: f}
	if f.Payload != nil {
		if err := json.Unmarshal(f.Payload, &m.payload); err != nil {
			return nil, fmt.Errorf("decode chat payload: %w", err)
		}
	}
	return m, nil
}

// Frame returns the underlying frame.
func (m *ChatMessage) Frame() frame.Frame { return m.frame }

// Content returns the entity-decoded message text.
func (m *ChatMessage) Content() string {
	return html.UnescapeString(m.payload.Content)
}

// Sender returns the author of the message.
func (m *ChatMessage) Sender() ChatSender {
	return ChatSender{
		PublicID:   m.payload.SenderPublicID,
		NickName:   m.payload.SenderNickName,
		ColorToken: m.payload.SenderColorToken,
	}
}

// EventType returns the payload event type.
func (m *ChatMessage) EventType() wire.EventType { return m.payload.EventType }

// Date returns the raw epoch-millisecond date string.
func (m *ChatMessage) Date() string { return m.payload.Date }

// Publisher returns the frame's publisher attribute.
func (m *ChatMessage) Publisher() wire.Publisher {
	return wire.Publisher(m.frame.Attr(wire.AttrPublisher))
}

// ReplyPublicIDs returns the public ids the message is addressed to. Never nil.
func (m *ChatMessage) ReplyPublicIDs() []string {
	if m.payload.Payload == nil || m.payload.Payload.ReplyPublicIDs == nil {
		return []string{}
	}
	return slices.Clone(m.payload.Payload.ReplyPublicIDs)
}

// IsBroadcast reports whether the message has no reply targets.
func (m *ChatMessage) IsBroadcast() bool {
	return m.payload.Payload == nil || len(m.payload.Payload.ReplyPublicIDs) == 0
}

// addressedTo reports whether publicID is among the reply targets.
func (m *ChatMessage) addressedTo(publicID string) bool {
	if m.payload.Payload == nil || publicID == "" {
		return false
	}
	return slices.Contains(m.payload.Payload.ReplyPublicIDs, publicID)
}
