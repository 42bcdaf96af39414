// Package wire defines the JSON payload types carried in kekeke frames.
// Both the transport and the chat message model import these.
package wire

// EventType tags what a chat payload represents.
type EventType string

const (
	EventChatMessage EventType = "CHAT_MESSAGE"
	EventDeleteMedia EventType = "DELETE_MEDIA"
	EventKekeMessage EventType = "KEKE_MESSAGE"
)

// Publisher is the MESSAGE frame "publisher" attribute.
type Publisher string

const (
	PublisherServer          Publisher = "SERVER"
	PublisherClientTransport Publisher = "CLIENT_TRANSPORT"
)

// Frame attribute keys.
const (
	AttrDestination = "destination"
	AttrPublisher   = "publisher"
	AttrLogin       = "login"
)

// ChatPayload is the payload of MESSAGE frames (server -> client) and of
// chat SEND frames (client -> server). Content is HTML-entity encoded.
type ChatPayload struct {
	SenderPublicID   string       `json:"senderPublicId"`
	SenderNickName   string       `json:"senderNickName"`
	SenderColorToken string       `json:"senderColorToken,omitempty"`
	Content          string       `json:"content"`
	Date             string       `json:"date,omitempty"` // epoch milliseconds
	EventType        EventType    `json:"eventType"`
	Payload          *ReplyTarget `json:"payload,omitempty"`
}

// ReplyTarget lists the public ids a chat message is addressed to.
type ReplyTarget struct {
	ReplyPublicIDs []string `json:"replyPublicIds"`
}

// LoginPayload is JSON-encoded into the "login" attribute of CONNECT.
type LoginPayload struct {
	AccessToken string `json:"accessToken"`
	NickName    string `json:"nickname"`
}
