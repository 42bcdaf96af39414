package kekeke

import (
	"context"
	"errors"
	"regexp"

	"github.com/kekekebot/kekeke-go/frame"
)

var (
	// ErrInvalidNickName is returned by New when the bot nickname does not end in "bot".
	ErrInvalidNickName = errors.New("kekeke: bot nickname must end with \"bot\"")
	// ErrNotLoggedIn is returned when sending before the connection is open.
	ErrNotLoggedIn = errors.New("kekeke: not logged in")
	// ErrClosed is returned when sending after Close.
	ErrClosed = errors.New("kekeke: client closed")
	// ErrNotChatMessage is returned when a ChatMessage is built from a non-MESSAGE frame.
	ErrNotChatMessage = errors.New("kekeke: frame is not a chat message")
)

var botNameRe = regexp.MustCompile(`(?i)bot$`)

// NameLooksLikeBot reports whether nickname ends in "bot", case-insensitively.
// Bots must carry such a name, and messages from such names are ignored.
func NameLooksLikeBot(nickname string) bool {
	return botNameRe.MatchString(nickname)
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// Identity describes the logged-in bot account. PublicID, ColorToken and
// Kerma are empty until login completes.
type Identity struct {
	NickName   string
	PublicID   string
	ColorToken string
	Kerma      int64
}

// Sender transmits chat output. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendText(ctx context.Context, text string, replyPublicIDs []string) error
	DeleteMedia(ctx context.Context, url string) error
}

// Conn is the chat-service connection a Bot drives. Handlers are bound once
// before Login.
type Conn interface {
	Sender
	Identity() Identity
	Login(ctx context.Context) error
	Close() error
	OnMessage(func(frame.Frame))
	OnConnected(func(Identity))
	OnClose(func(error))
}
