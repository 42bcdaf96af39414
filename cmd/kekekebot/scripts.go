package main

import (
	"context"
	"log/slog"
	"regexp"

	kekeke "github.com/kekekebot/kekeke-go"
	"github.com/kekekebot/kekeke-go/middleware"
)

var greetings = []string{"hello", "hi there", "hey", "yo"}

var (
	pingPattern  = regexp.MustCompile(`(?i)^ping$`)
	helloPattern = regexp.MustCompile(`(?i)^hello$`)
)

// registerScripts installs the built-in listeners.
func registerScripts(bot *kekeke.Bot) {
	bot.Respond(pingPattern, func(ctx context.Context, r *kekeke.Response) error {
		return r.Reply(ctx, "pong")
	})
	bot.Hear(helloPattern, func(ctx context.Context, r *kekeke.Response) error {
		return r.Random(ctx, greetings)
	})
}

// logReceived logs every message that reaches the bot.
func logReceived(logger *slog.Logger) middleware.Func[*kekeke.ReceiveContext] {
	return func(c *kekeke.ReceiveContext, next, done func()) {
		msg := c.Response.Message()
		sender := msg.Sender()
		logger.Debug("message received",
			"from", sender.NickName,
			"publicId", sender.PublicID,
			"content", msg.Content(),
			"broadcast", msg.IsBroadcast())
		next()
	}
}
