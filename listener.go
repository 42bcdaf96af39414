package kekeke

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ListenerKind selects how a listener is matched.
type ListenerKind int

const (
	// Hear listeners match raw content of broadcast messages.
	Hear ListenerKind = iota
	// Respond listeners match messages directed at the bot, with the
	// leading @mention removed.
	Respond
	// Custom listeners delegate to a MatchFunc.
	Custom
)

func (k ListenerKind) String() string {
	switch k {
	case Hear:
		return "hear"
	case Respond:
		return "respond"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("ListenerKind(%d)", int(k))
	}
}

// Match holds what a listener matched. For pattern listeners it is the
// regexp submatch slice: the whole match followed by capture groups.
type Match []string

// MatchFunc decides whether a custom listener handles a message. content has
// the leading @mention stripped when isResponse is true. It may block; the
// next listener is not tried until it returns.
type MatchFunc func(ctx context.Context, content string, isResponse, isBroadcast bool) (Match, bool)

// Callback handles a matched message.
type Callback func(ctx context.Context, res *Response) error

// Listener is one registration.
type Listener struct {
	Kind     ListenerKind
	Pattern  *regexp.Regexp // Hear and Respond
	Matcher  MatchFunc      // Custom
	Callback Callback
}

// Resolution is a found listener and its match.
type Resolution struct {
	Listener *Listener
	Match    Match
}

// Registry holds listeners in registration order.
type Registry struct {
	mu        sync.RWMutex
	listeners []*Listener
}

// Add appends a listener.
func (r *Registry) Add(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Len returns the number of listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

func (r *Registry) snapshot() []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listeners[:len(r.listeners):len(r.listeners)]
}

// mentionPattern matches a leading "@nickname" followed by whitespace,
// including full-width, no-break and zero-width no-break spaces.
func mentionPattern(nickname string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^@` + regexp.QuoteMeta(nickname) + `[\s\p{Zs}\x{FEFF}]+`)
}

// Resolve returns the first listener, in registration order, that matches
// msg for the bot identified by self. The boolean is false when nothing
// matched.
func (r *Registry) Resolve(ctx context.Context, msg *ChatMessage, self Identity) (Resolution, bool) {
	content := msg.Content()
	trimmed := strings.TrimSpace(content)
	mention := mentionPattern(self.NickName)

	isResponse := msg.addressedTo(self.PublicID) || mention.MatchString(trimmed)
	isBroadcast := msg.IsBroadcast()
	stripped := strings.TrimSpace(mention.ReplaceAllString(trimmed, ""))

	for _, l := range r.snapshot() {
		if ctx.Err() != nil {
			return Resolution{}, false
		}

		var m Match
		switch l.Kind {
		case Custom:
			in := content
			if isResponse {
				in = stripped
			}
			var ok bool
			if m, ok = l.Matcher(ctx, in, isResponse, isBroadcast); !ok {
				m = nil
			} else if m == nil {
				m = Match{}
			}
		case Respond:
			if !isResponse {
				continue
			}
			m = l.Pattern.FindStringSubmatch(stripped)
		case Hear:
			if !isBroadcast {
				continue
			}
			m = l.Pattern.FindStringSubmatch(content)
		}

		if m != nil {
			return Resolution{Listener: l, Match: m}, true
		}
	}
	return Resolution{}, false
}
