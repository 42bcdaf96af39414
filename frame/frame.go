// Package frame implements the text frame codec spoken over the kekeke
// WebSocket connection.
//
// Frame layout:
//
//	<TYPE>\n
//	<key1>:<value1>\n
//	...\n
//	\n
//	<JSON payload, optional>
//
// Attribute lines are split on colons and only the text between the first and
// second colon is kept as the value. The service never sends values containing
// a colon, and the truncation is kept for wire compatibility.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is the frame type token on the first line.
type Type string

// Frame types.
const (
	TypeConnect   Type = "CONNECT"
	TypeConnected Type = "CONNECTED"
	TypeSubscribe Type = "SUBSCRIBE"
	TypeSend      Type = "SEND"
	TypeMessage   Type = "MESSAGE"
	TypePing      Type = "PING"
	TypePong      Type = "PONG"
)

var knownTypes = map[Type]bool{
	TypeConnect:   true,
	TypeConnected: true,
	TypeSubscribe: true,
	TypeSend:      true,
	TypeMessage:   true,
	TypePing:      true,
	TypePong:      true,
}

// ParseType validates a type token.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !knownTypes[t] {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// EmptyPayload is the payload the service expects on control frames.
var EmptyPayload = json.RawMessage("{}")

var (
	ErrDecode             = errors.New("frame: decode failed")
	ErrEmptyFrame         = fmt.Errorf("%w: empty frame", ErrDecode)
	ErrUnknownType        = fmt.Errorf("%w: unknown frame type", ErrDecode)
	ErrMalformedAttribute = fmt.Errorf("%w: malformed attribute line", ErrDecode)
	ErrInvalidPayload     = fmt.Errorf("%w: payload is not valid JSON", ErrDecode)
	ErrInvalidAttribute   = errors.New("frame: attribute cannot be encoded")
)

// Attribute is one key:value header line.
type Attribute struct {
	Key   string
	Value string
}

// Attributes keeps header lines in wire order.
type Attributes []Attribute

// Get returns the value for key.
func (a Attributes) Get(key string) (string, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// with returns a with key set to value. An existing key keeps its position.
func (a Attributes) with(key, value string) Attributes {
	for i := range a {
		if a[i].Key == key {
			a[i].Value = value
			return a
		}
	}
	return append(a, Attribute{Key: key, Value: value})
}

// Frame is one protocol unit. Treat it as immutable once built.
type Frame struct {
	Type       Type
	Attributes Attributes
	Payload    json.RawMessage // nil when the frame carries no payload
}

// New builds a frame, marshalling payload to JSON when it is not nil.
// A json.RawMessage payload is used as is.
func New(t Type, attrs Attributes, payload any) (Frame, error) {
	f := Frame{Type: t, Attributes: attrs}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		f.Payload = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Frame{}, fmt.Errorf("frame: marshal payload: %w", err)
		}
		f.Payload = b
	}
	return f, nil
}

// Attr returns the value of the named attribute, or "" if absent.
func (f Frame) Attr(key string) string {
	v, _ := f.Attributes.Get(key)
	return v
}

// String returns the encoded frame, or a placeholder when it cannot be encoded.
func (f Frame) String() string {
	s, err := Encode(f)
	if err != nil {
		return fmt.Sprintf("<invalid %s frame: %v>", f.Type, err)
	}
	return s
}

// Encode serialises a frame to wire text.
func Encode(f Frame) (string, error) {
	if f.Type == "" || strings.ContainsAny(string(f.Type), "\r\n") {
		return "", fmt.Errorf("%w: type %q", ErrInvalidAttribute, f.Type)
	}

	var b strings.Builder
	b.WriteString(string(f.Type))
	b.WriteByte('\n')
	for _, attr := range f.Attributes {
		if attr.Key == "" || strings.ContainsAny(attr.Key, ":\r\n") {
			return "", fmt.Errorf("%w: key %q", ErrInvalidAttribute, attr.Key)
		}
		if strings.ContainsAny(attr.Value, "\r\n") {
			return "", fmt.Errorf("%w: value of %q contains a line break", ErrInvalidAttribute, attr.Key)
		}
		b.WriteString(attr.Key)
		b.WriteByte(':')
		b.WriteString(attr.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if f.Payload != nil {
		b.Write(f.Payload)
	}
	return b.String(), nil
}

// Decode parses wire text into a frame.
func Decode(raw string) (Frame, error) {
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	if lines[0] == "" {
		return Frame{}, ErrEmptyFrame
	}
	t, err := ParseType(lines[0])
	if err != nil {
		return Frame{}, err
	}

	f := Frame{Type: t}
	i := 1
	for ; i < len(lines) && lines[i] != ""; i++ {
		tokens := strings.Split(lines[i], ":")
		if len(tokens) < 2 || tokens[0] == "" {
			return Frame{}, fmt.Errorf("%w: %q", ErrMalformedAttribute, lines[i])
		}
		f.Attributes = f.Attributes.with(tokens[0], tokens[1])
	}

	// skip the blank separator line
	i++
	if i >= len(lines) {
		return f, nil
	}
	rest := strings.TrimSpace(strings.Join(lines[i:], "\n"))
	if rest == "" {
		return f, nil
	}
	if !json.Valid([]byte(rest)) {
		return Frame{}, ErrInvalidPayload
	}
	f.Payload = json.RawMessage(rest)
	return f, nil
}
