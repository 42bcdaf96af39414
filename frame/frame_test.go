package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRoundTrip(t *testing.T) {
	payload := map[string]any{
		"senderPublicId": "abc",
		"content":        "hello world",
		"payload":        map[string]any{"replyPublicIds": []string{"p1"}},
	}
	f, err := New(TypeSend, Attributes{{Key: "destination", Value: "/topic/test"}, {Key: "publisher", Value: "CLIENT_TRANSPORT"}}, payload)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(f, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripAllTypes(t *testing.T) {
	types := []Type{
		TypeConnect, TypeConnected, TypeSubscribe,
		TypeSend, TypeMessage, TypePing, TypePong,
	}

	for _, ft := range types {
		for _, f := range []Frame{
			{Type: ft},
			{Type: ft, Payload: EmptyPayload},
			{Type: ft, Attributes: Attributes{{Key: "a", Value: "1"}, {Key: "b", Value: ""}}},
		} {
			encoded, err := Encode(f)
			if err != nil {
				t.Fatalf("encode %s: %v", ft, err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode %s: %v", ft, err)
			}
			if diff := cmp.Diff(f, decoded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("%s: round trip mismatch (-want +got):\n%s", ft, diff)
			}
		}
	}
}

// attrRunes excludes the colon and line breaks, which cannot survive a
// round trip inside an attribute.
var attrRunes = []rune("abcXYZ019 _-./@#{}\"'\t中文測試é\u3000")

func randomText(r *rand.Rand, limit int) string {
	n := r.IntN(limit + 1)
	out := make([]rune, n)
	for i := range out {
		out[i] = attrRunes[r.IntN(len(attrRunes))]
	}
	return string(out)
}

func randomPayload(r *rand.Rand) any {
	switch r.IntN(4) {
	case 0:
		return nil
	case 1:
		return EmptyPayload
	case 2:
		return map[string]any{
			"content": randomText(r, 20) + "\n" + randomText(r, 5),
			"count":   r.IntN(1000),
			"ok":      r.IntN(2) == 0,
		}
	default:
		ids := make([]string, r.IntN(4))
		for i := range ids {
			ids[i] = randomText(r, 8)
		}
		return map[string]any{"payload": map[string]any{"replyPublicIds": ids}}
	}
}

func TestRoundTripGenerated(t *testing.T) {
	types := []Type{TypeConnect, TypeConnected, TypeSubscribe, TypeSend, TypeMessage, TypePing, TypePong}
	r := rand.New(rand.NewPCG(1, 2))

	for n := 0; n < 500; n++ {
		attrs := make(Attributes, r.IntN(6))
		for i := range attrs {
			// unique keys; a repeated key collapses on decode
			attrs[i] = Attribute{Key: fmt.Sprintf("%s%d", randomText(r, 6), i), Value: randomText(r, 24)}
		}
		f, err := New(types[r.IntN(len(types))], attrs, randomPayload(r))
		if err != nil {
			t.Fatalf("case %d: new: %v", n, err)
		}

		encoded, err := Encode(f)
		if err != nil {
			t.Fatalf("case %d: encode: %v", n, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("case %d: decode %q: %v", n, encoded, err)
		}
		if diff := cmp.Diff(f, decoded, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("case %d: round trip mismatch for %q (-want +got):\n%s", n, encoded, diff)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	f := Frame{
		Type:       TypeSubscribe,
		Attributes: Attributes{{Key: "destination", Value: "/topic/foo"}},
		Payload:    EmptyPayload,
	}
	got, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	want := "SUBSCRIBE\ndestination:/topic/foo\n\n{}"
	if got != want {
		t.Errorf("encode: got %q, want %q", got, want)
	}

	got, err = Encode(Frame{Type: TypePing})
	if err != nil {
		t.Fatal(err)
	}
	if got != "PING\n\n" {
		t.Errorf("encode without payload: got %q", got)
	}
}

func TestDecodeMessage(t *testing.T) {
	raw := "MESSAGE\npublisher:CLIENT_TRANSPORT\nsubscription:sub-0\n\n{\"content\":\"hi\"}"
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != TypeMessage {
		t.Errorf("type: got %s, want %s", f.Type, TypeMessage)
	}
	if got := f.Attr("publisher"); got != "CLIENT_TRANSPORT" {
		t.Errorf("publisher: got %q", got)
	}
	if _, ok := f.Attributes.Get("missing"); ok {
		t.Error("missing attribute reported present")
	}
	var p struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Content != "hi" {
		t.Errorf("content: got %q", p.Content)
	}
}

func TestDecodeNoPayload(t *testing.T) {
	for _, raw := range []string{"CONNECTED\nversion:1.1", "CONNECTED\nversion:1.1\n", "CONNECTED\nversion:1.1\n\n", "CONNECTED\nversion:1.1\n\n  \n"} {
		f, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if f.Payload != nil {
			t.Errorf("decode %q: expected no payload, got %s", raw, f.Payload)
		}
		if f.Attr("version") != "1.1" {
			t.Errorf("decode %q: version %q", raw, f.Attr("version"))
		}
	}
}

func TestDecodeCRLF(t *testing.T) {
	f, err := Decode("PING\r\nk:v\r\n\r\n{}")
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypePing || f.Attr("k") != "v" || string(f.Payload) != "{}" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestDecodeColonTruncation(t *testing.T) {
	f, err := Decode("CONNECT\nlogin:{\"accessToken\":\"x\"}\nurl:wss://host:443/path\n\n")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Attr("login"); got != "{\"accessToken\"" {
		t.Errorf("login: got %q", got)
	}
	if got := f.Attr("url"); got != "wss" {
		t.Errorf("url: got %q", got)
	}
}

func TestDecodeDuplicateKey(t *testing.T) {
	f, err := Decode("SEND\na:1\nb:2\na:3\n\n")
	if err != nil {
		t.Fatal(err)
	}
	want := Attributes{{Key: "a", Value: "3"}, {Key: "b", Value: "2"}}
	if diff := cmp.Diff(want, f.Attributes); diff != "" {
		t.Errorf("attributes (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmptyFrame},
		{"unknown type", "HELLO\n\n", ErrUnknownType},
		{"attribute without colon", "SEND\ndestination\n\n", ErrMalformedAttribute},
		{"attribute without key", "SEND\n:value\n\n", ErrMalformedAttribute},
		{"bad json", "MESSAGE\n\n{not json", ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode in chain, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsLineBreaks(t *testing.T) {
	bad := []Frame{
		{},
		{Type: TypeSend, Attributes: Attributes{{Key: "a:b", Value: "v"}}},
		{Type: TypeSend, Attributes: Attributes{{Key: "a", Value: "v\nw"}}},
		{Type: TypeSend, Attributes: Attributes{{Key: "", Value: "v"}}},
	}
	for _, f := range bad {
		if _, err := Encode(f); !errors.Is(err, ErrInvalidAttribute) {
			t.Errorf("encode %+v: expected ErrInvalidAttribute, got %v", f, err)
		}
	}
}

func TestNewPayload(t *testing.T) {
	f, err := New(TypeConnect, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Payload != nil {
		t.Errorf("nil payload: got %s", f.Payload)
	}

	f, err = New(TypeConnect, nil, EmptyPayload)
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Payload) != "{}" {
		t.Errorf("raw payload: got %s", f.Payload)
	}

	if _, err := New(TypeSend, nil, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
