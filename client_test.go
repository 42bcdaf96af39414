package kekeke

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekekebot/kekeke-go/frame"
	"github.com/kekekebot/kekeke-go/handshake"
	"github.com/kekekebot/kekeke-go/wire"
)

type fakeAuth struct {
	creds handshake.Credentials
	err   error
}

func (a *fakeAuth) Authenticate(ctx context.Context, anonymousID, topic string) (handshake.Credentials, error) {
	return a.creds, a.err
}

var testCreds = handshake.Credentials{AccessToken: "tok", PublicID: "pub", ColorToken: "col", Kerma: 7}

// newGateway serves one WebSocket connection with script and closes served
// once script returns and the client has gone away.
func newGateway(t *testing.T, script func(conn net.Conn)) (url string, served <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			close(done)
			return
		}
		defer close(done)
		defer conn.Close()
		script(conn)
		// drain until the client closes
		for {
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), done
}

func readFrame(t *testing.T, conn net.Conn) (string, frame.Frame) {
	t.Helper()
	data, err := wsutil.ReadClientText(conn)
	require.NoError(t, err)
	f, err := frame.Decode(string(data))
	require.NoError(t, err)
	return string(data), f
}

func writeRaw(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	require.NoError(t, wsutil.WriteServerText(conn, []byte(raw)))
}

func messageRaw(t *testing.T, p wire.ChatPayload) string {
	t.Helper()
	return chatFrame(t, wire.PublisherClientTransport, p).String()
}

func TestClient_EndToEnd(t *testing.T) {
	var pings atomic.Int32
	url, served := newGateway(t, func(conn net.Conn) {
		raw, f := readFrame(t, conn)
		assert.Equal(t, frame.TypeConnect, f.Type)
		assert.Contains(t, raw, "\nlogin:{\"accessToken\":\"tok\",\"nickname\":\"TestBot\"}\n")

		writeRaw(t, conn, "CONNECTED\nversion:1.1\n\n")
		raw, _ = readFrame(t, conn)
		assert.Equal(t, "SUBSCRIBE\ndestination:/topic/room\n\n{}", raw)

		writeRaw(t, conn, "PING\n\n")
		raw, _ = readFrame(t, conn)
		assert.Equal(t, "PONG\n\n{}", raw)

		first := messageRaw(t, wire.ChatPayload{SenderPublicID: "u1", SenderNickName: "Alice", Content: "@TestBot ping", Date: "1"})
		writeRaw(t, conn, first)
		writeRaw(t, conn, "garbage")
		writeRaw(t, conn, first)

		_, f = readFrame(t, conn)
		assert.Equal(t, frame.TypeSend, f.Type)
		assert.Equal(t, "/topic/room", f.Attr(wire.AttrDestination))
		var p wire.ChatPayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, "@Alice pong &amp; more", p.Content)
		assert.Equal(t, "pub", p.SenderPublicID)
		assert.Equal(t, "col", p.SenderColorToken)
		assert.Equal(t, "TestBot", p.SenderNickName)
		assert.Equal(t, wire.EventChatMessage, p.EventType)
		require.NotNil(t, p.Payload)
		assert.Equal(t, []string{"u1"}, p.Payload.ReplyPublicIDs)

		writeRaw(t, conn, messageRaw(t, wire.ChatPayload{SenderPublicID: "u1", SenderNickName: "Alice", Content: "@TestBot bye", Date: "2"}))
		_, f = readFrame(t, conn)
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, "ciao", p.Content)
		assert.Equal(t, []string{}, p.Payload.ReplyPublicIDs)
	})

	client := NewClient(Config{
		Endpoint:      url,
		Topic:         "room",
		NickName:      "TestBot",
		PingInterval:  time.Hour,
		Authenticator: &fakeAuth{creds: testCreds},
	})
	b, err := New(client)
	require.NoError(t, err)

	connected := make(chan Identity, 1)
	client.OnConnected(func(id Identity) { connected <- id })

	b.Respond(regexp.MustCompile(`^ping$`), func(ctx context.Context, r *Response) error {
		pings.Add(1)
		return r.Reply(ctx, "pong & more")
	})
	b.Respond(regexp.MustCompile(`^bye$`), func(ctx context.Context, r *Response) error {
		return r.Send(ctx, "ciao")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	select {
	case id := <-connected:
		assert.Equal(t, Identity{NickName: "TestBot", PublicID: "pub", ColorToken: "col", Kerma: 7}, id)
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}

	require.Eventually(t, func() bool { return pings.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
	// the second reply proves the duplicate was read and dropped before it
	select {
	case <-time.After(200 * time.Millisecond):
	case err := <-errCh:
		t.Fatalf("run ended early: %v", err)
	}

	cancel()
	require.NoError(t, <-errCh)
	<-served
	assert.Equal(t, int32(1), pings.Load())

	assert.ErrorIs(t, client.SendText(context.Background(), "late", nil), ErrClosed)
}

func TestClient_KeepAlive(t *testing.T) {
	url, served := newGateway(t, func(conn net.Conn) {
		readFrame(t, conn) // CONNECT
		raw, _ := readFrame(t, conn)
		assert.Equal(t, "PING\n\n{}", raw)
	})

	closed := make(chan error, 1)
	client := NewClient(Config{
		Endpoint:      url,
		Topic:         "room",
		NickName:      "TestBot",
		PingInterval:  20 * time.Millisecond,
		Authenticator: &fakeAuth{creds: testCreds},
	})
	client.OnClose(func(err error) { closed <- err })
	require.NoError(t, client.Login(context.Background()))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, client.Close())
	assert.NoError(t, <-closed)
	<-served
}

func TestClient_ServerHangup(t *testing.T) {
	url, served := newGateway(t, func(conn net.Conn) {
		readFrame(t, conn)
		conn.Close()
	})

	closed := make(chan error, 1)
	client := NewClient(Config{Endpoint: url, Topic: "room", NickName: "TestBot", Authenticator: &fakeAuth{creds: testCreds}})
	client.OnClose(func(err error) { closed <- err })
	require.NoError(t, client.Login(context.Background()))

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
	<-served
	require.NoError(t, client.Close())
}

func TestClient_NotLoggedIn(t *testing.T) {
	client := NewClient(Config{Topic: "room", NickName: "TestBot", Authenticator: &fakeAuth{}})
	assert.ErrorIs(t, client.SendText(context.Background(), "hi", nil), ErrNotLoggedIn)
	assert.ErrorIs(t, client.DeleteMedia(context.Background(), "u"), ErrNotLoggedIn)
	assert.NoError(t, client.Close())
}

func TestClient_HandshakeFailure(t *testing.T) {
	client := NewClient(Config{
		Endpoint:      "ws://127.0.0.1:1",
		Topic:         "room",
		NickName:      "TestBot",
		Authenticator: &fakeAuth{err: handshake.ErrShortResponse},
	})
	err := client.Login(context.Background())
	assert.ErrorIs(t, err, handshake.ErrShortResponse)
	assert.ErrorIs(t, client.SendText(context.Background(), "hi", nil), ErrNotLoggedIn)
}

func TestClient_Defaults(t *testing.T) {
	client := NewClient(Config{NickName: "TestBot"})
	assert.Equal(t, DefaultEndpoint, client.cfg.Endpoint)
	assert.Equal(t, DefaultPingInterval, client.cfg.PingInterval)
	assert.NotEmpty(t, client.cfg.AnonymousID)
	assert.NotNil(t, client.dedup)
	assert.Equal(t, Identity{NickName: "TestBot"}, client.Identity())

	client = NewClient(Config{NickName: "TestBot", DisableDedup: true})
	assert.Nil(t, client.dedup)
	assert.NoError(t, client.Close())
}

func TestClient_SendAfterLoopsExit(t *testing.T) {
	for name, queue := range map[string]chan []byte{
		"queue has room": make(chan []byte, 1),
		"queue full":     make(chan []byte),
	} {
		client := NewClient(Config{Topic: "room", NickName: "TestBot", Authenticator: &fakeAuth{}})
		done := make(chan struct{})
		close(done)
		client.sendCh = queue
		client.done = done

		assert.ErrorIs(t, client.SendText(context.Background(), "lost", nil), ErrClosed, name)
		assert.ErrorIs(t, client.DeleteMedia(context.Background(), "u"), ErrClosed, name)
		assert.Empty(t, queue, name)
	}
}
