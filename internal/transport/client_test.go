package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/turn"
)

type recorder struct {
	ch chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 32)} }

func (r *recorder) OnOpen()               { r.ch <- "open" }
func (r *recorder) OnMessage(text string) { r.ch <- "msg:" + text }
func (r *recorder) OnClose()              { r.ch <- "close" }
func (r *recorder) OnError(error)         { r.ch <- "error" }

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("event = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// echoServer greets, then answers every text frame with "BOT: <frame>".
// A frame "bye" makes it close the connection normally.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte("BOT: hi"))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if string(msg) == "bye" {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			_ = conn.Write(ctx, websocket.MessageText, []byte("BOT: "+string(msg)))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	rec := newRecorder()
	c := New(wsURL(srv), rec)

	if err := c.Send("early"); !errors.Is(err, turn.ErrTransportUnavailable) {
		t.Fatalf("Send before connect = %v, want ErrTransportUnavailable", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	rec.expect(t, "open")
	rec.expect(t, "msg:BOT: hi")
	if err := c.Connected(ctx); err != nil {
		t.Fatalf("Connected = %v", err)
	}

	if err := c.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rec.expect(t, "msg:BOT: hello")

	cancel()
	rec.expect(t, "close")
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil after cancel", err)
	}
	if err := c.Send("late"); !errors.Is(err, turn.ErrTransportUnavailable) {
		t.Fatalf("Send after close = %v, want ErrTransportUnavailable", err)
	}
}

func TestClient_ServerCloses(t *testing.T) {
	srv := echoServer(t)
	rec := newRecorder()
	c := New(wsURL(srv), rec)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	rec.expect(t, "open")
	rec.expect(t, "msg:BOT: hi")
	if err := c.Send("bye"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rec.expect(t, "close")
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil on normal closure", err)
	}
	if err := c.Connected(context.Background()); err == nil {
		t.Fatal("Connected should fail after close")
	}
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	rec := newRecorder()
	c := New(wsURL(srv), rec, WithDialTimeout(time.Second))

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	rec.expect(t, "error")
	rec.expect(t, "close")
}

func TestClient_SendQueuesWithoutWaiting(t *testing.T) {
	c := New("ws://unused", newRecorder())
	// No writer drains the queue, so each Send must return on its own.
	c.out = make(chan string, 2)

	for _, text := range []string{"one", "two"} {
		if err := c.Send(text); err != nil {
			t.Fatalf("Send(%q): %v", text, err)
		}
	}
	if err := c.Send("three"); !errors.Is(err, ErrSendBacklog) {
		t.Fatalf("Send on full queue = %v, want ErrSendBacklog", err)
	}
	if got := <-c.out; got != "one" {
		t.Errorf("first queued frame = %q, want %q", got, "one")
	}
}

func TestClient_SendsInOrder(t *testing.T) {
	srv := echoServer(t)
	rec := newRecorder()
	c := New(wsURL(srv), rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()
	rec.expect(t, "open")
	rec.expect(t, "msg:BOT: hi")

	frames := []string{turn.InterruptSignal, "what time is it", "never mind"}
	for _, f := range frames {
		if err := c.Send(f); err != nil {
			t.Fatalf("Send(%q): %v", f, err)
		}
	}
	for _, f := range frames {
		rec.expect(t, "msg:BOT: "+f)
	}
}
