package stream

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"nhooyr.io/websocket"
)

type allowAll struct{}

func (allowAll) AuthorizeStream(q url.Values) (bool, string) {
	return true, ""
}

type denyAll struct {
	reason string
}

func (d denyAll) AuthorizeStream(q url.Values) (bool, string) {
	return false, d.reason
}

type sessionEnv struct {
	handle *Handle
	clock  clockwork.FakeClock
	srv    *httptest.Server
}

func newSessionEnv(t *testing.T, auth StreamAuthorizer, interval time.Duration) *sessionEnv {
	t.Helper()
	s, h := NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	handler := NewHandler(h, auth, clock, HandlerConfig{HeartbeatInterval: interval})
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &sessionEnv{handle: h, clock: clock, srv: srv}
}

func (e *sessionEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?" + query
	c, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return c
}

func (e *sessionEnv) waitCount(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.handle.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count never reached %d (is %d)", want, e.handle.Count())
}

func TestSessionRejectsBadToken(t *testing.T) {
	env := newSessionEnv(t, denyAll{reason: "Wrong token!"}, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/?user_id=1&token=0102"
	_, resp, err := websocket.Dial(ctx, u, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Wrong token!") {
		t.Errorf("expected rejection reason in body, got %q", body)
	}
}

func TestSessionRejectsMissingUser(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/?token=0101"
	_, resp, err := websocket.Dial(ctx, u, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

func TestSessionEcho(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Minute)
	c := env.dial(t, "user_id=1&token=0101")
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("Echo")); err != nil {
		t.Fatal(err)
	}
	typ, msg, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText || string(msg) != "Echo" {
		t.Errorf("expected text frame %q back, got %v %q", "Echo", typ, msg)
	}
}

func TestSessionBroadcastIsolation(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Minute)
	watcher := env.dial(t, "user_id=1&token=0101")
	defer watcher.Close(websocket.StatusNormalClosure, "")
	other := env.dial(t, "user_id=2&token=0101")
	defer other.Close(websocket.StatusNormalClosure, "")
	env.waitCount(t, 2)

	env.handle.Publish(1, []byte(`{"latitude":45.74846}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, msg, err := watcher.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg), "latitude") {
		t.Errorf("unexpected broadcast payload %q", msg)
	}

	// the other user's connection must not see it
	qctx, qcancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer qcancel()
	if _, _, err := other.Read(qctx); err == nil {
		t.Error("connection for user 2 received a broadcast for user 1")
	}
}

func TestSessionHeartbeatTimeout(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Second)
	c := env.dial(t, "user_id=1&token=0101")
	env.waitCount(t, 1)

	// wait for the session to create its heartbeat ticker, then jump past
	// the 2x interval liveness window
	env.clock.BlockUntil(1)
	env.clock.Advance(3 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the silent connection")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Errorf("expected going-away close status, got %v (%v)", status, err)
	}
	env.waitCount(t, 0)
}

func TestSessionStaysAliveOnAnsweredPings(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Second)
	c := env.dial(t, "user_id=1&token=0101")
	defer c.Close(websocket.StatusNormalClosure, "")
	env.waitCount(t, 1)

	// keep a read pending so the client library answers incoming pings;
	// the client sends no frames of its own
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				closed <- err
				return
			}
		}
	}()

	// step the clock one interval at a time, well past the 2x liveness
	// window, leaving room for each pong round trip to land
	for i := 0; i < 6; i++ {
		env.clock.BlockUntil(1)
		env.clock.Advance(time.Second)
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-closed:
			t.Fatalf("connection closed on tick %d: %v", i+1, err)
		default:
		}
		if n := env.handle.Count(); n != 1 {
			t.Fatalf("connection dropped from registry on tick %d (count %d)", i+1, n)
		}
	}
}

func TestSessionEchoesPeerCloseStatus(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Minute)
	c := env.dial(t, "user_id=1&token=0101")
	env.waitCount(t, 1)
	// Close blocks until the peer acknowledges with the same status
	if err := c.Close(websocket.StatusGoingAway, "moving on"); err != nil {
		t.Fatalf("close handshake failed: %v", err)
	}
	env.waitCount(t, 0)
}

func TestSessionDisconnectOnClose(t *testing.T) {
	env := newSessionEnv(t, allowAll{}, time.Minute)
	c := env.dial(t, "user_id=1&token=0101")
	env.waitCount(t, 1)
	c.Close(websocket.StatusNormalClosure, "done")
	env.waitCount(t, 0)
}
