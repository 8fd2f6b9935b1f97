package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/autobridge/internal/transport"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func echoHandler(conn *websocket.Conn) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

// recorder captures lifecycle events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
	ch     chan string
}

func newRecorder(c *Client) *recorder {
	r := &recorder{ch: make(chan string, 16)}
	c.OnConnection(func() { r.add("connection", nil) })
	c.OnError(func(err error) { r.add("error", err) })
	c.OnClose(func() { r.add("close", nil) })
	return r
}

func (r *recorder) add(event string, err error) {
	r.mu.Lock()
	r.events = append(r.events, event)
	if err != nil {
		r.errs = append(r.errs, err)
	}
	r.mu.Unlock()
	r.ch <- event
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("event = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(d):
	}
}

func testClient(t *testing.T, raw map[string]any) *Client {
	t.Helper()
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw["ping_interval"]; !ok {
		raw["ping_interval"] = "0s"
	}
	c, err := New(raw, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_ConnectAndEcho(t *testing.T) {
	for _, name := range []string{transport.Gorilla, transport.Nhooyr} {
		t.Run(name, func(t *testing.T) {
			server := mockWSServer(t, echoHandler)
			defer server.Close()

			c := testClient(t, map[string]any{"transport": name})
			rec := newRecorder(c)

			msgs := make(chan []byte, 1)
			c.OnMessage(func(b []byte) { msgs <- b })

			if err := c.Connect(wsURL(server)); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			rec.wait(t, "connection")

			if !c.IsConnected() {
				t.Error("IsConnected() = false after connection")
			}
			if c.SessionID() == uuid.Nil {
				t.Error("SessionID() = nil after connection")
			}
			if c.URL() != wsURL(server) {
				t.Errorf("URL() = %q, want %q", c.URL(), wsURL(server))
			}

			payload := []byte(`{"op":"call_service","service":"/rosapi/topics"}`)
			if err := c.Send(payload); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			select {
			case got := <-msgs:
				if string(got) != string(payload) {
					t.Errorf("message = %s, want %s", got, payload)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for echo")
			}

			if err := c.Close(); err != nil {
				t.Logf("Close() error = %v", err)
			}
			rec.wait(t, "close")

			if c.IsConnected() {
				t.Error("IsConnected() = true after Close")
			}
		})
	}
}

func TestClient_ServerNormalClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	c := testClient(t, nil)
	rec := newRecorder(c)

	if err := c.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.wait(t, "connection")
	rec.wait(t, "close")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 0 {
		t.Errorf("errors = %v, want none on normal close", rec.errs)
	}
}

func TestClient_DialFailureEmitsErrorThenClose(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(server)
	server.Close()

	c := testClient(t, nil)
	rec := newRecorder(c)

	if err := c.Connect(addr); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.wait(t, "error")
	rec.wait(t, "close")
	rec.quiet(t, 50*time.Millisecond)
}

func TestClient_ConnectSupersedesSilently(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	c := testClient(t, nil)
	rec := newRecorder(c)

	if err := c.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.wait(t, "connection")
	first := c.SessionID()

	if err := c.Connect(wsURL(server)); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	// The replaced socket must not report close.
	rec.wait(t, "connection")

	if c.SessionID() == first {
		t.Error("SessionID() unchanged after reconnect")
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestClient_ConnectInvalidURL(t *testing.T) {
	c := testClient(t, nil)
	rec := newRecorder(c)

	for _, u := range []string{"", "http://robot:9090", "ws://", "::nope"} {
		if err := c.Connect(u); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Connect(%q) error = %v, want ErrInvalidURL", u, err)
		}
	}
	rec.quiet(t, 20*time.Millisecond)
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	c := testClient(t, nil)
	rec := newRecorder(c)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	rec.quiet(t, 20*time.Millisecond)
}

func TestClient_Send(t *testing.T) {
	c := testClient(t, nil)

	if err := c.Send([]byte("hi")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := c.Send([]byte("héllo")); !errors.Is(err, ErrNonASCII) {
		t.Errorf("Send(non-ascii) error = %v, want ErrNonASCII", err)
	}

	utf := testClient(t, map[string]any{"encoding": "utf8"})
	if err := utf.Send([]byte("héllo")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("utf8 Send() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_Off(t *testing.T) {
	c := testClient(t, nil)

	sub := c.OnClose(func() {})
	if !c.Off(sub) {
		t.Error("Off() = false for registered handler")
	}
	if c.Off(sub) {
		t.Error("Off() = true for removed handler")
	}
}

func TestClient_OffRemovesOnlyItsHandler(t *testing.T) {
	c := testClient(t, nil)

	connected := 0
	c.OnConnection(func() { connected++ })
	frames := 0
	sub := c.OnMessage(func([]byte) { frames++ })

	if !c.Off(sub) {
		t.Fatal("Off() = false for registered message handler")
	}

	c.connection.Emit(struct{}{})
	c.messages.Emit([]byte("ping"))

	if connected != 1 {
		t.Errorf("connection handler calls = %d, want 1", connected)
	}
	if frames != 0 {
		t.Errorf("message handler calls = %d, want 0", frames)
	}
	if n := c.connection.Len(); n != 1 {
		t.Errorf("connection handlers = %d, want 1", n)
	}
}

func TestNewClient_CustomFactory(t *testing.T) {
	dialed := make(chan string, 1)
	factory := transport.FactoryFunc(func(ctx context.Context, url string, cfg transport.DialConfig) (transport.Conn, error) {
		dialed <- url
		return nil, errors.New("offline")
	})

	c := NewClient(DefaultOptions(), factory, nil)
	defer c.Close()
	rec := newRecorder(c)

	if err := c.Connect("ws://robot.local:9090"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case got := <-dialed:
		if got != "ws://robot.local:9090" {
			t.Errorf("dialed %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("factory not called")
	}
	rec.wait(t, "error")
	rec.wait(t, "close")
}

// pipeConn is an in-memory transport.Conn whose Read blocks until Close.
type pipeConn struct {
	once   sync.Once
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{closed: make(chan struct{})}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	<-p.closed
	return nil, errors.New("use of closed connection")
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	return nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestClient_ConnectWaitsForConnectionNotification(t *testing.T) {
	first := newPipeConn()
	var dials sync.Mutex
	dialCount := 0
	factory := transport.FactoryFunc(func(ctx context.Context, url string, cfg transport.DialConfig) (transport.Conn, error) {
		dials.Lock()
		defer dials.Unlock()
		dialCount++
		if dialCount == 1 {
			return first, nil
		}
		return nil, errors.New("offline")
	})

	c := NewClient(DefaultOptions(), factory, nil)
	defer c.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.OnConnection(func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	if err := c.Connect("ws://robot.local:9090"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection notification")
	}

	returned := make(chan struct{})
	go func() {
		c.Connect("ws://robot.local:9091")
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Connect returned while the previous attempt was still notifying")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after the notification finished")
	}

	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded socket was not closed")
	}
	if got := c.URL(); got != "ws://robot.local:9091" {
		t.Errorf("URL() = %q", got)
	}
}

func TestClient_SupersededDialStaysSilent(t *testing.T) {
	dialing := make(chan struct{})
	proceed := make(chan struct{})
	stale := newPipeConn()
	var calls sync.Mutex
	n := 0
	factory := transport.FactoryFunc(func(ctx context.Context, url string, cfg transport.DialConfig) (transport.Conn, error) {
		calls.Lock()
		n++
		call := n
		calls.Unlock()
		if call == 1 {
			close(dialing)
			<-proceed
			return stale, nil
		}
		return newPipeConn(), nil
	})

	c := NewClient(DefaultOptions(), factory, nil)
	defer c.Close()
	rec := newRecorder(c)

	if err := c.Connect("ws://robot.local:9090"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-dialing
	if err := c.Connect("ws://robot.local:9091"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.wait(t, "connection")

	close(proceed)
	select {
	case <-stale.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stale socket was not closed")
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestNew_RejectsAddressOption(t *testing.T) {
	_, err := NewConn(map[string]any{"url": "ws://robot:9090"}, nil)
	if !errors.Is(err, ErrAddressInOptions) {
		t.Errorf("NewConn() error = %v, want ErrAddressInOptions", err)
	}
}
