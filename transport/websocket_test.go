package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// testServer runs a scripted websocket peer for one connection.
type testServer struct {
	*httptest.Server
	handle func(conn *websocket.Conn, f frame)

	mu   sync.Mutex
	conn *websocket.Conn
}

func newTestServer(t *testing.T, handle func(conn *websocket.Conn, f frame)) *testServer {
	t.Helper()
	ts := &testServer{handle: handle}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conn = conn
		ts.mu.Unlock()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ts.handle(conn, f)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) push(t *testing.T, f frame) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		conn := ts.conn
		ts.mu.Unlock()
		if conn != nil {
			require.NoError(t, conn.WriteJSON(f))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server connection never established")
}

func wsURL(ts *testServer) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func ackOK(conn *websocket.Conn, id, url string) {
	ok := true
	_ = conn.WriteJSON(frame{Type: frameAck, ID: id, OK: &ok, URL: url})
}

func TestSendText_Acknowledged(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		if f.Type == frameText && f.Body == "hello" {
			ackOK(conn, f.ID, "")
		}
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.SendText(context.Background(), "msg-hello", "hello"))
}

func TestSendText_FrameCarriesCallerID(t *testing.T) {
	var mu sync.Mutex
	var wireID string
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		if f.Type == frameText {
			mu.Lock()
			wireID = f.ID
			mu.Unlock()
			ackOK(conn, f.ID, "")
			// Confirm delivery under the same ID.
			_ = conn.WriteJSON(frame{Type: frameReceipt, ID: f.ID})
		}
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	receipts := make(chan string, 1)
	c.OnReceipt(func(id string) { receipts <- id })

	require.NoError(t, c.SendText(context.Background(), "msg-42", "hi"))

	mu.Lock()
	assert.Equal(t, "msg-42", wireID, "the caller's message ID must cross the wire unchanged")
	mu.Unlock()

	select {
	case id := <-receipts:
		assert.Equal(t, "msg-42", id, "receipts must carry the original message ID back")
	case <-time.After(time.Second):
		t.Fatal("receipt never dispatched")
	}
}

func TestSendText_Rejected(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		ok := false
		_ = conn.WriteJSON(frame{Type: frameAck, ID: f.ID, OK: &ok, Error: "rate limited"})
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	err = c.SendText(context.Background(), "msg-spam", "spam")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestSendText_MalformedAckIsProtocolError(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		// Ack without an ok field.
		_ = conn.WriteJSON(frame{Type: frameAck, ID: f.ID})
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.SendText(context.Background(), "msg-x", "x"), ErrProtocol)
}

func TestSendText_CallerTimeout(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		// Never acknowledge.
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.SendText(ctx, "msg-void", "void"), context.DeadlineExceeded)
}

func TestSendImage_ChunkedWithProgress(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	var announced int

	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {
		mu.Lock()
		defer mu.Unlock()
		switch f.Type {
		case frameImageBegin:
			announced = f.Size
			received = nil
		case frameImageChunk:
			received = append(received, f.Data...)
		case frameImageEnd:
			ackOK(conn, f.ID, "https://cdn.example.com/u/9")
		}
	})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	payload := make([]byte, chunkSize*2+100)
	for i := range payload {
		payload[i] = byte(i)
	}

	var progress []int
	var progressMu sync.Mutex
	url, err := c.SendImage(context.Background(), "msg-img", payload, func(pct int) {
		progressMu.Lock()
		progress = append(progress, pct)
		progressMu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/u/9", url)

	mu.Lock()
	assert.Equal(t, len(payload), announced)
	assert.Equal(t, payload, received, "chunked payload must reassemble exactly")
	mu.Unlock()

	progressMu.Lock()
	defer progressMu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must be monotonic")
	}
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestInboundDispatch(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)
	defer c.Close()

	messages := make(chan string, 1)
	receipts := make(chan string, 1)
	c.OnMessage(func(sender, body string) { messages <- sender + ":" + body })
	c.OnReceipt(func(id string) { receipts <- id })

	ts.push(t, frame{Type: frameMessage, Sender: "bob", Body: "yo"})
	ts.push(t, frame{Type: frameReceipt, ID: "msg-1"})
	ts.push(t, frame{Type: "gibberish"}) // ignored, must not kill the loop

	select {
	case got := <-messages:
		assert.Equal(t, "bob:yo", got)
	case <-time.After(time.Second):
		t.Fatal("inbound message never dispatched")
	}
	select {
	case got := <-receipts:
		assert.Equal(t, "msg-1", got)
	case <-time.After(time.Second):
		t.Fatal("receipt never dispatched")
	}
}

func TestClose_UnblocksPendingSend(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn, f frame) {})

	c, err := Dial(context.Background(), wsURL(ts))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "msg-stuck", "stuck") }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("pending send never unblocked")
	}

	assert.ErrorIs(t, c.SendText(context.Background(), "msg-late", "after close"), ErrChannelClosed)
}
