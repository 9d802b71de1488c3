package chatkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chatkit/config"
	"github.com/opd-ai/chatkit/messaging"
)

// stubChannel is an in-process delivery channel that always succeeds.
type stubChannel struct {
	texts chan string
}

func newStubChannel() *stubChannel {
	return &stubChannel{texts: make(chan string, 16)}
}

func (s *stubChannel) SendText(ctx context.Context, id, body string) error {
	s.texts <- body
	return nil
}

func (s *stubChannel) SendImage(ctx context.Context, id string, payload []byte, progress func(pct int)) (string, error) {
	if progress != nil {
		progress(100)
	}
	return "https://example.com/i/1", nil
}

func testClient(t *testing.T) (*Client, *stubChannel) {
	t.Helper()
	ch := newStubChannel()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.LocalIdentity = "alice"

	client, err := New(&Options{
		Channel: ch,
		Config:  cfg,
	})
	require.NoError(t, err)
	t.Cleanup(client.Kill)
	return client, ch
}

func TestNew_RequiresChannelOrURL(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.ServerURL = ""

	_, err = New(&Options{Config: cfg})
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestClient_SendTextThroughChannel(t *testing.T) {
	client, ch := testClient(t)

	msg, err := client.SendText("hello")
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusSending, msg.Status)

	select {
	case body := <-ch.texts:
		assert.Equal(t, "hello", body)
	case <-time.After(time.Second):
		t.Fatal("text never reached the channel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := client.Get(msg.ID); ok && got.Status == messaging.StatusSent {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("message never reached sent")
}

func TestClient_ReceiveCountsUnread(t *testing.T) {
	client, _ := testClient(t)

	client.SetFocused(false)
	client.Receive("bob", "hey", messaging.KindText, "")
	assert.Equal(t, 1, client.Unread())

	client.MarkAllRead()
	assert.Equal(t, 0, client.Unread())
}

// wireFrame mirrors the transport frame shape for the fake server.
type wireFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Body   string `json:"body,omitempty"`
	Sender string `json:"sender,omitempty"`
	OK     *bool  `json:"ok,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

func TestClient_DeliveredReceiptEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	// Ack every text frame, then confirm delivery under the same ID.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			var f wireFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != "text" {
				continue
			}
			ok := true
			if err := conn.WriteJSON(wireFrame{Type: "ack", ID: f.ID, OK: &ok}); err != nil {
				return
			}
			if err := conn.WriteJSON(wireFrame{Type: "receipt", ID: f.ID}); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.LocalIdentity = "alice"
	cfg.ServerURL = "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := New(&Options{Config: cfg})
	require.NoError(t, err)
	defer client.Kill()

	msg, err := client.SendText("hello")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := client.Get(msg.ID); ok && got.Status == messaging.StatusDelivered {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := client.Get(msg.ID)
	t.Fatalf("message never reached delivered, last status %v", got.Status)
}

func TestClient_KillIdempotent(t *testing.T) {
	client, _ := testClient(t)

	assert.True(t, client.IsRunning())
	client.Kill()
	assert.False(t, client.IsRunning())
	client.Kill()
	assert.False(t, client.IsRunning())
}

func TestClient_SettingsAccessors(t *testing.T) {
	client, _ := testClient(t)

	require.NotNil(t, client.Settings())
	require.NotNil(t, client.Notifications())

	client.Notifications().SetEnabled(false)
	assert.False(t, client.Settings().SoundEnabled())
}
