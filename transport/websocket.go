// Package transport provides a websocket-backed implementation of the
// delivery channel contract.
//
// The adapter speaks a small JSON frame protocol: outgoing text messages
// and chunked image uploads are correlated with server acknowledgments by
// the caller's message ids, which also lets later receipt frames refer
// back to the message they confirm. Inbound frames (messages from other
// participants, delivery receipts) are dispatched to registered handlers.
//
// Example:
//
//	channel, err := transport.Dial(ctx, "wss://chat.example.com/ws")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer channel.Close()
//
//	channel.OnMessage(func(sender, body string) {
//	    fmt.Printf("%s: %s\n", sender, body)
//	})
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrChannelClosed indicates a send on a closed channel.
var ErrChannelClosed = errors.New("delivery channel closed")

// ErrProtocol indicates the server answered with an unexpected frame
// shape. Callers treat it like any transient delivery failure.
var ErrProtocol = errors.New("unexpected channel response")

// chunkSize is the image upload chunk size in bytes. Small enough to
// produce meaningful progress updates, large enough to keep frame
// overhead negligible.
const chunkSize = 32 * 1024

// frame is the wire representation of one protocol message.
type frame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Body   string `json:"body,omitempty"`
	Sender string `json:"sender,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Size   int    `json:"size,omitempty"`
	OK     *bool  `json:"ok,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Frame types.
const (
	frameText       = "text"
	frameImageBegin = "image_begin"
	frameImageChunk = "image_chunk"
	frameImageEnd   = "image_end"
	frameAck        = "ack"
	frameMessage    = "message"
	frameReceipt    = "receipt"
)

// WebsocketChannel implements the delivery channel contract over a single
// websocket connection.
type WebsocketChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes; gorilla allows one writer

	mu        sync.Mutex
	pending   map[string]chan frame
	onMessage func(sender, body string)
	onReceipt func(id string)

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to a websocket endpoint and starts the read loop.
func Dial(ctx context.Context, url string) (*WebsocketChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial delivery channel: %w", err)
	}
	return NewWebsocketChannel(conn), nil
}

// NewWebsocketChannel wraps an established connection. Useful for tests
// and embedders that negotiate the connection themselves.
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebsocketChannel{
		conn:    conn,
		pending: make(map[string]chan frame),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.readLoop()

	logrus.WithFields(logrus.Fields{
		"function":    "NewWebsocketChannel",
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Delivery channel connected")

	return c
}

// OnMessage registers the handler for messages from other participants.
func (c *WebsocketChannel) OnMessage(handler func(sender, body string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnReceipt registers the handler for delivery receipts.
func (c *WebsocketChannel) OnReceipt(handler func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReceipt = handler
}

// SendText implements interfaces.DeliveryChannel. The caller's message
// ID doubles as the frame ID, so a later receipt frame from the server
// correlates back to the message. An empty id gets a generated one.
func (c *WebsocketChannel) SendText(ctx context.Context, id, body string) error {
	if id == "" {
		id = uuid.NewString()
	}
	ackCh := c.register(id)
	defer c.unregister(id)

	if err := c.writeFrame(frame{Type: frameText, ID: id, Body: body}); err != nil {
		return err
	}
	_, err := c.awaitAck(ctx, ackCh)
	return err
}

// SendImage implements interfaces.DeliveryChannel. The payload is
// uploaded in chunks; progress, when non-nil, receives the cumulative
// percentage after each chunk.
func (c *WebsocketChannel) SendImage(ctx context.Context, id string, payload []byte, progress func(pct int)) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	ackCh := c.register(id)
	defer c.unregister(id)

	if err := c.writeFrame(frame{Type: frameImageBegin, ID: id, Size: len(payload)}); err != nil {
		return "", err
	}

	for sent := 0; sent < len(payload); sent += chunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := sent + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := c.writeFrame(frame{Type: frameImageChunk, ID: id, Data: payload[sent:end]}); err != nil {
			return "", err
		}
		if progress != nil {
			progress(end * 100 / len(payload))
		}
	}

	if err := c.writeFrame(frame{Type: frameImageEnd, ID: id}); err != nil {
		return "", err
	}
	return c.awaitAck(ctx, ackCh)
}

// Close tears down the connection. In-flight sends fail with
// ErrChannelClosed.
func (c *WebsocketChannel) Close() error {
	c.cancel()
	return c.conn.Close()
}

func (c *WebsocketChannel) register(id string) chan frame {
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *WebsocketChannel) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *WebsocketChannel) writeFrame(f frame) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// awaitAck waits for the correlated acknowledgment, the caller's
// deadline, or channel teardown, whichever comes first.
func (c *WebsocketChannel) awaitAck(ctx context.Context, ackCh chan frame) (string, error) {
	select {
	case ack := <-ackCh:
		if ack.OK == nil {
			logrus.WithFields(logrus.Fields{
				"function": "WebsocketChannel.awaitAck",
				"frame_id": ack.ID,
			}).Warn("Acknowledgment missing ok field")
			return "", ErrProtocol
		}
		if !*ack.OK {
			return "", fmt.Errorf("channel rejected send: %s", ack.Error)
		}
		return ack.URL, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrChannelClosed
	}
}

// readLoop dispatches inbound frames until the connection fails or the
// channel is closed.
func (c *WebsocketChannel) readLoop() {
	defer c.cancel()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if c.ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "WebsocketChannel.readLoop",
					"error":    err.Error(),
				}).Warn("Delivery channel read failed, closing")
			}
			return
		}

		switch f.Type {
		case frameAck:
			c.mu.Lock()
			ch := c.pending[f.ID]
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- f:
				default: // duplicate ack, drop
				}
			}
		case frameMessage:
			c.mu.Lock()
			handler := c.onMessage
			c.mu.Unlock()
			if handler != nil {
				handler(f.Sender, f.Body)
			}
		case frameReceipt:
			c.mu.Lock()
			handler := c.onReceipt
			c.mu.Unlock()
			if handler != nil {
				handler(f.ID)
			}
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "WebsocketChannel.readLoop",
				"frame_type": f.Type,
			}).Warn("Ignoring frame of unknown type")
		}
	}
}
