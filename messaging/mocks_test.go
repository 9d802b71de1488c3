package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/chatkit/attachment"
	"github.com/opd-ai/chatkit/notify"
)

// mockChannel scripts delivery-channel behavior per test.
type mockChannel struct {
	mu         sync.Mutex
	textFn     func(ctx context.Context, body string) error
	imageFn    func(ctx context.Context, payload []byte, progress func(int)) (string, error)
	textCalls  int
	imageCalls int
	ids        []string
}

func (c *mockChannel) SendText(ctx context.Context, id, body string) error {
	c.mu.Lock()
	c.textCalls++
	c.ids = append(c.ids, id)
	fn := c.textFn
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, body)
}

func (c *mockChannel) SendImage(ctx context.Context, id string, payload []byte, progress func(int)) (string, error) {
	c.mu.Lock()
	c.imageCalls++
	c.ids = append(c.ids, id)
	fn := c.imageFn
	c.mu.Unlock()
	if fn == nil {
		return "https://example.com/i/1", nil
	}
	return fn(ctx, payload, progress)
}

func (c *mockChannel) sentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c *mockChannel) textCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textCalls
}

func (c *mockChannel) imageCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageCalls
}

// passthroughCompressor returns the input unchanged after an optional
// delay, which makes the pipeline keep the original payload.
type passthroughCompressor struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (c *passthroughCompressor) Compress(ctx context.Context, data []byte, maxDimension int, quality float64) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return data, nil
}

func (c *passthroughCompressor) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// cueRecorder captures dispatched cue kinds.
type cueRecorder struct {
	mu    sync.Mutex
	kinds []notify.EventKind
}

func (r *cueRecorder) PlayCue(kind notify.EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *cueRecorder) recorded() []notify.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// pngFile fabricates image bytes that sniff as image/png.
func pngFile(name string, size int) attachment.File {
	data := make([]byte, size)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	return attachment.File{Name: name, Data: data}
}

// testManager builds a manager with fast timeouts and a passthrough
// compressor pipeline.
func testManager(channel *mockChannel, opts Options) *Manager {
	pipeline := attachment.NewPipeline(attachment.DefaultConfig(), &passthroughCompressor{})
	return NewManager(channel, pipeline, nil, opts)
}

// waitForStatus polls until the message reaches the wanted status.
func waitForStatus(t *testing.T, m *Manager, id string, want Status) Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := m.Get(id); ok && msg.Status == want {
			return msg
		}
		time.Sleep(2 * time.Millisecond)
	}
	msg, ok := m.Get(id)
	t.Fatalf("message %s never reached %v (exists=%v, last=%+v)", id, want, ok, msg)
	return Message{}
}

// settle gives in-flight goroutines a moment to apply stale results.
func settle() { time.Sleep(50 * time.Millisecond) }
