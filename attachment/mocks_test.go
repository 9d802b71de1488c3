package attachment

import (
	"context"
	"sync"
)

// mockCompressor records calls and returns scripted results.
type mockCompressor struct {
	mu         sync.Mutex
	calls      int
	result     []byte
	err        error
	onCompress func()
}

func (m *mockCompressor) Compress(ctx context.Context, data []byte, maxDimension int, quality float64) ([]byte, error) {
	m.mu.Lock()
	hook := m.onCompress
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	// Default: pretend compression halved the payload.
	return data[:len(data)/2], nil
}

func (m *mockCompressor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// pngFile returns a File whose data carries a PNG magic header so MIME
// sniffing classifies it as image/png without a full decode.
func pngFile(name string, size int) File {
	data := make([]byte, size)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	return File{Name: name, Data: data}
}
