// Package limits provides centralized size limits and validation helpers for
// the chat core. This ensures consistent validation across different
// components of the system.
package limits

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxMessageRunes is the maximum length of an outgoing text message,
	// counted in runes after trimming surrounding whitespace.
	MaxMessageRunes = 2000

	// DefaultMaxImageBytes is the maximum accepted size of a source image
	// file before compression is attempted. Compression is never used to
	// rescue a file over this limit.
	DefaultMaxImageBytes = 10 * 1024 * 1024

	// DefaultMaxDimension is the maximum width or height of a compressed
	// image in pixels. Larger images are scaled down preserving aspect.
	DefaultMaxDimension = 2048

	// DefaultJPEGQuality is the re-encode quality factor for compressed
	// images, on a 0..1 scale.
	DefaultJPEGQuality = 0.8

	// DefaultMaxMessages is the default cap on retained messages. Oldest
	// non-pending messages are evicted first when the cap is exceeded.
	DefaultMaxMessages = 500

	// DefaultUnreadCeiling is the display ceiling for the unread counter.
	// The internal count is exact; display saturates at this value.
	DefaultUnreadCeiling = 99

	// MaxReactorsPerEmoji bounds the reactor identity set kept per emoji.
	// The count remains the source of truth for display once the set is
	// full; the set exists only to support toggle-off.
	MaxReactorsPerEmoji = 64

	// DefaultTextSendTimeout is how long a text send may stay in flight
	// before it is failed locally. The delivery channel may never settle.
	DefaultTextSendTimeout = 30 * time.Second

	// DefaultImageSendTimeout is the in-flight limit for image sends,
	// longer than text to accommodate upload time.
	DefaultImageSendTimeout = 2 * time.Minute
)

var (
	// ErrEmptyMessage indicates a message body was empty after trimming.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMessageTooLong indicates a message body exceeds MaxMessageRunes.
	ErrMessageTooLong = errors.New("message too long")
)

// ValidateMessageText validates an outgoing text body and returns the
// trimmed form. Validation errors are returned synchronously and the
// message never enters the collection.
func ValidateMessageText(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxMessageRunes {
		return "", fmt.Errorf("%w: length %d exceeds limit %d", ErrMessageTooLong, n, MaxMessageRunes)
	}
	return trimmed, nil
}

// ValidateImageSize validates a source image byte size against the
// configured maximum.
func ValidateImageSize(size int64, maxBytes int64) error {
	if size > maxBytes {
		return fmt.Errorf("image size %d exceeds limit %d", size, maxBytes)
	}
	return nil
}
