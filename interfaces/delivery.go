package interfaces

import "context"

// DeliveryChannel defines the interface for the external transport that
// actually moves messages to other participants.
// This abstraction allows switching between simulation and real network
// implementations.
type DeliveryChannel interface {
	// SendText transmits a text body under the caller's message ID. A nil
	// return is the channel's acknowledgment; a later delivered receipt,
	// if the channel supports one, carries the same ID back. The call may
	// block until ctx is done; the channel is allowed to never settle on
	// its own.
	SendText(ctx context.Context, id, body string) error

	// SendImage transmits a compressed image payload under the caller's
	// message ID and returns the remote URL assigned to it. If progress
	// is non-nil the channel may report incremental upload percentage
	// through it.
	SendImage(ctx context.Context, id string, payload []byte, progress func(pct int)) (string, error)
}

// Compressor defines the external compression primitive used by the
// attachment pipeline. Implementations may reject; callers fall back to
// the original payload.
type Compressor interface {
	// Compress re-encodes data so neither dimension exceeds maxDimension,
	// preserving aspect ratio, at the given quality factor (0..1).
	Compress(ctx context.Context, data []byte, maxDimension int, quality float64) ([]byte, error)
}

// Settings is the persistence collaborator for notification preferences.
// Values written here are expected to survive across sessions.
type Settings interface {
	// SoundEnabled reports whether audio cues are globally enabled.
	SoundEnabled() bool

	// SetSoundEnabled persists the global enable flag.
	SetSoundEnabled(enabled bool)

	// Volume returns the global cue volume in the range 0..1.
	Volume() float64

	// SetVolume persists the global cue volume.
	SetVolume(volume float64)
}
