// Package config loads the chat core's construction-time configuration
// from the environment, and provides a file-backed settings store for the
// preferences that persist across sessions.
//
// Configuration is read once at construction and treated as immutable for
// the session; only the notification preferences (sound enabled, volume)
// are written back, through Store.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the plain key-value configuration supplied by the settings
// collaborator.
type Config struct {
	// LocalIdentity is the identity string of the local user.
	LocalIdentity string `env:"CHATKIT_LOCAL_IDENTITY"`

	// ServerURL is the websocket endpoint for the delivery channel,
	// e.g. wss://chat.example.com/ws.
	ServerURL string `env:"CHATKIT_SERVER_URL"`

	// MaxMessages caps the retained message collection.
	MaxMessages int `env:"CHATKIT_MAX_MESSAGES" envDefault:"500"`

	// UnreadCeiling saturates the displayed unread count.
	UnreadCeiling int `env:"CHATKIT_UNREAD_CEILING" envDefault:"99"`

	// MaxImageBytes is the largest accepted source image.
	MaxImageBytes int64 `env:"CHATKIT_MAX_IMAGE_BYTES" envDefault:"10485760"`

	// MaxImageDimension bounds compressed image width and height.
	MaxImageDimension int `env:"CHATKIT_MAX_IMAGE_DIMENSION" envDefault:"2048"`

	// ImageQuality is the re-encode quality factor, 0..1.
	ImageQuality float64 `env:"CHATKIT_IMAGE_QUALITY" envDefault:"0.8"`

	// TextSendTimeout bounds a text send attempt.
	TextSendTimeout time.Duration `env:"CHATKIT_TEXT_SEND_TIMEOUT" envDefault:"30s"`

	// ImageSendTimeout bounds an image send attempt.
	ImageSendTimeout time.Duration `env:"CHATKIT_IMAGE_SEND_TIMEOUT" envDefault:"2m"`

	// SoundEnabled is the initial notification cue flag; the live value
	// is owned by Store afterwards.
	SoundEnabled bool `env:"CHATKIT_SOUND_ENABLED" envDefault:"true"`

	// Volume is the initial cue volume, 0..1.
	Volume float64 `env:"CHATKIT_VOLUME" envDefault:"1.0"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
