// Package notify implements the audio cue dispatcher for chat events.
//
// This package synthesizes short PCM tones for events such as a participant
// joining, leaving, a message arriving, or an error, and plays them through
// an injected output sink. Cues are fire-and-forget: they never block the
// delivery path, and any playback problem is logged rather than surfaced.
//
// The audio context is a process-wide resource with an explicit lifecycle:
// it is initialized lazily on first use (never at package load time) and
// must be released with Destroy when the application shuts down.
//
// Example:
//
//	dispatcher := notify.NewDispatcher(settings, notify.NewNullSink)
//	dispatcher.PlayCue(notify.EventMessage)
//	defer dispatcher.Destroy()
package notify

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/interfaces"
)

// EventKind identifies the chat event a cue is played for.
type EventKind uint8

const (
	// EventJoin signals a participant joining.
	EventJoin EventKind = iota
	// EventLeave signals a participant leaving.
	EventLeave
	// EventMessage signals an incoming message.
	EventMessage
	// EventError signals a failure the user should notice.
	EventError
)

// SampleRate is the PCM sample rate cues are synthesized at.
const SampleRate = 48000

// cueDuration is the length of a synthesized cue in samples (150ms).
const cueDuration = SampleRate * 150 / 1000

// defaultFrequency is used for event kinds with no pitch mapping.
const defaultFrequency = 523.25 // C5

// cueFrequencies maps each event kind to its tone pitch in Hz.
var cueFrequencies = map[EventKind]float64{
	EventJoin:    659.25, // E5, rising greeting
	EventLeave:   440.00, // A4
	EventMessage: 880.00, // A5, bright ping
	EventError:   220.00, // A3, low warning
}

// Sink is the audio output the dispatcher plays synthesized PCM through.
// Implementations must be safe for sequential use from a single goroutine;
// the dispatcher serializes playback itself.
type Sink interface {
	// Play renders the given int16 PCM samples at the given rate.
	Play(samples []int16, sampleRate uint32) error
	// Close releases the underlying audio resources.
	Close() error
}

// SinkFactory creates the process-wide audio sink. It is invoked at most
// once, on first use, because audio contexts typically cannot be created
// at load time.
type SinkFactory func() (Sink, error)

// NullSink discards all samples. Used in tests and headless environments.
type NullSink struct{}

// NewNullSink returns a discarding sink. Satisfies SinkFactory.
func NewNullSink() (Sink, error) { return NullSink{}, nil }

// Play discards the samples.
func (NullSink) Play(samples []int16, sampleRate uint32) error { return nil }

// Close is a no-op.
func (NullSink) Close() error { return nil }

// Dispatcher owns the audio cue lifecycle. Exactly one instance should
// exist per process; it holds the single owning handle to the audio sink.
type Dispatcher struct {
	mu          sync.Mutex
	settings    interfaces.Settings
	factory     SinkFactory
	sink        Sink
	initialized bool
	destroyed   bool
	enabled     bool
	volume      float64
}

// NewDispatcher creates a dispatcher reading its enable flag and volume
// from the settings collaborator. The sink is not created until the first
// cue plays. A nil factory selects the silent sink.
func NewDispatcher(settings interfaces.Settings, factory SinkFactory) *Dispatcher {
	if factory == nil {
		factory = NewNullSink
	}
	d := &Dispatcher{
		settings: settings,
		factory:  factory,
		enabled:  true,
		volume:   1.0,
	}
	if settings != nil {
		d.enabled = settings.SoundEnabled()
		d.volume = clampVolume(settings.Volume())
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDispatcher",
		"enabled":  d.enabled,
		"volume":   d.volume,
	}).Debug("Notification dispatcher created")

	return d
}

// Init eagerly creates the audio sink. Calling it is optional; PlayCue
// initializes lazily. Returns an error if the factory fails or the
// dispatcher was already destroyed.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureInitLocked()
}

func (d *Dispatcher) ensureInitLocked() error {
	if d.destroyed {
		return ErrDispatcherDestroyed
	}
	if d.initialized {
		return nil
	}

	sink, err := d.factory()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.ensureInitLocked",
			"error":    err.Error(),
		}).Warn("Audio sink initialization failed, cues disabled")
		return err
	}

	d.sink = sink
	d.initialized = true

	logrus.WithFields(logrus.Fields{
		"function":    "Dispatcher.ensureInitLocked",
		"sample_rate": SampleRate,
	}).Info("Audio sink initialized")

	return nil
}

// PlayCue plays the tone mapped to kind. It is fire-and-forget: playback
// happens on its own goroutine and never blocks or fails the caller.
// Silently a no-op when cues are disabled, the sink cannot be created, or
// the dispatcher was destroyed. Unmapped kinds fall back to a default
// tone rather than erroring.
func (d *Dispatcher) PlayCue(kind EventKind) {
	d.mu.Lock()
	if d.destroyed || !d.enabled {
		d.mu.Unlock()
		return
	}
	if err := d.ensureInitLocked(); err != nil {
		d.mu.Unlock()
		return
	}
	volume := d.volume
	d.mu.Unlock()

	freq, ok := cueFrequencies[kind]
	if !ok {
		freq = defaultFrequency
	}

	go func() {
		samples := SynthesizeTone(freq, cueDuration, volume)

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.destroyed || d.sink == nil {
			return
		}
		if err := d.sink.Play(samples, SampleRate); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Dispatcher.PlayCue",
				"event":     kind,
				"frequency": freq,
				"error":     err.Error(),
			}).Warn("Cue playback failed")
		}
	}()
}

// SetEnabled updates the global enable flag and persists it through the
// settings collaborator.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	settings := d.settings
	d.mu.Unlock()

	if settings != nil {
		settings.SetSoundEnabled(enabled)
	}
}

// Enabled reports whether cues are globally enabled.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetVolume updates the cue volume (clamped to 0..1) and persists it.
func (d *Dispatcher) SetVolume(volume float64) {
	v := clampVolume(volume)

	d.mu.Lock()
	d.volume = v
	settings := d.settings
	d.mu.Unlock()

	if settings != nil {
		settings.SetVolume(v)
	}
}

// Volume returns the current cue volume.
func (d *Dispatcher) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Destroy releases the audio sink. Safe to call multiple times; cues
// played after Destroy are silently dropped.
func (d *Dispatcher) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return
	}
	d.destroyed = true

	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Dispatcher.Destroy",
				"error":    err.Error(),
			}).Warn("Failed to close audio sink")
		}
		d.sink = nil
	}
	d.initialized = false

	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.Destroy",
	}).Info("Notification dispatcher destroyed")
}

// SynthesizeTone renders a sine tone of the given frequency and length
// (in samples) at the given volume, with a short linear attack/release
// envelope so cues start and end without clicks.
func SynthesizeTone(frequency float64, length int, volume float64) []int16 {
	const rampSamples = SampleRate * 5 / 1000 // 5ms

	volume = clampVolume(volume)
	samples := make([]int16, length)
	for i := range samples {
		v := math.Sin(2 * math.Pi * frequency * float64(i) / SampleRate)

		envelope := 1.0
		if i < rampSamples {
			envelope = float64(i) / rampSamples
		} else if remaining := length - i; remaining < rampSamples {
			envelope = float64(remaining) / rampSamples
		}

		samples[i] = int16(v * envelope * volume * math.MaxInt16)
	}
	return samples
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
