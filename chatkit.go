// Package chatkit implements the client side of a chat session: message
// delivery with retry, image attachment staging and compression, content
// extraction, notification cues, and persisted preferences.
//
// Example:
//
//	options := chatkit.NewOptions()
//	options.LocalIdentity = "alice"
//	options.ServerURL = "wss://chat.example.com/ws"
//
//	client, err := chatkit.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	client.Subscribe(func(ev messaging.Event) {
//	    fmt.Printf("event: %d message: %s\n", ev.Type, ev.MessageID)
//	})
//
//	if _, err := client.SendText("hello"); err != nil {
//	    log.Fatal(err)
//	}
package chatkit

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/attachment"
	"github.com/opd-ai/chatkit/config"
	"github.com/opd-ai/chatkit/interfaces"
	"github.com/opd-ai/chatkit/messaging"
	"github.com/opd-ai/chatkit/notify"
	"github.com/opd-ai/chatkit/transport"
)

// ErrNoChannel indicates that New was given neither a delivery channel
// nor a server URL to dial.
var ErrNoChannel = errors.New("no delivery channel configured")

// Options contains configuration for creating a Client.
type Options struct {
	// LocalIdentity is the identity string of the local user. Messages
	// from this sender never count toward the unread total.
	LocalIdentity string

	// ServerURL is the websocket endpoint to dial when Channel is nil.
	ServerURL string

	// Channel overrides the dialed websocket channel. When set,
	// ServerURL is ignored and the caller owns the channel's lifetime.
	// An injected *transport.WebsocketChannel still gets its inbound
	// message and receipt handlers wired to the client.
	Channel interfaces.DeliveryChannel

	// SettingsPath is the file used to persist notification
	// preferences. Empty disables persistence across sessions.
	SettingsPath string

	// SinkFactory builds the audio output for notification cues. Nil
	// selects the silent sink.
	SinkFactory notify.SinkFactory

	// Config supplies tuning values. Nil loads from the environment.
	Config *config.Config
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{}
}

// Client ties the chat subsystems together behind one lifecycle.
type Client struct {
	*messaging.Manager

	mu                sync.Mutex
	running           bool
	channel           *transport.WebsocketChannel
	callerOwnsChannel bool
	pipeline          *attachment.Pipeline
	dispatcher        *notify.Dispatcher
	settings          *config.Store
}

// New creates a Client from the given options, dialing the delivery
// channel when one is not supplied.
func New(options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}

	cfg := options.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if options.LocalIdentity != "" {
		cfg.LocalIdentity = options.LocalIdentity
	}
	if options.ServerURL != "" {
		cfg.ServerURL = options.ServerURL
	}

	settingsPath := options.SettingsPath
	settings := config.NewStore(settingsPath, cfg)

	dispatcher := notify.NewDispatcher(settings, options.SinkFactory)

	pipeline := attachment.NewPipeline(attachment.Config{
		MaxBytes:     cfg.MaxImageBytes,
		MaxDimension: cfg.MaxImageDimension,
		Quality:      cfg.ImageQuality,
	}, attachment.NewImageCompressor())

	c := &Client{
		dispatcher: dispatcher,
		pipeline:   pipeline,
		settings:   settings,
	}

	channel := options.Channel
	if channel == nil {
		if cfg.ServerURL == "" {
			return nil, ErrNoChannel
		}
		ws, err := transport.Dial(context.Background(), cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		c.channel = ws
		channel = ws
	} else if ws, ok := channel.(*transport.WebsocketChannel); ok {
		// Injected websocket channels still get inbound wiring; only
		// their lifetime stays with the caller.
		c.channel = ws
		c.callerOwnsChannel = true
	}

	c.Manager = messaging.NewManager(channel, pipeline, dispatcher, messaging.Options{
		LocalIdentity: cfg.LocalIdentity,
		MaxMessages:   cfg.MaxMessages,
		UnreadCeiling: cfg.UnreadCeiling,
		TextTimeout:   cfg.TextSendTimeout,
		ImageTimeout:  cfg.ImageSendTimeout,
	})

	if c.channel != nil {
		c.channel.OnMessage(func(sender, body string) {
			c.Receive(sender, body, messaging.KindText, "")
		})
		c.channel.OnReceipt(func(id string) {
			c.ConfirmDelivered(id)
		})
	}

	c.running = true

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"identity": cfg.LocalIdentity,
	}).Info("chat client created")

	return c, nil
}

// Settings exposes the persisted notification preferences.
func (c *Client) Settings() *config.Store {
	return c.settings
}

// Notifications exposes the cue dispatcher for preference toggles.
func (c *Client) Notifications() *notify.Dispatcher {
	return c.dispatcher
}

// IsRunning reports whether the client has not been killed.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Kill stops the client and releases all resources. Calling Kill more
// than once is safe.
func (c *Client) Kill() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.pipeline.Cancel()
	c.dispatcher.Destroy()

	if c.channel != nil && !c.callerOwnsChannel {
		if err := c.channel.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"error":    err.Error(),
			}).Warn("channel close failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
	}).Info("chat client stopped")
}
