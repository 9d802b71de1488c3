// Package messaging implements the message delivery state machine for the
// chat core.
//
// This package owns the canonical message collection and orchestrates the
// lifecycle of user-authored messages: optimistic creation in a sending
// state, asynchronous delivery through an external channel, failure with
// user-initiated retry, deletion with discard-on-arrival semantics for
// stale results, reactions, and unread tracking.
//
// Example:
//
//	manager := messaging.NewManager(channel, pipeline, dispatcher, messaging.DefaultOptions("alice"))
//	msg, err := manager.SendText("hello @bob")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(msg.ID, msg.Status)
package messaging

import (
	"time"

	"github.com/opd-ai/chatkit/limits"
)

// Kind represents the type of message.
type Kind uint8

const (
	// KindText is a regular text message.
	KindText Kind = iota
	// KindImage is an image attachment message.
	KindImage
	// KindSystem is a fixed informational message. System messages are
	// inert: they carry no delivery status and cannot be retried.
	KindSystem
)

// Status represents the delivery state of a message.
type Status uint8

const (
	// StatusNone marks messages with no delivery lifecycle (system and
	// incoming messages).
	StatusNone Status = iota
	// StatusSending means the message is in flight.
	StatusSending
	// StatusSent means the channel acknowledged the message.
	StatusSent
	// StatusDelivered is an optional refinement of sent, signaled later
	// by a delivery receipt. Without a receipt, sent is terminal success.
	StatusDelivered
	// StatusFailed means the attempt failed; the message is retryable.
	StatusFailed
)

// String returns the status name used in logs and events.
func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "none"
	}
}

// validTransitions enumerates every legal status edge. Anything not in
// this table is rejected rather than applied; arbitrary field mutation is
// not part of the model.
var validTransitions = map[Status][]Status{
	StatusSending: {StatusSent, StatusDelivered, StatusFailed},
	StatusSent:    {StatusDelivered},
	StatusFailed:  {StatusSending}, // explicit user-initiated retry only
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NoProgress is the Progress value of messages with no upload in flight.
const NoProgress = -1

// Reaction tracks one emoji's count and the identities behind it. Count is
// the source of truth for display; the reactor set exists only to support
// toggle-off and is bounded by limits.MaxReactorsPerEmoji.
type Reaction struct {
	Count    int
	Reactors map[string]struct{}
}

// Message is the canonical unit of the collection. Snapshots returned to
// consumers are value copies; the manager owns the mutable instances.
type Message struct {
	// ID is client-generated at creation and stable for the message's
	// lifetime. Retry and delete key on it; retries never mint a new one.
	ID string

	Kind Kind

	// Body holds the raw text for text messages, the staged local handle
	// (before send) or remote URL (after send) for images, and a fixed
	// informational string for system messages.
	Body string

	// Sender is the author's identity string. Whether the message is the
	// local user's own is derived at read time by comparison, never
	// stored, so an identity change cannot leave stale flags behind.
	Sender string

	Status Status

	// CreatedAt is assigned once at creation and never mutated; the
	// collection is ordered by it.
	CreatedAt time.Time

	// Progress is the 0-100 upload percentage while an image send is in
	// flight, NoProgress otherwise.
	Progress int

	// FailReason is a short human-readable string present on failed
	// messages.
	FailReason string

	// Reactions maps emoji glyph to its count and reactor set.
	Reactions map[string]*Reaction

	// ReplyToID is a non-owning back-reference to another message. The
	// target may since have been deleted; resolution happens at read
	// time and yields a placeholder, never an error.
	ReplyToID string

	// IsOwn is filled in on snapshots only, derived from Sender at the
	// moment the snapshot is taken.
	IsOwn bool
}

// snapshot returns a consumer-safe copy with reactions deep-copied and
// IsOwn derived against the given identity.
func (m *Message) snapshot(localIdentity string) Message {
	copied := *m
	copied.IsOwn = m.Sender == localIdentity
	if m.Reactions != nil {
		copied.Reactions = make(map[string]*Reaction, len(m.Reactions))
		for emoji, r := range m.Reactions {
			reactors := make(map[string]struct{}, len(r.Reactors))
			for identity := range r.Reactors {
				reactors[identity] = struct{}{}
			}
			copied.Reactions[emoji] = &Reaction{Count: r.Count, Reactors: reactors}
		}
	}
	return copied
}

// ReplyPreview is the read-time resolution of a reply reference.
type ReplyPreview struct {
	// Available is false when the referenced message no longer exists.
	Available bool
	Body      string
	Sender    string
}

// PlaceholderReplyBody is shown when a reply target has been deleted.
const PlaceholderReplyBody = "message no longer available"

// Options configures a Manager at construction time. Values come from the
// settings collaborator and are treated as immutable for the session.
type Options struct {
	// LocalIdentity is the identity string of the local user.
	LocalIdentity string
	// MaxMessages caps the retained collection.
	MaxMessages int
	// UnreadCeiling saturates the displayed unread count.
	UnreadCeiling int
	// TextTimeout bounds a text send attempt.
	TextTimeout time.Duration
	// ImageTimeout bounds an image compression plus send attempt.
	ImageTimeout time.Duration
}

// DefaultOptions returns Options with the package defaults for the given
// local identity.
func DefaultOptions(localIdentity string) Options {
	return Options{
		LocalIdentity: localIdentity,
		MaxMessages:   limits.DefaultMaxMessages,
		UnreadCeiling: limits.DefaultUnreadCeiling,
		TextTimeout:   limits.DefaultTextSendTimeout,
		ImageTimeout:  limits.DefaultImageSendTimeout,
	}
}
