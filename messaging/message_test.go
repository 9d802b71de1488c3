package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"Sending to sent", StatusSending, StatusSent, true},
		{"Sending to delivered", StatusSending, StatusDelivered, true},
		{"Sending to failed", StatusSending, StatusFailed, true},
		{"Sent to delivered", StatusSent, StatusDelivered, true},
		{"Failed to sending via retry", StatusFailed, StatusSending, true},
		{"Sent back to sending", StatusSent, StatusSending, false},
		{"Delivered to anything", StatusDelivered, StatusSending, false},
		{"Delivered to failed", StatusDelivered, StatusFailed, false},
		{"Sent to failed", StatusSent, StatusFailed, false},
		{"None has no edges", StatusNone, StatusSent, false},
		{"Failed to sent directly", StatusFailed, StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "sending", StatusSending.String())
	assert.Equal(t, "sent", StatusSent.String())
	assert.Equal(t, "delivered", StatusDelivered.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "none", StatusNone.String())
}

func TestSnapshot_DeepCopiesReactions(t *testing.T) {
	msg := &Message{
		ID:     "m1",
		Sender: "alice",
		Reactions: map[string]*Reaction{
			"👍": {Count: 2, Reactors: map[string]struct{}{"alice": {}, "bob": {}}},
		},
	}

	snap := msg.snapshot("alice")
	require.True(t, snap.IsOwn)

	snap.Reactions["👍"].Count = 99
	snap.Reactions["👍"].Reactors["mallory"] = struct{}{}

	assert.Equal(t, 2, msg.Reactions["👍"].Count, "mutating a snapshot must not touch the canonical message")
	assert.NotContains(t, msg.Reactions["👍"].Reactors, "mallory")
}

func TestSnapshot_IsOwnDerivedAtReadTime(t *testing.T) {
	msg := &Message{ID: "m1", Sender: "alice"}

	assert.True(t, msg.snapshot("alice").IsOwn)
	assert.False(t, msg.snapshot("bob").IsOwn, "ownership follows the identity at read time, not a stored flag")
}
