package notify

import "errors"

// ErrDispatcherDestroyed indicates a cue or init was requested after the
// dispatcher released its audio sink.
var ErrDispatcherDestroyed = errors.New("notification dispatcher destroyed")
