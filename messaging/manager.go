package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/attachment"
	"github.com/opd-ai/chatkit/interfaces"
	"github.com/opd-ai/chatkit/limits"
	"github.com/opd-ai/chatkit/notify"
)

// CuePlayer is the dispatcher surface the manager fires cues through.
// Satisfied by *notify.Dispatcher; a nil player disables cues.
type CuePlayer interface {
	PlayCue(kind notify.EventKind)
}

// record pairs a message with its in-flight bookkeeping. The attempt
// counter implements discard-on-arrival: an async result is applied only
// if it carries the attempt that is still current, so results arriving
// after a timeout, retry, or delete are dropped without mutating state.
type record struct {
	msg     *Message
	attempt int
	job     *attachment.Job
	payload []byte
}

// Manager owns the canonical message collection. All mutation flows
// through its collection lock; asynchronous completions re-enter through
// the same guarded path, so per-message transitions stay race-free
// without cross-message locking.
type Manager struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	channel  interfaces.DeliveryChannel
	pipeline *attachment.Pipeline
	cues     CuePlayer
	opts     Options

	order []*record
	byID  map[string]*record

	unread  int
	focused bool

	subscribers    map[SubscriberID]Subscriber
	nextSubscriber SubscriberID
	pendingEvents  []Event
}

// NewManager creates a manager bound to the given delivery channel,
// attachment pipeline, and cue player (both pipeline and cues may be nil;
// a nil pipeline disables image sends).
func NewManager(channel interfaces.DeliveryChannel, pipeline *attachment.Pipeline, cues CuePlayer, opts Options) *Manager {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = limits.DefaultMaxMessages
	}
	if opts.UnreadCeiling <= 0 {
		opts.UnreadCeiling = limits.DefaultUnreadCeiling
	}
	if opts.TextTimeout <= 0 {
		opts.TextTimeout = limits.DefaultTextSendTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = limits.DefaultImageSendTimeout
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"local_identity": opts.LocalIdentity,
		"max_messages":   opts.MaxMessages,
		"text_timeout":   opts.TextTimeout,
		"image_timeout":  opts.ImageTimeout,
	}).Info("Creating message manager")

	return &Manager{
		channel:     channel,
		pipeline:    pipeline,
		cues:        cues,
		opts:        opts,
		byID:        make(map[string]*record),
		subscribers: make(map[SubscriberID]Subscriber),
	}
}

// ErrNoPipeline indicates an image send on a manager built without an
// attachment pipeline.
var ErrNoPipeline = errors.New("no attachment pipeline configured")

// SendText validates body and sends it as a new text message. Validation
// failures are returned synchronously and leave no trace in the
// collection; otherwise the message appears immediately in sending state
// and the delivery outcome lands on it asynchronously.
func (m *Manager) SendText(body string) (Message, error) {
	return m.SendTextReply(body, "")
}

// SendTextReply is SendText with a reply back-reference to another
// message. The reference is non-owning; it may dangle later.
func (m *Manager) SendTextReply(body, replyToID string) (Message, error) {
	trimmed, err := limits.ValidateMessageText(body)
	if err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	rec := m.appendLocked(&Message{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Body:      trimmed,
		Sender:    m.opts.LocalIdentity,
		Status:    StatusSending,
		CreatedAt: time.Now(),
		Progress:  NoProgress,
		ReplyToID: replyToID,
	})
	attempt := rec.attempt
	snap := rec.msg.snapshot(m.opts.LocalIdentity)
	m.mu.Unlock()
	m.flushEvents()

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.SendText",
		"message_id": snap.ID,
		"length":     len(trimmed),
	}).Info("Text message created, delivery in flight")

	go m.transmitText(snap.ID, attempt, trimmed)
	return snap, nil
}

// SendImage stages file through the attachment pipeline and sends it as a
// new image message. Type and size validation happen synchronously; the
// message is created with zero progress before compression completes so
// the caller gets immediate feedback.
func (m *Manager) SendImage(file attachment.File) (Message, error) {
	if m.pipeline == nil {
		return Message{}, ErrNoPipeline
	}

	// The message owns its job outright; staging the next selection must
	// not revoke an in-flight send.
	job, err := m.pipeline.StageDetached(context.Background(), file)
	if err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	rec := m.appendLocked(&Message{
		ID:        uuid.NewString(),
		Kind:      KindImage,
		Body:      job.Preview().ID(),
		Sender:    m.opts.LocalIdentity,
		Status:    StatusSending,
		CreatedAt: time.Now(),
		Progress:  0,
	})
	rec.job = job
	attempt := rec.attempt
	snap := rec.msg.snapshot(m.opts.LocalIdentity)
	m.mu.Unlock()
	m.flushEvents()

	id := snap.ID
	job.OnProgress(func(pct int) { m.setProgress(id, pct) })

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.SendImage",
		"message_id": id,
		"job_id":     job.ID,
		"file_name":  file.Name,
	}).Info("Image message created, compression in flight")

	go m.transmitImage(id, attempt, job)
	return snap, nil
}

// Retry re-enters a failed message into the sending state and repeats the
// send with the original body or attachment payload. A no-op if id is
// unknown or the message is not failed; retries never create a second
// message. Retries are always caller-initiated.
func (m *Manager) Retry(id string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok || rec.msg.Status != StatusFailed {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.Retry",
			"message_id": id,
		}).Debug("Retry ignored: message unknown or not failed")
		return
	}

	rec.attempt++
	attempt := rec.attempt
	rec.msg.Status = StatusSending
	rec.msg.FailReason = ""
	if rec.msg.Kind == KindImage {
		if rec.payload != nil {
			rec.msg.Progress = attachment.StagedProgress
		} else {
			rec.msg.Progress = 0
		}
	}
	m.queueEvent(Event{Type: EventStatusChanged, MessageID: id, Status: StatusSending})

	kind := rec.msg.Kind
	body := rec.msg.Body
	payload := rec.payload
	job := rec.job
	m.mu.Unlock()
	m.flushEvents()

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Retry",
		"message_id": id,
		"attempt":    attempt,
	}).Info("Retrying failed message")

	switch kind {
	case KindText:
		go m.transmitText(id, attempt, body)
	case KindImage:
		if payload != nil {
			go m.transmitPayload(id, attempt, payload)
		} else if job != nil {
			go m.transmitImage(id, attempt, job)
		} else {
			m.applyFailure(id, attempt, "attachment no longer available")
		}
	}
}

// Delete removes the message regardless of status. If a send is in
// flight, its eventual result is discarded on arrival. Unknown ids are a
// no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.removeLocked(rec)
	job := rec.job
	m.mu.Unlock()
	m.flushEvents()

	if job != nil {
		job.Discard()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Delete",
		"message_id": id,
	}).Info("Message deleted")
}

// React toggles the local identity's reaction on the message. The count
// never goes negative and toggling twice restores the prior count and
// reactor set exactly. Unknown ids are a no-op.
func (m *Manager) React(id, emoji string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	identity := m.opts.LocalIdentity
	if rec.msg.Reactions == nil {
		rec.msg.Reactions = make(map[string]*Reaction)
	}
	reaction := rec.msg.Reactions[emoji]
	if reaction == nil {
		reaction = &Reaction{Reactors: make(map[string]struct{})}
		rec.msg.Reactions[emoji] = reaction
	}

	if _, reacted := reaction.Reactors[identity]; reacted {
		delete(reaction.Reactors, identity)
		reaction.Count--
		if reaction.Count <= 0 {
			delete(rec.msg.Reactions, emoji)
		}
	} else {
		reaction.Count++
		// The reactor set is bounded; once full the count still moves
		// but toggle-off for the overflow identity is unavailable.
		if len(reaction.Reactors) < limits.MaxReactorsPerEmoji {
			reaction.Reactors[identity] = struct{}{}
		}
	}

	m.queueEvent(Event{Type: EventReacted, MessageID: id})
	m.mu.Unlock()
	m.flushEvents()
}

// Receive appends a message that arrived from the delivery channel. The
// unread counter and the incoming-message cue both apply only when the
// surface is unfocused and the sender is not the local identity; echoes
// of the local user's own messages arrive silently.
func (m *Manager) Receive(sender, body string, kind Kind, replyToID string) Message {
	m.mu.Lock()
	rec := m.appendLocked(&Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Body:      body,
		Sender:    sender,
		Status:    StatusNone,
		CreatedAt: time.Now(),
		Progress:  NoProgress,
		ReplyToID: replyToID,
	})
	noticeable := !m.focused && sender != m.opts.LocalIdentity
	if noticeable {
		m.unread++
		m.queueEvent(Event{Type: EventUnreadChanged, Unread: m.unread})
	}
	snap := rec.msg.snapshot(m.opts.LocalIdentity)
	m.mu.Unlock()
	m.flushEvents()

	if noticeable {
		m.playCue(notify.EventMessage)
	}
	return snap
}

// AddSystemMessage appends a fixed informational message. System messages
// carry no delivery status and are inert.
func (m *Manager) AddSystemMessage(body string) Message {
	m.mu.Lock()
	rec := m.appendLocked(&Message{
		ID:        uuid.NewString(),
		Kind:      KindSystem,
		Body:      body,
		Status:    StatusNone,
		CreatedAt: time.Now(),
		Progress:  NoProgress,
	})
	snap := rec.msg.snapshot(m.opts.LocalIdentity)
	m.mu.Unlock()
	m.flushEvents()
	return snap
}

// ConfirmDelivered applies a delivery receipt from the channel, refining
// sent into delivered. Receipts for messages in any other state are
// rejected by the transition table and ignored.
func (m *Manager) ConfirmDelivered(id string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok || !canTransition(rec.msg.Status, StatusDelivered) {
		m.mu.Unlock()
		return
	}
	rec.msg.Status = StatusDelivered
	m.queueEvent(Event{Type: EventStatusChanged, MessageID: id, Status: StatusDelivered})
	m.mu.Unlock()
	m.flushEvents()
}

// MarkAllRead resets the unread counter on an explicit viewed signal.
func (m *Manager) MarkAllRead() {
	m.mu.Lock()
	if m.unread == 0 {
		m.mu.Unlock()
		return
	}
	m.unread = 0
	m.queueEvent(Event{Type: EventUnreadChanged, Unread: 0})
	m.mu.Unlock()
	m.flushEvents()
}

// SetFocused records whether the consuming surface is visible. Messages
// arriving while unfocused count as unread.
func (m *Manager) SetFocused(focused bool) {
	m.mu.Lock()
	m.focused = focused
	m.mu.Unlock()
}

// Unread returns the exact internal unread count.
func (m *Manager) Unread() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}

// UnreadDisplay returns the unread count saturated at the configured
// ceiling, e.g. "99+". The internal count stays exact.
func (m *Manager) UnreadDisplay() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unread > m.opts.UnreadCeiling {
		return strconv.Itoa(m.opts.UnreadCeiling) + "+"
	}
	return strconv.Itoa(m.unread)
}

// Messages returns a read-only snapshot of the collection in insertion
// order. IsOwn is derived against the local identity at snapshot time.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.order))
	for _, rec := range m.order {
		out = append(out, rec.msg.snapshot(m.opts.LocalIdentity))
	}
	return out
}

// Get returns a snapshot of one message by id.
func (m *Manager) Get(id string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return Message{}, false
	}
	return rec.msg.snapshot(m.opts.LocalIdentity), true
}

// ResolveReply resolves a reply back-reference at read time. A dangling
// reference yields a placeholder, never an error. An empty id yields the
// zero preview.
func (m *Manager) ResolveReply(replyToID string) ReplyPreview {
	if replyToID == "" {
		return ReplyPreview{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[replyToID]
	if !ok {
		return ReplyPreview{Body: PlaceholderReplyBody}
	}
	return ReplyPreview{Available: true, Body: rec.msg.Body, Sender: rec.msg.Sender}
}

// appendLocked creates the record, appends it preserving insertion order,
// queues the created event, and enforces the retention cap. Caller holds
// the collection lock and flushes after unlocking.
func (m *Manager) appendLocked(msg *Message) *record {
	rec := &record{msg: msg, attempt: 1}
	m.order = append(m.order, rec)
	m.byID[msg.ID] = rec
	m.queueEvent(Event{Type: EventCreated, MessageID: msg.ID, Status: msg.Status})
	m.evictLocked()
	return rec
}

// evictLocked drops oldest non-pending messages while the collection
// exceeds the cap. Messages in sending state are never evicted; if only
// pending messages remain the cap is allowed to overshoot.
func (m *Manager) evictLocked() {
	for len(m.order) > m.opts.MaxMessages {
		victim := -1
		for i, rec := range m.order {
			if rec.msg.Status != StatusSending {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		rec := m.order[victim]
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.evictLocked",
			"message_id": rec.msg.ID,
			"status":     rec.msg.Status.String(),
		}).Debug("Evicting message over retention cap")
		m.removeLocked(rec)
	}
}

// removeLocked deletes a record from both the index and the ordered
// slice, queuing the deleted event.
func (m *Manager) removeLocked(rec *record) {
	delete(m.byID, rec.msg.ID)
	for i, r := range m.order {
		if r == rec {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.queueEvent(Event{Type: EventDeleted, MessageID: rec.msg.ID})
}

// transmitText performs one text delivery attempt. The internal timeout
// races the channel call; whichever resolves first wins and the loser is
// discarded on arrival.
func (m *Manager) transmitText(id string, attempt int, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TextTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.channel.SendText(ctx, id, body) }()

	select {
	case err := <-errCh:
		if err != nil {
			m.applyFailure(id, attempt, failReason(err))
			return
		}
		m.applySuccess(id, attempt, "")
	case <-ctx.Done():
		m.applyFailure(id, attempt, "send timed out")
	}
}

// transmitImage compresses the staged job and uploads its payload.
func (m *Manager) transmitImage(id string, attempt int, job *attachment.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ImageTimeout)
	defer cancel()

	if err := m.pipeline.Compress(ctx, job); err != nil {
		m.applyFailure(id, attempt, failReason(err))
		return
	}

	payload, _, err := job.Payload()
	if err != nil {
		// The job was discarded mid-flight (message deleted or
		// replaced); nothing left to do.
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.transmitImage",
			"message_id": id,
		}).Debug("Attachment job gone after compression, send abandoned")
		return
	}

	m.mu.Lock()
	if rec, ok := m.byID[id]; ok && rec.attempt == attempt {
		rec.payload = payload
		if warning := job.Warning(); warning != "" {
			logrus.WithFields(logrus.Fields{
				"function":   "Manager.transmitImage",
				"message_id": id,
				"warning":    warning,
			}).Warn("Sending attachment with compression fallback")
		}
	}
	m.mu.Unlock()

	m.upload(ctx, id, attempt, payload)
}

// transmitPayload uploads an already-staged payload (image retry path).
func (m *Manager) transmitPayload(id string, attempt int, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ImageTimeout)
	defer cancel()
	m.upload(ctx, id, attempt, payload)
}

type uploadResult struct {
	url string
	err error
}

// upload performs the channel send for an image payload, forwarding
// fine-grained transmission progress into the owning message.
func (m *Manager) upload(ctx context.Context, id string, attempt int, payload []byte) {
	resCh := make(chan uploadResult, 1)
	go func() {
		url, err := m.channel.SendImage(ctx, id, payload, func(pct int) {
			m.setProgress(id, scaleUploadProgress(pct))
		})
		resCh <- uploadResult{url: url, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				m.applyFailure(id, attempt, "upload timed out")
				return
			}
			m.applyFailure(id, attempt, fmt.Sprintf("upload failed: %v", res.err))
			return
		}
		m.applySuccess(id, attempt, res.url)
	case <-ctx.Done():
		m.applyFailure(id, attempt, "upload timed out")
	}
}

// scaleUploadProgress maps channel upload percentage onto the portion of
// the progress bar after the staged mark.
func scaleUploadProgress(pct int) int {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return attachment.StagedProgress + pct*(100-attachment.StagedProgress)/100
}

// setProgress updates an in-flight image message's progress field.
func (m *Manager) setProgress(id string, pct int) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok || rec.msg.Status != StatusSending || rec.msg.Kind != KindImage {
		m.mu.Unlock()
		return
	}
	if pct == rec.msg.Progress {
		m.mu.Unlock()
		return
	}
	rec.msg.Progress = pct
	m.queueEvent(Event{Type: EventProgressChanged, MessageID: id, Progress: pct})
	m.mu.Unlock()
	m.flushEvents()
}

// applySuccess flips an in-flight message to sent. Stale results (the
// attempt is no longer current, the message is gone, or it already left
// the sending state) are discarded on arrival.
func (m *Manager) applySuccess(id string, attempt int, url string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok || rec.attempt != attempt || !canTransition(rec.msg.Status, StatusSent) {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.applySuccess",
			"message_id": id,
			"attempt":    attempt,
		}).Debug("Stale send result discarded")
		return
	}
	rec.msg.Status = StatusSent
	rec.msg.Progress = NoProgress
	if url != "" {
		rec.msg.Body = url
	}
	m.queueEvent(Event{Type: EventStatusChanged, MessageID: id, Status: StatusSent})
	m.mu.Unlock()
	m.flushEvents()

	m.playCue(notify.EventMessage)

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.applySuccess",
		"message_id": id,
		"attempt":    attempt,
	}).Info("Message sent")
}

// applyFailure flips an in-flight message to failed, preserving the
// original body so retry needs no re-entry. Stale results are discarded.
func (m *Manager) applyFailure(id string, attempt int, reason string) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok || rec.attempt != attempt || !canTransition(rec.msg.Status, StatusFailed) {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.applyFailure",
			"message_id": id,
			"attempt":    attempt,
		}).Debug("Stale failure discarded")
		return
	}
	rec.msg.Status = StatusFailed
	rec.msg.FailReason = reason
	rec.msg.Progress = NoProgress
	m.queueEvent(Event{Type: EventStatusChanged, MessageID: id, Status: StatusFailed})
	m.mu.Unlock()
	m.flushEvents()

	m.playCue(notify.EventError)

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.applyFailure",
		"message_id": id,
		"attempt":    attempt,
		"reason":     reason,
	}).Warn("Message failed")
}

// playCue fires a notification cue without ever blocking the delivery
// path. Dispatcher problems are the dispatcher's to log.
func (m *Manager) playCue(kind notify.EventKind) {
	if m.cues != nil {
		m.cues.PlayCue(kind)
	}
}

// failReason renders a short human-readable reason for a failed status.
func failReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "send timed out"
	}
	return fmt.Sprintf("delivery failed: %v", err)
}
