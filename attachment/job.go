package attachment

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// JobState represents the current state of an attachment job.
type JobState uint8

const (
	// JobStatePending indicates the job passed validation and is waiting
	// for compression.
	JobStatePending JobState = iota
	// JobStateCompressing indicates compression is in progress.
	JobStateCompressing
	// JobStateStaged indicates the payload is ready for transmission.
	JobStateStaged
	// JobStateDiscarded indicates the job was released without sending.
	JobStateDiscarded
)

// File is a locally selected file handed to the pipeline. MIME may be left
// empty, in which case it is sniffed from the data.
type File struct {
	Name string
	MIME string
	Data []byte
}

// PreviewHandle is a revocable local reference to staged image bytes for
// immediate UI preview. The holder must release it exactly once, either
// when the preview stops being displayed or when the owning job is
// discarded; the pipeline revokes it automatically when the job it belongs
// to is replaced.
type PreviewHandle struct {
	id string

	mu      sync.Mutex
	data    []byte
	revoked bool
}

func newPreviewHandle(data []byte) *PreviewHandle {
	return &PreviewHandle{
		id:   "preview_" + uuid.NewString(),
		data: data,
	}
}

// ID is the handle's opaque local identifier.
func (h *PreviewHandle) ID() string { return h.id }

// Bytes returns the previewable data, or nil once revoked.
func (h *PreviewHandle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil
	}
	return h.data
}

// Revoke releases the handle. Returns true on the call that actually
// released it and false on every subsequent call.
func (h *PreviewHandle) Revoke() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return false
	}
	h.revoked = true
	h.data = nil
	return true
}

// Revoked reports whether the handle has been released.
func (h *PreviewHandle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// Job is the ephemeral staging object for one in-flight image send. It is
// created by Pipeline.Stage, carries the validated source and (after
// compression) the payload to transmit, and is destroyed on completion,
// failure, or replacement.
type Job struct {
	ID         string
	SourceName string
	SourceMIME string
	SourceSize int64

	mu               sync.Mutex
	state            JobState
	source           []byte
	payload          []byte
	payloadMIME      string
	digest           string
	warning          string
	preview          *PreviewHandle
	progressCallback func(pct int)
}

func newJob(file File, mime string) *Job {
	job := &Job{
		ID:         "att_" + uuid.NewString(),
		SourceName: file.Name,
		SourceMIME: mime,
		SourceSize: int64(len(file.Data)),
		state:      JobStatePending,
		source:     file.Data,
	}
	job.preview = newPreviewHandle(file.Data)
	return job
}

// State returns the job's current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Preview returns the job's revocable preview handle.
func (j *Job) Preview() *PreviewHandle {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.preview
}

// Payload returns the bytes to transmit and their media type. Only valid
// once the job is staged.
func (j *Job) Payload() ([]byte, string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateStaged {
		return nil, "", ErrJobNotStaged
	}
	return j.payload, j.payloadMIME, nil
}

// Digest returns the hex BLAKE2b digest of the staged payload, used to
// recognize repeated selections of the same content.
func (j *Job) Digest() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.digest
}

// Warning returns a human-readable note when compression fell back to the
// original file, empty otherwise.
func (j *Job) Warning() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.warning
}

// OnProgress sets a callback invoked with coarse staging progress (0 at
// compression start, then the staged percentage on completion). Safe for
// concurrent use.
func (j *Job) OnProgress(callback func(pct int)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progressCallback = callback
}

func (j *Job) reportProgress(pct int) {
	j.mu.Lock()
	callback := j.progressCallback
	j.mu.Unlock()
	if callback != nil {
		callback(pct)
	}
}

// Discard releases the job: the preview handle is revoked and the payload
// dropped. Idempotent.
func (j *Job) Discard() {
	j.mu.Lock()
	if j.state == JobStateDiscarded {
		j.mu.Unlock()
		return
	}
	j.state = JobStateDiscarded
	j.payload = nil
	j.source = nil
	preview := j.preview
	j.mu.Unlock()

	if preview != nil {
		preview.Revoke()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Job.Discard",
		"job_id":   j.ID,
	}).Debug("Attachment job discarded")
}

// stage records the final payload under the job lock. A job discarded
// mid-compression stays discarded.
func (j *Job) stage(payload []byte, mime, warning string) {
	sum := blake2b.Sum256(payload)

	j.mu.Lock()
	if j.state == JobStateDiscarded {
		j.mu.Unlock()
		return
	}
	j.payload = payload
	j.payloadMIME = mime
	j.warning = warning
	j.digest = hex.EncodeToString(sum[:])
	j.state = JobStateStaged
	j.mu.Unlock()
}
