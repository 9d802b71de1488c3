// Package attachment implements the image staging pipeline for outbound
// chat attachments.
//
// This package validates a selected file against the supported image set
// and size limit, compresses it through a pluggable compression primitive,
// and produces an ephemeral Job carrying the payload to transmit plus a
// revocable preview handle for immediate UI feedback.
//
// Compression failures are non-fatal: the pipeline falls back to the
// original validated file and records a warning, because a slightly larger
// send is preferable to a blocked send.
//
// Example:
//
//	pipeline := attachment.NewPipeline(attachment.DefaultConfig(), nil)
//	job, err := pipeline.Stage(ctx, attachment.File{Name: "cat.png", Data: data})
//	if err != nil {
//	    return err
//	}
//	job.OnProgress(func(pct int) { fmt.Printf("%d%%\n", pct) })
//	if err := pipeline.Compress(ctx, job); err != nil {
//	    return err
//	}
package attachment

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/interfaces"
	"github.com/opd-ai/chatkit/limits"
)

// StagedProgress is the coarse progress value reported when compression
// completes; transmission progress continues from here.
const StagedProgress = 10

// supportedMIME is the allow-list of source image media types.
var supportedMIME = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// Config controls pipeline validation and compression.
type Config struct {
	// MaxBytes is the largest accepted source file size.
	MaxBytes int64
	// MaxDimension is the largest output width or height in pixels.
	MaxDimension int
	// Quality is the re-encode quality factor, 0..1.
	Quality float64
}

// DefaultConfig returns the pipeline defaults from the limits package.
func DefaultConfig() Config {
	return Config{
		MaxBytes:     limits.DefaultMaxImageBytes,
		MaxDimension: limits.DefaultMaxDimension,
		Quality:      limits.DefaultJPEGQuality,
	}
}

// Pipeline validates, compresses, and stages images for transmission. It
// owns at most one live job at a time: staging a new job revokes the
// previous job's preview handle so repeated selections cannot leak
// handles.
type Pipeline struct {
	config     Config
	compressor interfaces.Compressor

	mu         sync.Mutex
	currentJob *Job
}

// NewPipeline creates a pipeline with the given configuration. A nil
// compressor selects the built-in image compressor.
func NewPipeline(config Config, compressor interfaces.Compressor) *Pipeline {
	if compressor == nil {
		compressor = NewImageCompressor()
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = limits.DefaultMaxImageBytes
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = limits.DefaultMaxDimension
	}
	if config.Quality <= 0 || config.Quality > 1 {
		config.Quality = limits.DefaultJPEGQuality
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewPipeline",
		"max_bytes":     config.MaxBytes,
		"max_dimension": config.MaxDimension,
		"quality":       config.Quality,
	}).Debug("Attachment pipeline created")

	return &Pipeline{
		config:     config,
		compressor: compressor,
	}
}

// Stage validates file and returns a pending job holding its preview
// handle. Validation happens strictly before any compression: files of an
// unsupported type or over the size limit are rejected here and never
// reach the compressor. Staging a new job discards the previous one.
func (p *Pipeline) Stage(ctx context.Context, file File) (*Job, error) {
	job, err := p.validate(file)
	if err != nil {
		return nil, err
	}

	// Replacing the live job releases its preview handle so repeated
	// selections cannot leak.
	p.mu.Lock()
	prev := p.currentJob
	p.currentJob = job
	p.mu.Unlock()
	if prev != nil {
		prev.Discard()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Pipeline.Stage",
		"job_id":    job.ID,
		"file_name": file.Name,
		"mime_type": job.SourceMIME,
		"file_size": len(file.Data),
	}).Info("Attachment staged for compression")

	return job, nil
}

// StageDetached validates and stages file like Stage but never publishes
// the job as the pipeline's live job. For callers that take ownership of
// the job immediately: detached jobs do not interfere with each other or
// with the preview flow, so concurrent sends each keep their own job.
func (p *Pipeline) StageDetached(ctx context.Context, file File) (*Job, error) {
	job, err := p.validate(file)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Pipeline.StageDetached",
		"job_id":    job.ID,
		"file_name": file.Name,
		"mime_type": job.SourceMIME,
		"file_size": len(file.Data),
	}).Info("Attachment staged for transmission")

	return job, nil
}

func (p *Pipeline) validate(file File) (*Job, error) {
	mime := file.MIME
	if mime == "" {
		mime = http.DetectContentType(file.Data)
	}

	if _, ok := supportedMIME[mime]; !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "Pipeline.validate",
			"file_name": file.Name,
			"mime_type": mime,
		}).Warn("Rejected attachment with unsupported media type")
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, mime)
	}

	if err := limits.ValidateImageSize(int64(len(file.Data)), p.config.MaxBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Pipeline.validate",
			"file_name": file.Name,
			"file_size": len(file.Data),
			"max_bytes": p.config.MaxBytes,
		}).Warn("Rejected oversized attachment")
		return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}

	return newJob(file, mime), nil
}

// Compress runs the compression primitive over the staged source and
// finalizes the job's payload. A compressor rejection is recoverable: the
// original validated bytes are staged instead and the job carries a
// warning. Only a canceled context or a discarded job fail the call.
func (p *Pipeline) Compress(ctx context.Context, job *Job) error {
	job.mu.Lock()
	if job.state == JobStateDiscarded {
		job.mu.Unlock()
		return ErrJobNotStaged
	}
	source := job.source
	job.state = JobStateCompressing
	job.mu.Unlock()

	job.reportProgress(0)

	compressed, err := p.compressor.Compress(ctx, source, p.config.MaxDimension, p.config.Quality)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logrus.WithFields(logrus.Fields{
			"function": "Pipeline.Compress",
			"job_id":   job.ID,
			"error":    err.Error(),
		}).Warn("Compression failed, falling back to original file")

		job.stage(source, job.SourceMIME, fmt.Sprintf("compression failed, sending original: %v", err))
		job.reportProgress(StagedProgress)
		return nil
	}

	// A "compressed" result larger than the source defeats the purpose;
	// keep the original in that case too.
	if len(compressed) >= len(source) {
		job.stage(source, job.SourceMIME, "")
	} else {
		job.stage(compressed, "image/jpeg", "")
	}
	job.reportProgress(StagedProgress)

	logrus.WithFields(logrus.Fields{
		"function":        "Pipeline.Compress",
		"job_id":          job.ID,
		"source_size":     len(source),
		"compressed_size": len(compressed),
	}).Info("Attachment compression complete")

	return nil
}

// Detach transfers ownership of job out of the pipeline: a subsequent
// Stage or Cancel no longer discards it. No-op when job is not the live
// job. Callers that adopt a job for transmission detach it so staging
// the next selection cannot revoke an in-flight send.
func (p *Pipeline) Detach(job *Job) {
	p.mu.Lock()
	if p.currentJob == job {
		p.currentJob = nil
	}
	p.mu.Unlock()
}

// Cancel discards the pipeline's live job, if any.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	job := p.currentJob
	p.currentJob = nil
	p.mu.Unlock()

	if job != nil {
		job.Discard()
	}
}
