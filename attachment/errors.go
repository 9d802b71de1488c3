package attachment

import "errors"

// ErrInvalidFormat indicates the file's media type is not a supported image.
var ErrInvalidFormat = errors.New("unsupported image format")

// ErrTooLarge indicates the source file exceeds the configured maximum
// size. Compression is never attempted for such files.
var ErrTooLarge = errors.New("image exceeds maximum size")

// ErrCompressionFailed indicates the compression primitive rejected the
// image. Recoverable: the pipeline falls back to the original payload.
var ErrCompressionFailed = errors.New("image compression failed")

// ErrTransmissionFailed indicates the delivery channel rejected the
// payload. Terminal for the attempt; the caller may retry.
var ErrTransmissionFailed = errors.New("attachment transmission failed")

// ErrJobNotStaged indicates an operation that requires a validated job was
// attempted before staging completed or after the job was discarded.
var ErrJobNotStaged = errors.New("attachment job not staged")
