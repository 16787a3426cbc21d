package audio

import (
	"errors"
	"time"

	"github.com/petems/mic-stream/internal/config"
)

var (
	// ErrConfigurationRejected means the device refused the requested format.
	ErrConfigurationRejected = errors.New("audio: configuration rejected")
	// ErrUnavailable means no usable input device could be opened.
	ErrUnavailable = errors.New("audio: input device unavailable")
	// ErrReadFailure is a hard failure while reading from a running device.
	ErrReadFailure = errors.New("audio: read failure")
	// ErrStopped is returned by Read once the device has been stopped.
	ErrStopped = errors.New("audio: device stopped")
)

// Driver opens capture devices.
type Driver interface {
	Configure(cfg config.CaptureConfig) (Device, error)
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// Device is one configured input stream. Read blocks until a full buffer is
// available and must only be called from a single goroutine.
type Device interface {
	Format() Format
	Start() error
	Read(buf []byte) (int, error)
	Stop() error
	Release() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}

// Format is the negotiated stream shape of a configured device.
type Format struct {
	SampleRate      int
	Channels        int
	BitsPerSample   int
	FramesPerBuffer int
	BufferSize      int // bytes returned by one full Read
	Latency         time.Duration
}

// BufferDuration is the wall-clock length of one read buffer.
func (f Format) BufferDuration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.FramesPerBuffer) * time.Second / time.Duration(f.SampleRate)
}
