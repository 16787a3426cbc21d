package audio

import (
	"time"

	"github.com/petems/mic-stream/internal/config"
)

const (
	minBufferDuration = 20 * time.Millisecond
	minBufferFrames   = 256

	// driverBuffers is how many read buffers the driver holds between reads.
	driverBuffers = 3
)

// MinBufferSize returns the smallest read buffer, in bytes, for the format:
// 20ms of audio and never fewer than 256 frames.
func MinBufferSize(sampleRate, channels, bitsPerSample int) int {
	frames := int(time.Duration(sampleRate) * minBufferDuration / time.Second)
	if frames < minBufferFrames {
		frames = minBufferFrames
	}
	return frames * channels * bitsPerSample / 8
}

// EffectiveBufferSize is max(MinBufferSize, requested), rounded up to whole
// frames.
func EffectiveBufferSize(cfg config.CaptureConfig) int {
	cfg = cfg.Normalize()
	size := MinBufferSize(cfg.SampleRate, cfg.Channels, cfg.BitsPerSample)
	if cfg.BufferSize > size {
		size = cfg.BufferSize
	}
	frame := cfg.BytesPerFrame()
	if rem := size % frame; rem != 0 {
		size += frame - rem
	}
	return size
}

// NewFormat derives the stream format for cfg. The suggested driver latency
// covers driverBuffers read buffers, or the device default if that is longer.
func NewFormat(cfg config.CaptureConfig, deviceLatency time.Duration) Format {
	cfg = cfg.Normalize()
	size := EffectiveBufferSize(cfg)
	f := Format{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		BitsPerSample:   cfg.BitsPerSample,
		FramesPerBuffer: size / cfg.BytesPerFrame(),
		BufferSize:      size,
	}
	f.Latency = driverBuffers * f.BufferDuration()
	if deviceLatency > f.Latency {
		f.Latency = deviceLatency
	}
	return f
}
