package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/permissions"
	"github.com/rs/zerolog"
)

type portAudioDriver struct {
	log zerolog.Logger
}

// New creates a new PortAudio-based capture driver
func New(log zerolog.Logger) (Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize PortAudio: %v", ErrUnavailable, err)
	}
	return &portAudioDriver{log: log}, nil
}

func (p *portAudioDriver) Configure(cfg config.CaptureConfig) (Device, error) {
	cfg = cfg.Normalize()

	if err := permissions.Microphone(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	device, err := findDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("%w: %s has %d input channels, need %d",
			ErrConfigurationRejected, device.Name, device.MaxInputChannels, cfg.Channels)
	}

	// Voice sources favour low latency, everything else stability.
	deviceLatency := device.DefaultHighInputLatency
	if cfg.AudioSource.IsVoice() {
		deviceLatency = device.DefaultLowInputLatency
	}
	format := NewFormat(cfg, deviceLatency)

	d := &portAudioDevice{format: format}
	var buffer any
	if format.BitsPerSample == 8 {
		d.pcm8 = make([]uint8, format.FramesPerBuffer*format.Channels)
		buffer = d.pcm8
	} else {
		d.pcm16 = make([]int16, format.FramesPerBuffer*format.Channels)
		buffer = d.pcm16
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  format.Latency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.FramesPerBuffer,
	}

	if err := portaudio.IsFormatSupported(params, buffer); err != nil {
		return nil, fmt.Errorf("%w: %d Hz, %d ch, %d-bit on %s: %v", ErrConfigurationRejected,
			format.SampleRate, format.Channels, format.BitsPerSample, device.Name, err)
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream on %s: %v", classifyOpenError(err), device.Name, err)
	}
	d.stream = stream

	p.log.Debug().
		Str("device", device.Name).
		Str("source", cfg.AudioSource.String()).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bits", format.BitsPerSample).
		Int("buffer_bytes", format.BufferSize).
		Dur("latency", format.Latency).
		Msg("Configured capture device")

	return d, nil
}

func (p *portAudioDriver) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioDriver) Close() error {
	return portaudio.Terminate()
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrUnavailable, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrUnavailable, deviceID)
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, portaudio.InvalidSampleRate),
		errors.Is(err, portaudio.InvalidChannelCount),
		errors.Is(err, portaudio.SampleFormatNotSupported),
		errors.Is(err, portaudio.BadIODeviceCombination):
		return ErrConfigurationRejected
	default:
		return ErrUnavailable
	}
}

type portAudioDevice struct {
	stream *portaudio.Stream
	format Format
	pcm16  []int16
	pcm8   []uint8

	stopped     atomic.Bool
	releaseOnce sync.Once
}

func (d *portAudioDevice) Format() Format { return d.format }

func (d *portAudioDevice) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", ErrUnavailable, err)
	}
	return nil
}

// Read fills buf with little-endian PCM. An input overflow still delivers a
// full buffer, so it is not reported.
func (d *portAudioDevice) Read(buf []byte) (int, error) {
	if d.stopped.Load() {
		return 0, ErrStopped
	}
	if err := d.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		if d.stopped.Load() || errors.Is(err, portaudio.StreamIsStopped) {
			return 0, ErrStopped
		}
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if d.pcm8 != nil {
		return copy(buf, d.pcm8), nil
	}
	return putInt16LE(buf, d.pcm16), nil
}

func (d *portAudioDevice) Stop() error {
	if d.stopped.Swap(true) {
		return nil
	}
	return d.stream.Stop()
}

func (d *portAudioDevice) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		d.stopped.Store(true)
		err = d.stream.Close()
	})
	return err
}

// putInt16LE writes as many whole samples as fit in dst and returns the
// number of bytes written.
func putInt16LE(dst []byte, samples []int16) int {
	n := len(samples)
	if limit := len(dst) / 2; n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(samples[i]))
	}
	return n * 2
}
