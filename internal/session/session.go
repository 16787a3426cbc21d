// Package session runs one microphone capture loop at a time and streams its
// frames, encoded, to a sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/petems/mic-stream/internal/audio"
	"github.com/petems/mic-stream/internal/codec"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/sink"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Start while a capture loop is live.
	ErrAlreadyRunning = errors.New("capture session already running")
	// ErrNotConfigured is returned by Start before Configure.
	ErrNotConfigured = errors.New("capture session not configured")
)

// warmupBuffers is how many successful reads are dropped after every Start;
// the first buffers from a freshly started device carry an audible click.
const warmupBuffers = 2

const errorQueue = 8

type State int

const (
	Idle State = iota
	Configured
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	Driver  audio.Driver
	Router  audio.Router  // Optional - defaults to audio.NopRouter
	Encoder codec.Encoder // Optional - defaults to codec.Base64
	Sink    sink.Sink
	Logger  zerolog.Logger
}

// Session owns at most one configured device and one capture goroutine.
type Session struct {
	driver audio.Driver
	router audio.Router
	enc    codec.Encoder
	sink   sink.Sink
	log    zerolog.Logger
	errs   chan error

	mu     sync.Mutex
	state  State
	cfg    config.CaptureConfig
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Session {
	s := &Session{
		driver: cfg.Driver,
		router: cfg.Router,
		enc:    cfg.Encoder,
		sink:   cfg.Sink,
		log:    cfg.Logger,
		errs:   make(chan error, errorQueue),
	}
	if s.router == nil {
		s.router = audio.NopRouter{}
	}
	if s.enc == nil {
		s.enc = codec.Base64{}
	}
	return s
}

// Configure stores a normalized copy of cfg. It is a no-op while capture is
// running; configuration is not hot-swappable.
func (s *Session) Configure(cfg config.CaptureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running || s.state == Stopping {
		s.log.Warn().Str("state", s.state.String()).Msg("Ignoring configure while capturing")
		return
	}

	s.cfg = cfg.Normalize()
	s.state = Configured
	s.log.Debug().
		Int("sample_rate", s.cfg.SampleRate).
		Int("channels", s.cfg.Channels).
		Int("bits", s.cfg.BitsPerSample).
		Str("source", s.cfg.AudioSource.String()).
		Int("buffer_size", audio.EffectiveBufferSize(s.cfg)).
		Bool("speaker_phone", s.cfg.SpeakerPhoneOn).
		Msg("Capture configured")
}

// Start opens and starts the configured device and spawns the capture loop.
// Device errors are returned directly and leave the session Configured.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		return ErrNotConfigured
	case Running, Stopping:
		return ErrAlreadyRunning
	}

	dev, err := s.driver.Configure(s.cfg)
	if err != nil {
		return fmt.Errorf("configure device: %w", err)
	}
	if err := dev.Start(); err != nil {
		if rerr := dev.Release(); rerr != nil {
			s.log.Warn().Err(rerr).Msg("Failed to release device")
		}
		return fmt.Errorf("start device: %w", err)
	}

	if s.cfg.SpeakerPhoneOn {
		s.routeToSpeaker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.id = uuid.New().String()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running

	log := s.log.With().Str("session", s.id).Logger()
	log.Info().
		Int("buffer_size", dev.Format().BufferSize).
		Dur("latency", dev.Format().Latency).
		Msg("Capture started")

	go s.run(ctx, dev, s.id, s.done, log)
	return nil
}

// routeToSpeaker switches shared output routing. Best effort: the change is
// global and is not reverted on Stop.
func (s *Session) routeToSpeaker() {
	if err := s.router.SetCommunicationMode(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to set communication mode")
	}
	if err := s.router.SetSpeakerphoneOn(true); err != nil {
		s.log.Warn().Err(err).Msg("Failed to route output to speaker")
	}
}

// Stop asks the capture loop to exit after its current read and waits until
// it has released the device or ctx is done. Stop on a session that is not
// capturing is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Running && s.state != Stopping {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for capture loop: %w", ctx.Err())
	}
}

// Errors delivers failures that ended a capture loop. Errors are dropped
// when nobody drains the channel.
func (s *Session) Errors() <-chan error {
	return s.errs
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current or most recent capture run.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) run(ctx context.Context, dev audio.Device, id string, done chan struct{}, log zerolog.Logger) {
	var (
		reads   int
		seq     uint64
		loopErr error
	)

	defer func() {
		if err := dev.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop device")
		}
		if err := dev.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release device")
		}

		s.mu.Lock()
		s.state = Idle
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()

		if loopErr != nil {
			log.Error().Err(loopErr).Uint64("emitted", seq).Msg("Capture failed")
			s.report(loopErr)
		} else {
			log.Info().Uint64("emitted", seq).Msg("Capture stopped")
		}
		close(done)
	}()

	buf := make([]byte, dev.Format().BufferSize)
	for ctx.Err() == nil {
		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, audio.ErrStopped) {
				loopErr = err
			}
			return
		}
		if n <= 0 {
			continue
		}

		reads++
		if reads <= warmupBuffers {
			continue
		}

		seq++
		ev := sink.Event{
			Name:      sink.EventData,
			Seq:       seq,
			SessionID: id,
			Payload:   s.enc.Encode(buf[:n]),
		}
		if err := s.sink.Emit(ev); err != nil {
			log.Warn().Err(err).Uint64("seq", seq).Msg("Emit failed")
		}
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.Warn().Err(err).Msg("Error channel full, dropping error")
	}
}
