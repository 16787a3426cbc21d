package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/mic-stream/internal/audio"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/session"
	"github.com/petems/mic-stream/internal/sink"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for updating status (e.g., a host indicator)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError(err error)
}

type Config struct {
	Driver        audio.Driver
	Router        audio.Router         // Optional
	Capture       config.CaptureConfig // Base that Init options overlay
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// App is the command surface a host drives: init, start, stop and event
// subscription, with every failure reported back instead of swallowed.
type App struct {
	driver  audio.Driver
	session *session.Session
	emitter *sink.Emitter
	base    config.CaptureConfig
	log     zerolog.Logger
	status  StatusUpdater

	mu      sync.Mutex
	capture config.CaptureConfig

	done     chan struct{}
	watching sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg Config) *App {
	emitter := sink.NewEmitter()
	a := &App{
		driver:  cfg.Driver,
		emitter: emitter,
		base:    cfg.Capture.Normalize(),
		log:     cfg.Logger,
		status:  cfg.StatusUpdater,
		done:    make(chan struct{}),
	}
	a.capture = a.base
	a.session = session.New(session.Config{
		Driver: cfg.Driver,
		Router: cfg.Router,
		Sink:   emitter,
		Logger: cfg.Logger,
	})

	a.watching.Add(1)
	go a.watchErrors()
	return a
}

// Init overlays opts on the base capture config and configures the session.
// It is ignored while capturing.
func (a *App) Init(opts config.Options) error {
	capture, err := opts.Apply(a.base)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if st := a.session.State(); st == session.Running || st == session.Stopping {
		a.log.Warn().Msg("Init ignored while capturing")
		return nil
	}

	a.mu.Lock()
	a.capture = capture
	a.mu.Unlock()

	a.session.Configure(capture)
	return nil
}

func (a *App) Start() error {
	if err := a.session.Start(); err != nil {
		return err
	}
	if a.status != nil {
		a.status.SetRecording()
	}
	return nil
}

// Stop blocks until the capture loop has exited or ctx is done.
func (a *App) Stop(ctx context.Context) error {
	st := a.session.State()
	if err := a.session.Stop(ctx); err != nil {
		return err
	}
	if a.status != nil && (st == session.Running || st == session.Stopping) {
		a.status.SetIdle()
	}
	return nil
}

// On replaces every listener for event with s.
func (a *App) On(event string, s sink.Sink) (func(), error) {
	return a.emitter.On(event, s)
}

// AddListener subscribes s alongside the existing listeners for event.
func (a *App) AddListener(event string, s sink.Sink) (func(), error) {
	return a.emitter.Add(event, s)
}

func (a *App) State() session.State {
	return a.session.State()
}

func (a *App) SessionID() string {
	return a.session.ID()
}

// Capture returns the capture config from the last accepted Init.
func (a *App) Capture() config.CaptureConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.driver.ListDevices()
}

// Shutdown stops capture and the error watcher.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Stop(ctx)
	a.stopOnce.Do(func() { close(a.done) })
	a.watching.Wait()
	return err
}

func (a *App) watchErrors() {
	defer a.watching.Done()
	for {
		select {
		case <-a.done:
			return
		case err := <-a.session.Errors():
			a.log.Error().Err(err).Msg("Capture stopped on error")
			if a.status != nil {
				a.status.SetError(err)
			}
		}
	}
}
