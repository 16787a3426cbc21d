package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petems/mic-stream/internal/audio"
	"github.com/petems/mic-stream/internal/codec"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/sink"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type fakeDevice struct {
	format audio.Format
	// script decides the result of the i-th read (1-based). nil fills the
	// buffer with byte(i).
	script func(i int, buf []byte) (int, error)

	mu       sync.Mutex
	reads    int
	starts   int
	stops    int
	releases int
	startErr error
}

func (d *fakeDevice) Format() audio.Format { return d.format }

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	return d.startErr
}

func (d *fakeDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	d.reads++
	i := d.reads
	d.mu.Unlock()

	if d.script != nil {
		return d.script(i, buf)
	}
	time.Sleep(time.Millisecond)
	for j := range buf {
		buf[j] = byte(i)
	}
	return len(buf), nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

func (d *fakeDevice) counts() (stops, releases int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops, d.releases
}

type fakeDriver struct {
	mu         sync.Mutex
	configured []config.CaptureConfig
	newDevice  func() *fakeDevice
	devices    []*fakeDevice
	err        error
}

func (f *fakeDriver) Configure(cfg config.CaptureConfig) (audio.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, cfg)
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDevice{format: audio.NewFormat(cfg, 0)}
	if f.newDevice != nil {
		d = f.newDevice()
		d.format = audio.NewFormat(cfg, 0)
	}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeDriver) ListDevices() ([]audio.AudioDevice, error) {
	return []audio.AudioDevice{{ID: "default", Name: "Default", Default: true}}, nil
}

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) configureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configured)
}

func (f *fakeDriver) device(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[i]
}

type recordingSink struct {
	mu     sync.Mutex
	events []sink.Event
	err    error
}

func (r *recordingSink) Emit(ev sink.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) snapshot() []sink.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.Event(nil), r.events...)
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRouter) SetCommunicationMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "communication")
	return nil
}

func (r *fakeRouter) SetSpeakerphoneOn(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("speaker=%v", on))
	return nil
}

func testConfig() config.CaptureConfig {
	return config.CaptureConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

func newTestSession(drv *fakeDriver, out sink.Sink) *Session {
	return New(Config{
		Driver: drv,
		Sink:   out,
		Logger: zerolog.Nop(),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ { // Poll for 2 seconds
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stop(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func firstByte(t *testing.T, ev sink.Event) byte {
	t.Helper()
	raw, err := codec.Base64{}.Decode(ev.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty payload")
	}
	return raw[0]
}

func TestStartBeforeConfigure(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv, &recordingSink{})

	if err := s.Start(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
	if drv.configureCalls() != 0 {
		t.Fatal("device should not be opened before configure")
	}
}

func TestStateTransitions(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv, &recordingSink{})

	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
	s.Configure(testConfig())
	if s.State() != Configured {
		t.Fatalf("expected Configured, got %v", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Running {
		t.Fatalf("expected Running, got %v", s.State())
	}
	stop(t, s)
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
}

func TestWarmupBuffersAreDiscarded(t *testing.T) {
	drv := &fakeDriver{}
	out := &recordingSink{}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "5 events", func() bool { return len(out.snapshot()) >= 5 })
	stop(t, s)

	events := out.snapshot()
	if got := firstByte(t, events[0]); got != 3 {
		t.Fatalf("expected first emitted frame to come from read 3, got read %d", got)
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
		if got := firstByte(t, ev); got != byte(ev.Seq+2) {
			t.Fatalf("seq %d carries read %d, expected read %d", ev.Seq, got, ev.Seq+2)
		}
		if ev.Name != sink.EventData {
			t.Fatalf("unexpected event name %q", ev.Name)
		}
		if ev.SessionID == "" || ev.SessionID != events[0].SessionID {
			t.Fatalf("expected a stable session id, got %q", ev.SessionID)
		}
	}
}

func TestWarmupAppliesPerStart(t *testing.T) {
	drv := &fakeDriver{}
	out := &recordingSink{}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first run events", func() bool { return len(out.snapshot()) >= 1 })
	stop(t, s)
	firstRun := len(out.snapshot())
	firstID := s.ID()

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitFor(t, "second run events", func() bool { return len(out.snapshot()) > firstRun })
	stop(t, s)

	ev := out.snapshot()[firstRun]
	if ev.Seq != 1 {
		t.Fatalf("expected sequence to restart at 1, got %d", ev.Seq)
	}
	if got := firstByte(t, ev); got != 3 {
		t.Fatalf("expected warm-up discard on second start, first frame came from read %d", got)
	}
	if ev.SessionID == firstID {
		t.Fatal("expected a new session id per start")
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, s)

	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if n := drv.configureCalls(); n != 1 {
		t.Fatalf("expected a single device open, got %d", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop(t, s)
	stop(t, s)

	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
	stops, releases := drv.device(0).counts()
	if stops != 1 || releases != 1 {
		t.Fatalf("expected device stopped and released once, got %d/%d", stops, releases)
	}
}

func TestStopWhenNotRunningIsNoop(t *testing.T) {
	s := newTestSession(&fakeDriver{}, &recordingSink{})
	stop(t, s)
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}

	s.Configure(testConfig())
	stop(t, s)
	if s.State() != Configured {
		t.Fatalf("expected Configured to survive a no-op stop, got %v", s.State())
	}
}

func TestConcurrentStopsKeepOrder(t *testing.T) {
	drv := &fakeDriver{}
	out := &recordingSink{}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "events", func() bool { return len(out.snapshot()) >= 3 })

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Stop(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}

	var last uint64
	for _, ev := range out.snapshot() {
		if ev.Seq <= last {
			t.Fatalf("sequence went from %d to %d", last, ev.Seq)
		}
		last = ev.Seq
	}
}

func TestZeroAndShortReads(t *testing.T) {
	drv := &fakeDriver{newDevice: func() *fakeDevice {
		return &fakeDevice{script: func(i int, buf []byte) (int, error) {
			time.Sleep(time.Millisecond)
			if i%2 == 1 {
				return 0, nil
			}
			buf[0], buf[1] = byte(i), byte(i)
			return 2, nil
		}}
	}}
	out := &recordingSink{}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "events", func() bool { return len(out.snapshot()) >= 2 })
	stop(t, s)

	events := out.snapshot()
	// Reads 2 and 4 are the warm-up; odd reads are empty.
	if got := firstByte(t, events[0]); got != 6 {
		t.Fatalf("expected first frame from read 6, got %d", got)
	}
	for _, ev := range events {
		raw, _ := codec.Base64{}.Decode(ev.Payload)
		if len(raw) != 2 {
			t.Fatalf("expected short read of 2 bytes to be emitted as-is, got %d", len(raw))
		}
	}
}

func TestReadFailureIsReported(t *testing.T) {
	drv := &fakeDriver{newDevice: func() *fakeDevice {
		return &fakeDevice{script: func(i int, buf []byte) (int, error) {
			if i == 4 {
				return 0, fmt.Errorf("%w: device unplugged", audio.ErrReadFailure)
			}
			return len(buf), nil
		}}
	}}
	out := &recordingSink{}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-s.Errors():
		if !errors.Is(err, audio.ErrReadFailure) {
			t.Fatalf("expected ErrReadFailure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error on the error channel")
	}

	if s.State() != Idle {
		t.Fatalf("expected Idle after failure, got %v", s.State())
	}
	stops, releases := drv.device(0).counts()
	if stops != 1 || releases != 1 {
		t.Fatalf("expected device stopped and released after failure, got %d/%d", stops, releases)
	}
	if n := len(out.snapshot()); n != 1 {
		t.Fatalf("expected only read 3 to be emitted, got %d events", n)
	}
	stop(t, s)
}

func TestDeviceStoppedEndsLoopQuietly(t *testing.T) {
	drv := &fakeDriver{newDevice: func() *fakeDevice {
		return &fakeDevice{script: func(i int, buf []byte) (int, error) {
			if i >= 3 {
				return 0, audio.ErrStopped
			}
			return len(buf), nil
		}}
	}}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "idle", func() bool { return s.State() == Idle })

	select {
	case err := <-s.Errors():
		t.Fatalf("unexpected error %v", err)
	default:
	}
}

func TestDeviceErrorsAreReturnedFromStart(t *testing.T) {
	drv := &fakeDriver{err: fmt.Errorf("%w: busy", audio.ErrUnavailable)}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); !errors.Is(err, audio.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if s.State() != Configured {
		t.Fatalf("expected Configured after failed start, got %v", s.State())
	}
}

func TestDeviceStartFailureReleasesDevice(t *testing.T) {
	drv := &fakeDriver{newDevice: func() *fakeDevice {
		return &fakeDevice{startErr: fmt.Errorf("%w: in use", audio.ErrUnavailable)}
	}}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); !errors.Is(err, audio.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, releases := drv.device(0).counts(); releases != 1 {
		t.Fatalf("expected device release after failed start, got %d", releases)
	}
}

func TestSpeakerRouting(t *testing.T) {
	for _, on := range []bool{false, true} {
		t.Run(fmt.Sprintf("speaker=%v", on), func(t *testing.T) {
			router := &fakeRouter{}
			s := New(Config{
				Driver: &fakeDriver{},
				Router: router,
				Sink:   &recordingSink{},
				Logger: zerolog.Nop(),
			})

			cfg := testConfig()
			cfg.SpeakerPhoneOn = on
			s.Configure(cfg)
			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			stop(t, s)

			router.mu.Lock()
			defer router.mu.Unlock()
			if !on && len(router.calls) != 0 {
				t.Fatalf("expected no routing calls, got %v", router.calls)
			}
			if on && (len(router.calls) != 2 || router.calls[0] != "communication" || router.calls[1] != "speaker=true") {
				t.Fatalf("unexpected routing calls %v", router.calls)
			}
		})
	}
}

func TestConfigureWhileRunningIsIgnored(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	other := testConfig()
	other.SampleRate = 48000
	s.Configure(other)
	if s.State() != Running {
		t.Fatalf("expected Running, got %v", s.State())
	}
	stop(t, s)

	s.mu.Lock()
	rate := s.cfg.SampleRate
	s.mu.Unlock()
	if rate != 16000 {
		t.Fatalf("expected configuration to be unchanged, got %d Hz", rate)
	}
}

func TestStopWaitsForStuckRead(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	drv := &fakeDriver{newDevice: func() *fakeDevice {
		return &fakeDevice{script: func(i int, buf []byte) (int, error) {
			once.Do(func() { close(entered) })
			<-release
			return len(buf), nil
		}}
	}}
	s := newTestSession(drv, &recordingSink{})

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("capture loop never reached Read")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if s.State() != Stopping {
		t.Fatalf("expected Stopping, got %v", s.State())
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while stopping, got %v", err)
	}

	close(release)
	stop(t, s)
	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
}

func TestEmitErrorsDoNotStopCapture(t *testing.T) {
	drv := &fakeDriver{}
	out := &recordingSink{err: errors.New("listener gone")}
	s := newTestSession(drv, out)

	s.Configure(testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "events", func() bool { return len(out.snapshot()) >= 3 })
	if s.State() != Running {
		t.Fatalf("expected Running despite emit errors, got %v", s.State())
	}
	stop(t, s)
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Idle: "idle", Configured: "configured", Running: "running", Stopping: "stopping", State(9): "state(9)",
	} {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
