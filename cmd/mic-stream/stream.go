package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/mic-stream/internal/app"
	"github.com/petems/mic-stream/internal/audio"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/level"
	"github.com/petems/mic-stream/internal/logging"
	"github.com/petems/mic-stream/internal/sink"
	"github.com/petems/mic-stream/internal/status"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	meterEvery      = 10
)

var streamFlags struct {
	sampleRate   int
	channels     int
	bits         int
	source       string
	bufferSize   int
	speakerphone bool
	device       string
	listen       string
	allowOrigins []string
	stdout       bool
	meter        bool
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Capture the microphone and stream data events",
	Long: `Capture the microphone and emit every captured buffer as a base64 "data"
event to WebSocket listeners and/or stdout as JSON lines.`,
	RunE: runStream,
}

func init() {
	f := streamCmd.Flags()
	f.IntVar(&streamFlags.sampleRate, "sample-rate", config.DefaultSampleRate, "sample rate in Hz")
	f.IntVar(&streamFlags.channels, "channels", config.DefaultChannels, "1 (mono) or 2 (stereo)")
	f.IntVar(&streamFlags.bits, "bits", config.DefaultBitsPerSample, "bits per sample: 8 or 16")
	f.StringVar(&streamFlags.source, "source", config.SourceVoiceRecognition.String(), "audio source name or number")
	f.IntVar(&streamFlags.bufferSize, "buffer-size", 0, "read buffer size in bytes (0 = platform minimum)")
	f.BoolVar(&streamFlags.speakerphone, "speakerphone", false, "route output to speaker and set communication mode")
	f.StringVar(&streamFlags.device, "device", "", "input device name (default: system default)")
	f.StringVar(&streamFlags.listen, "listen", "", "WebSocket listen address, e.g. 127.0.0.1:8765 (default: disabled)")
	f.StringSliceVar(&streamFlags.allowOrigins, "allow-origin", nil, "browser origin allowed to connect to the WebSocket endpoint (repeatable)")
	f.BoolVar(&streamFlags.stdout, "stdout", false, "write events to stdout as JSON lines")
	f.BoolVar(&streamFlags.meter, "meter", false, "log input level every few buffers")
}

// captureOptions turns the flags the user actually set into host options, so
// unset flags fall back to the config file.
func captureOptions(cmd *cobra.Command) config.Options {
	opts := config.Options{}
	f := cmd.Flags()
	if f.Changed("sample-rate") {
		opts[config.OptSampleRate] = streamFlags.sampleRate
	}
	if f.Changed("channels") {
		opts[config.OptChannels] = streamFlags.channels
	}
	if f.Changed("bits") {
		opts[config.OptBitsPerSample] = streamFlags.bits
	}
	if f.Changed("source") {
		opts[config.OptAudioSource] = streamFlags.source
	}
	if f.Changed("buffer-size") {
		opts[config.OptBufferSize] = streamFlags.bufferSize
	}
	if streamFlags.speakerphone {
		opts[config.OptSpeakerPhoneOn] = true
	}
	if f.Changed("device") {
		opts[config.OptDeviceID] = streamFlags.device
	}
	return opts
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Sink.Listen = streamFlags.listen
	}
	if cmd.Flags().Changed("allow-origin") {
		cfg.Sink.AllowedOrigins = streamFlags.allowOrigins
	}
	if cmd.Flags().Changed("stdout") {
		cfg.Sink.Stdout = streamFlags.stdout
	}
	if cmd.Flags().Changed("meter") {
		cfg.Sink.Meter = streamFlags.meter
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	driver, err := audio.New(log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}
	defer driver.Close()

	reporter := status.New(os.Stderr, log)
	application := app.New(app.Config{
		Driver:        driver,
		Router:        audio.NopRouter{},
		Capture:       cfg.Capture,
		Logger:        log,
		StatusUpdater: reporter,
	})

	if err := application.Init(captureOptions(cmd)); err != nil {
		return err
	}

	var hub *sink.Hub
	if cfg.Sink.Listen != "" {
		hub = sink.NewHub(log, cfg.Sink.AllowedOrigins...)
		if _, err := application.AddListener(sink.EventData, hub); err != nil {
			return err
		}
	}
	if cfg.Sink.Stdout {
		if _, err := application.AddListener(sink.EventData, sink.NewWriter(os.Stdout)); err != nil {
			return err
		}
	}
	if cfg.Sink.Meter {
		meter := level.NewMeter(log, application.Capture().BitsPerSample, meterEvery)
		if _, err := application.AddListener(sink.EventData, meter); err != nil {
			return err
		}
	}
	if hub == nil && !cfg.Sink.Stdout {
		log.Warn().Msg("No listeners configured; captured audio will be discarded")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/", hub)
		server = &http.Server{Addr: cfg.Sink.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", cfg.Sink.Listen).Msg("Listening for WebSocket listeners")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if err := application.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start capture")
		if server != nil {
			server.Close()
		}
		stop()
		g.Wait()
		application.Shutdown(context.Background())
		return err
	}

	capture := application.Capture()
	log.Info().
		Str("session", application.SessionID()).
		Int("sample_rate", capture.SampleRate).
		Int("channels", capture.Channels).
		Int("bits", capture.BitsPerSample).
		Msg("mic-stream started")

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-reporter.Failed():
			return err
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := application.Shutdown(shutdownCtx)
		if hub != nil {
			hub.Close()
		}
		if server != nil {
			if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
		}
		return err
	})

	return g.Wait()
}
