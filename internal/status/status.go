// Package status reports capture state changes on a terminal.
package status

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

const (
	Idle      = "idle"
	Recording = "recording"
	Error     = "error"
)

// Reporter prints one indicator line per state change and exposes the first
// capture failure so a host can shut down on it.
type Reporter struct {
	out io.Writer
	log zerolog.Logger

	mu      sync.Mutex
	current string

	failed   chan error
	failOnce sync.Once
}

func New(out io.Writer, log zerolog.Logger) *Reporter {
	return &Reporter{
		out:     out,
		log:     log,
		current: Idle,
		failed:  make(chan error, 1),
	}
}

// Status update methods for the app to call
func (r *Reporter) SetIdle() {
	r.update(Idle)
}

func (r *Reporter) SetRecording() {
	r.update(Recording)
}

func (r *Reporter) SetError(err error) {
	r.update(Error)
	r.failOnce.Do(func() { r.failed <- err })
}

// Failed receives the first error passed to SetError.
func (r *Reporter) Failed() <-chan error {
	return r.failed
}

func (r *Reporter) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// update writes the microphone indicator line for status
func (r *Reporter) update(status string) {
	r.mu.Lock()
	old := r.current
	r.current = status
	r.mu.Unlock()

	fmt.Fprintf(r.out, "🎤 %s %s\n", indicatorFor(status), status)
	r.log.Debug().Str("from", old).Str("to", status).Msg("Status changed")
}

// indicatorFor returns the appropriate status emoji
func indicatorFor(status string) string {
	switch status {
	case Recording:
		return "🔴" // Red - capturing
	case Idle:
		return "🟢" // Green - ready/idle
	case Error:
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
