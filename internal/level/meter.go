package level

import (
	"github.com/petems/mic-stream/internal/sink"
	"github.com/rs/zerolog"
)

// Meter is a sink that logs the loudness of every Nth frame.
type Meter struct {
	log   zerolog.Logger
	bits  int
	every uint64

	last Reading
}

// NewMeter logs one reading per every frames; every < 1 means each frame.
func NewMeter(log zerolog.Logger, bitsPerSample int, every int) *Meter {
	if every < 1 {
		every = 1
	}
	return &Meter{log: log, bits: bitsPerSample, every: uint64(every)}
}

func (m *Meter) Emit(ev sink.Event) error {
	if ev.Seq%m.every != 0 {
		return nil
	}

	samples, sum, err := DecodePCM(ev.Payload, m.bits)
	if err != nil {
		return err
	}
	m.last = Measure(samples, sum)

	m.log.Info().
		Uint64("seq", ev.Seq).
		Int("power", m.last.Level).
		Int("dbfs", m.last.DBFS).
		Int16("peak", m.last.Peak).
		Msg("Input level")
	return nil
}

// Last returns the most recent reading. It is only safe to call from the
// goroutine that emits.
func (m *Meter) Last() Reading {
	return m.last
}
