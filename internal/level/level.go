// Package level computes loudness readings from encoded PCM frames.
package level

import (
	"encoding/base64"
	"fmt"
	"math"
)

const fullScale = 0x7fff

// Reading is the loudness of one frame.
type Reading struct {
	Level int // 0-100, not decibels
	DBFS  int // -100..0
	Peak  int16
}

// DecodePCM decodes a base64 frame into 16-bit samples and returns the sum
// of their absolute values. 8-bit unsigned input is widened to 16-bit; a
// trailing odd byte of 16-bit input is ignored.
func DecodePCM(payload string, bitsPerSample int) ([]int16, int64, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("decode frame: %w", err)
	}

	var samples []int16
	switch bitsPerSample {
	case 8:
		samples = make([]int16, len(raw))
		for i, b := range raw {
			samples[i] = (int16(b) - 128) << 8
		}
	case 16:
		samples = make([]int16, len(raw)/2)
		for i := range samples {
			samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		}
	default:
		return nil, 0, fmt.Errorf("unsupported sample depth: %d", bitsPerSample)
	}

	var sum int64
	for _, s := range samples {
		sum += abs(s)
	}
	return samples, sum, nil
}

// PowerLevel maps the mean absolute sample value to 0-100. Quiet input
// (mean below 1251) is scaled linearly to 0-10, louder input
// logarithmically.
func PowerLevel(sumAbs int64, n int) int {
	if n <= 0 {
		return 0
	}
	power := float64(sumAbs) / float64(n)
	if power < 1251 {
		return jsRound(power / 1250 * 10)
	}
	return jsRound(math.Min(100, math.Max(0, (1+math.Log10(power/10000))*100)))
}

// PowerDBFS returns the level of a sample magnitude relative to full scale,
// floored at -100.
func PowerDBFS(maxSample float64) int {
	val := math.Min(math.Max(0.1, maxSample), fullScale)
	db := 20 * math.Log10(val/fullScale)
	return max(-100, jsRound(db))
}

// Measure computes a Reading for decoded samples.
func Measure(samples []int16, sumAbs int64) Reading {
	var peak int16
	var peakAbs int64
	for _, s := range samples {
		if a := abs(s); a > peakAbs {
			peakAbs, peak = a, s
		}
	}
	return Reading{
		Level: PowerLevel(sumAbs, len(samples)),
		DBFS:  PowerDBFS(float64(peakAbs)),
		Peak:  peak,
	}
}

func abs(s int16) int64 {
	if s < 0 {
		return -int64(s)
	}
	return int64(s)
}

// jsRound rounds half up, toward positive infinity.
func jsRound(x float64) int {
	return int(math.Floor(x + 0.5))
}
