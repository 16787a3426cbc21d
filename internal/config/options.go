package config

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Options is the loosely typed option set a host passes to init, shaped like
// a decoded JS object: numbers may arrive as int, int64, float64 or
// json.Number.
type Options map[string]any

// Host option keys.
const (
	OptSampleRate     = "sampleRate"
	OptChannels       = "channels"
	OptBitsPerSample  = "bitsPerSample"
	OptAudioSource    = "audioSource"
	OptBufferSize     = "bufferSize"
	OptSpeakerPhoneOn = "speakerPhoneOn"
	OptDeviceID       = "deviceId"
)

func (o Options) has(key string) bool {
	_, ok := o[key]
	return ok
}

// Apply overlays the options present in o onto base and normalizes the
// result. speakerPhoneOn is a presence flag: any value, even false, turns
// speaker routing on.
func (o Options) Apply(base CaptureConfig) (CaptureConfig, error) {
	cfg := base

	if o.has(OptSpeakerPhoneOn) {
		cfg.SpeakerPhoneOn = true
	}

	if o.has(OptSampleRate) {
		n, err := o.int(OptSampleRate)
		if err != nil {
			return cfg, err
		}
		cfg.SampleRate = n
	}

	if o.has(OptChannels) {
		n, err := o.int(OptChannels)
		if err != nil {
			return cfg, err
		}
		cfg.Channels = 1
		if n == 2 {
			cfg.Channels = 2
		}
	}

	if o.has(OptBitsPerSample) {
		n, err := o.int(OptBitsPerSample)
		if err != nil {
			return cfg, err
		}
		cfg.BitsPerSample = 16
		if n == 8 {
			cfg.BitsPerSample = 8
		}
	}

	if o.has(OptAudioSource) {
		src, err := o.source()
		if err != nil {
			return cfg, err
		}
		cfg.AudioSource = src
	}

	if o.has(OptBufferSize) {
		n, err := o.int(OptBufferSize)
		if err != nil {
			return cfg, err
		}
		cfg.BufferSize = n
	}

	if o.has(OptDeviceID) {
		s, ok := o[OptDeviceID].(string)
		if !ok {
			return cfg, fmt.Errorf("option %s: expected string, got %T", OptDeviceID, o[OptDeviceID])
		}
		cfg.DeviceID = s
	}

	return cfg.Normalize(), nil
}

func (o Options) int(key string) (int, error) {
	switch v := o[key].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("option %s: expected number, got %T", key, v)
	}
}

func (o Options) source() (AudioSource, error) {
	if s, ok := o[OptAudioSource].(string); ok {
		return ParseAudioSource(s)
	}
	n, err := o.int(OptAudioSource)
	if err != nil {
		return 0, err
	}
	return AudioSource(n), nil
}
