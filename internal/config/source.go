package config

import (
	"fmt"
	"strconv"
)

// AudioSource selects the OS capture source. Values follow the numbering
// mobile hosts already send, so integer options pass through unchanged.
type AudioSource int

const (
	SourceDefault            AudioSource = 0
	SourceMic                AudioSource = 1
	SourceVoiceUplink        AudioSource = 2
	SourceVoiceDownlink      AudioSource = 3
	SourceVoiceCall          AudioSource = 4
	SourceCamcorder          AudioSource = 5
	SourceVoiceRecognition   AudioSource = 6
	SourceVoiceCommunication AudioSource = 7
	SourceUnprocessed        AudioSource = 9
)

var sourceNames = map[AudioSource]string{
	SourceDefault:            "default",
	SourceMic:                "mic",
	SourceVoiceUplink:        "voice_uplink",
	SourceVoiceDownlink:      "voice_downlink",
	SourceVoiceCall:          "voice_call",
	SourceCamcorder:          "camcorder",
	SourceVoiceRecognition:   "voice_recognition",
	SourceVoiceCommunication: "voice_communication",
	SourceUnprocessed:        "unprocessed",
}

func (s AudioSource) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

func (s AudioSource) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return "source(" + strconv.Itoa(int(s)) + ")"
}

// IsVoice reports whether the source is tuned for speech.
func (s AudioSource) IsVoice() bool {
	switch s {
	case SourceVoiceRecognition, SourceVoiceCommunication, SourceVoiceCall,
		SourceVoiceUplink, SourceVoiceDownlink:
		return true
	}
	return false
}

// ParseAudioSource accepts a source name or its decimal number.
func ParseAudioSource(s string) (AudioSource, error) {
	for src, name := range sourceNames {
		if name == s {
			return src, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !AudioSource(n).Valid() {
		return 0, fmt.Errorf("unknown audio source: %q", s)
	}
	return AudioSource(n), nil
}

func (s AudioSource) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown audio source: %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *AudioSource) UnmarshalText(text []byte) error {
	src, err := ParseAudioSource(string(text))
	if err != nil {
		return err
	}
	*s = src
	return nil
}
