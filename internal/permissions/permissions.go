package permissions

import "errors"

// ErrMicrophoneDenied means the OS has not granted microphone access.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")
