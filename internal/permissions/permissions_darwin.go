//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() int {
	return int(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// Microphone returns ErrMicrophoneDenied unless capture is authorized. An
// undetermined status triggers the system prompt and still fails; the caller
// retries after the user answers.
func Microphone() error {
	switch CheckMicrophone() {
	case PermissionAuthorized:
		return nil
	case PermissionNotDetermined:
		RequestMicrophone()
	}
	return ErrMicrophoneDenied
}
