//go:build !darwin

package permissions

// Microphone is a no-op on non-macOS platforms; device open failures report
// denied access there.
func Microphone() error {
	return nil
}
