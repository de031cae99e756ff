//go:build !vosk

package stt

// VoskAvailable reports whether the vosk backend is compiled in.
func VoskAvailable() bool { return false }

// NewVoskBackend fails when the binary was built without -tags vosk.
func NewVoskBackend() (Backend, error) {
	return nil, ErrVoskUnavailable
}
