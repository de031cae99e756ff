package stt

import (
	"errors"
	"fmt"

	"github.com/loqalabs/vidscribe/internal/config"
)

// ErrVoskUnavailable indicates a binary built without the vosk tag.
var ErrVoskUnavailable = errors.New("stt: vosk backend not compiled in (build with -tags vosk)")

// NewBackend selects the backend named by cfg.Mode.
func NewBackend(cfg config.STTConfig) (Backend, error) {
	switch cfg.Mode {
	case "vosk":
		return NewVoskBackend()
	case "exec":
		return NewExecBackend(cfg.Command)
	case "mock":
		return NewMockBackend(cfg.SegmentChunks), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
