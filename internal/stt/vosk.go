//go:build vosk

package stt

import (
	"context"
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskAvailable reports whether the vosk backend is compiled in.
func VoskAvailable() bool { return true }

type voskBackend struct{}

// NewVoskBackend returns the libvosk-backed backend.
func NewVoskBackend() (Backend, error) {
	return voskBackend{}, nil
}

func (voskBackend) Name() string { return "vosk" }

func (voskBackend) Load(modelPath string, sampleRate int) (Recognizer, error) {
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &voskRecognizer{model: model, rec: rec}, nil
}

type voskRecognizer struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

func (r *voskRecognizer) SetWords(enabled bool) {
	flag := 0
	if enabled {
		flag = 1
	}
	r.rec.SetWords(flag)
	r.rec.SetPartialWords(flag)
}

func (r *voskRecognizer) Accept(pcm []byte) (Result, bool, error) {
	if r.rec.AcceptWaveform(pcm) == 0 {
		return Result{}, false, nil
	}
	res, err := ParseResult(r.rec.Result())
	if err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

func (r *voskRecognizer) Final(_ context.Context) (Result, error) {
	return ParseResult(r.rec.FinalResult())
}

func (r *voskRecognizer) Close() error {
	if r.rec != nil {
		r.rec.Free()
		r.rec = nil
	}
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}
