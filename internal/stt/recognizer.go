package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Word is one entry of word-level recognizer output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

// Result captures recognizer output for one segment or the final flush.
type Result struct {
	Text  string `json:"text"`
	Words []Word `json:"result,omitempty"`
}

// Recognizer is a streaming decoder bound to one audio stream.
type Recognizer interface {
	// SetWords enables word-level and partial-word output.
	SetWords(enabled bool)
	// Accept feeds a PCM chunk; ok reports that a segment was finalized.
	Accept(pcm []byte) (res Result, ok bool, err error)
	// Final flushes buffered audio and returns the last pending result.
	Final(ctx context.Context) (Result, error)
	Close() error
}

// Backend constructs recognizers from a model directory.
type Backend interface {
	Name() string
	Load(modelPath string, sampleRate int) (Recognizer, error)
}

// ParseResult decodes recognizer JSON. A missing text field yields "".
func ParseResult(raw string) (Result, error) {
	var res Result
	if strings.TrimSpace(raw) == "" {
		return res, nil
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("decode recognizer result: %w", err)
	}
	return res, nil
}
