package stt

import (
	"context"
	"fmt"
	"strings"
)

type mockBackend struct {
	segmentChunks int
}

// NewMockBackend returns a deterministic backend that finalizes a segment
// every segmentChunks accepted chunks.
func NewMockBackend(segmentChunks int) Backend {
	if segmentChunks <= 0 {
		segmentChunks = 1
	}
	return &mockBackend{segmentChunks: segmentChunks}
}

func (b *mockBackend) Name() string { return "mock" }

func (b *mockBackend) Load(_ string, _ int) (Recognizer, error) {
	return &mockRecognizer{segmentChunks: b.segmentChunks}, nil
}

type mockRecognizer struct {
	segmentChunks int
	words         bool
	pending       int
	pendingBytes  int
	segments      int
	closed        bool
}

func (m *mockRecognizer) SetWords(enabled bool) {
	m.words = enabled
}

func (m *mockRecognizer) Accept(pcm []byte) (Result, bool, error) {
	if m.closed {
		return Result{}, false, fmt.Errorf("mock recognizer closed")
	}
	m.pending++
	m.pendingBytes += len(pcm)
	if m.pending < m.segmentChunks {
		return Result{}, false, nil
	}
	m.segments++
	res := m.result(fmt.Sprintf("segment-%d", m.segments))
	m.pending = 0
	m.pendingBytes = 0
	return res, true, nil
}

func (m *mockRecognizer) Final(_ context.Context) (Result, error) {
	if m.closed {
		return Result{}, fmt.Errorf("mock recognizer closed")
	}
	if m.pending == 0 {
		return Result{}, nil
	}
	res := m.result("final")
	m.pending = 0
	m.pendingBytes = 0
	return res, nil
}

func (m *mockRecognizer) Close() error {
	m.closed = true
	return nil
}

func (m *mockRecognizer) result(text string) Result {
	res := Result{Text: text}
	if m.words {
		// 2 bytes per frame at 16 kHz.
		span := float64(m.pendingBytes) / 32000
		for _, w := range strings.Fields(text) {
			res.Words = append(res.Words, Word{Word: w, Start: 0, End: span, Conf: 1})
		}
	}
	return res
}
