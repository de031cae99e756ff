package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/eventstore"
	"github.com/loqalabs/vidscribe/internal/stt"
	"github.com/loqalabs/vidscribe/internal/waveform"
)

type harness struct {
	dir    string
	cfg    config.Config
	store  *eventstore.Store
	logs   *bytes.Buffer
	logger *slog.Logger
}

func newHarness(t *testing.T, pcmBytes int) *harness {
	t.Helper()
	dir := t.TempDir()

	fixture := filepath.Join(dir, "fixture.wav")
	if err := waveform.WriteFile(fixture, make([]byte, pcmBytes), waveform.SampleRate, waveform.Channels); err != nil {
		t.Fatal(err)
	}
	ffmpeg := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\ncp \"" + fixture + "\" \"$last\"\n"
	if err := os.WriteFile(ffmpeg, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	model := filepath.Join(dir, "model")
	if err := os.Mkdir(model, 0o755); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(dir, "your_video.mp4")
	if err := os.WriteFile(source, []byte("container"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Pipeline.Input = source
	cfg.Pipeline.Waveform = filepath.Join(dir, "audio.wav")
	cfg.Pipeline.Output = filepath.Join(dir, "transcription.txt")
	cfg.Pipeline.Vocabulary = filepath.Join(dir, "words.txt")
	cfg.Media.FFmpegBinary = ffmpeg
	cfg.Media.Probe = false
	cfg.STT.Mode = "mock"
	cfg.STT.ModelPath = model
	cfg.EventStore.Path = filepath.Join(dir, "runs.db")

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, err := eventstore.Open(context.Background(), cfg.EventStore, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &harness{dir: dir, cfg: cfg, store: store, logs: &logs, logger: logger}
}

func (h *harness) pipeline() *Pipeline {
	return New(h.cfg, Deps{
		Backend: stt.NewMockBackend(2),
		Store:   h.store,
		Logger:  h.logger,
	})
}

func TestRunWritesTranscript(t *testing.T) {
	h := newHarness(t, 40000)
	p := h.pipeline()
	p.newRunID = func() string { return "run-1" }

	out, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Succeeded() || out.Err != nil {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.RunID != "run-1" {
		t.Fatalf("unexpected run id %q", out.RunID)
	}
	data, err := os.ReadFile(h.cfg.Pipeline.Output)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "segment-1 segment-2 final" {
		t.Fatalf("unexpected transcript %q", data)
	}

	logs := h.logs.String()
	for _, want := range []string{"Transcribing with Mock...", "Transcription completed successfully!"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}

	runs, err := h.store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != eventstore.StatusSucceeded || runs[0].Chars != len("segment-1 segment-2 final") {
		t.Fatalf("unexpected runs %+v", runs)
	}
	events, err := h.store.ListRunEvents(context.Background(), "run-1", 50)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []string{
		eventstore.EventExtractStarted,
		eventstore.EventExtractCompleted,
		eventstore.EventTranscribeSegment,
		eventstore.EventTranscribeSegment,
		eventstore.EventTranscribeSegment,
		eventstore.EventTranscribeComplete,
		eventstore.EventTranscriptWritten,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestRunMissingSource(t *testing.T) {
	h := newHarness(t, 40000)
	p := h.pipeline()

	out, err := p.Run(context.Background(), Request{Input: filepath.Join(h.dir, "absent.mp4")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusExtractFailed || out.Err == nil {
		t.Fatalf("expected extract failure, got %+v", out)
	}
	if _, err := os.Stat(h.cfg.Pipeline.Output); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no transcript file, stat err=%v", err)
	}
	if _, err := os.Stat(h.cfg.Pipeline.Waveform); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no waveform left behind, stat err=%v", err)
	}
	logs := h.logs.String()
	for _, want := range []string{"Conversion error: ", "Error in video to WAV conversion"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}
	if strings.Contains(logs, "Transcribing with") {
		t.Fatalf("transcription must not start after a failed extraction:\n%s", logs)
	}
	runs, err := h.store.ListRuns(context.Background(), 1)
	if err != nil || len(runs) != 1 || runs[0].Status != eventstore.StatusFailed || runs[0].Error == "" {
		t.Fatalf("expected failed run recorded, got %+v err=%v", runs, err)
	}
}

func TestRunMissingModel(t *testing.T) {
	h := newHarness(t, 40000)
	p := h.pipeline()

	model := filepath.Join(h.dir, "vosk_models", "large_pt_br_model")
	out, err := p.Run(context.Background(), Request{ModelPath: model})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusTranscribeFailed {
		t.Fatalf("expected transcribe failure, got %+v", out)
	}
	if _, err := os.Stat(h.cfg.Pipeline.Output); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no transcript file, stat err=%v", err)
	}
	logs := h.logs.String()
	for _, want := range []string{"Vosk model not found at: " + model, "Transcription failed. Check logs."} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}
}

func TestRunEmptyTranscriptIsFailure(t *testing.T) {
	h := newHarness(t, 0)
	p := h.pipeline()

	out, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Succeeded() {
		t.Fatalf("expected failure for empty transcript, got %+v", out)
	}
	if _, err := os.Stat(h.cfg.Pipeline.Output); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no transcript file, stat err=%v", err)
	}
	if !strings.Contains(h.logs.String(), "Transcription failed. Check logs.") {
		t.Fatalf("expected failure message:\n%s", h.logs.String())
	}
}

func TestRunUsesVocabulary(t *testing.T) {
	h := newHarness(t, 40000)
	if err := os.WriteFile(h.cfg.Pipeline.Vocabulary, []byte("kaldi\nvosk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := h.pipeline()
	p.newRunID = func() string { return "run-words" }

	if _, err := p.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	events, err := h.store.ListRunEvents(context.Background(), "run-words", 50)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Type == eventstore.EventTranscribeSegment && strings.Contains(string(e.Payload), `"words":[`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected word timings in segment events")
	}
}

func TestRunRejectsConcurrentRunOnSameWaveform(t *testing.T) {
	h := newHarness(t, 40000)
	held := flock.New(h.cfg.Pipeline.Waveform + ".lock")
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	h.cfg.Pipeline.LockTimeoutMS = 0
	_, err = h.pipeline().Run(context.Background(), Request{})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestRunRemovesLockFile(t *testing.T) {
	h := newHarness(t, 8000)
	lockPath := h.cfg.Pipeline.Waveform + ".lock"

	if _, err := h.pipeline().Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected lock file to be removed, stat err=%v", err)
	}

	// A failed stage releases the lock the same way.
	h.cfg.Pipeline.Input = filepath.Join(h.dir, "missing.mp4")
	out, err := h.pipeline().Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Succeeded() {
		t.Fatalf("expected extraction failure, got %+v", out)
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected lock file to be removed after failure, stat err=%v", err)
	}
}

func TestRunWithoutStore(t *testing.T) {
	h := newHarness(t, 8000)
	p := New(h.cfg, Deps{Backend: stt.NewMockBackend(1), Logger: h.logger})
	out, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Transcript != "segment-1" {
		t.Fatalf("unexpected transcript %q", out.Transcript)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{"vosk": "Vosk", "exec": "Exec", "": ""}
	for in, want := range cases {
		if got := displayName(in); got != want {
			t.Fatalf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
