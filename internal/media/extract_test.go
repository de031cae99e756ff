package media

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/waveform"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

// fakeFFmpeg copies fixture to the last argument, like ffmpeg writing its output.
func fakeFFmpeg(t *testing.T, dir, fixture string) string {
	return writeScript(t, dir, "ffmpeg", `for last; do :; done
cp "`+fixture+`" "$last"
`)
}

func fakeFFprobe(t *testing.T, dir, streams string) string {
	return writeScript(t, dir, "ffprobe", `cat <<'JSON'
{"streams": `+streams+`, "format": {"filename": "src", "format_name": "mov,mp4"}}
JSON
`)
}

const videoAndAudio = `[{"index": 0, "codec_type": "video", "codec_name": "h264"}, {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}]`

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("container"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractProducesCanonicalWaveform(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	if err := waveform.WriteFile(fixture, make([]byte, 16000), waveform.SampleRate, waveform.Channels); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(dir, "sample.mp4")
	touch(t, source)
	dest := filepath.Join(dir, "audio.wav")

	ex := NewExtractor(config.MediaConfig{
		FFmpegBinary:  fakeFFmpeg(t, dir, fixture),
		FFprobeBinary: fakeFFprobe(t, dir, videoAndAudio),
		Probe:         true,
	}, newLogger())
	if err := ex.Extract(context.Background(), source, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	info, err := waveform.Inspect(dest)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Channels != 1 || info.SampleWidth != 2 || info.SampleRate != 16000 {
		t.Fatalf("unexpected waveform header %+v", info)
	}
}

func TestExtractMissingSource(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "audio.wav")
	ex := NewExtractor(config.MediaConfig{FFmpegBinary: "ffmpeg", FFprobeBinary: "ffprobe", Probe: true}, newLogger())

	err := ex.Extract(context.Background(), filepath.Join(dir, "missing.mp4"), dest)
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *ExtractionError, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no waveform, stat err=%v", err)
	}
}

func TestExtractKeepsExistingWaveformWhenSourceMissing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(dest, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}
	ffmpeg := writeScript(t, dir, "ffmpeg", "echo must-not-run >&2\nexit 1\n")
	ex := NewExtractor(config.MediaConfig{FFmpegBinary: ffmpeg, FFprobeBinary: "ffprobe", Probe: false}, newLogger())

	err := ex.Extract(context.Background(), filepath.Join(dir, "missing.mp4"), dest)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
	data, readErr := os.ReadFile(dest)
	if readErr != nil {
		t.Fatalf("expected existing waveform to survive, got %v", readErr)
	}
	if string(data) != "previous run" {
		t.Fatalf("existing waveform was modified: %q", data)
	}
}

func TestExtractRejectsSourceWithoutAudio(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "silent.mp4")
	touch(t, source)
	dest := filepath.Join(dir, "audio.wav")
	ffmpeg := writeScript(t, dir, "ffmpeg", "echo must-not-run >&2\nexit 1\n")

	ex := NewExtractor(config.MediaConfig{
		FFmpegBinary:  ffmpeg,
		FFprobeBinary: fakeFFprobe(t, dir, `[{"index": 0, "codec_type": "video", "codec_name": "h264"}]`),
		Probe:         true,
	}, newLogger())
	err := ex.Extract(context.Background(), source, dest)
	if !errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("expected ErrNoAudioStream, got %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no waveform, stat err=%v", err)
	}
}

func TestExtractFFmpegFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "broken.mp4")
	touch(t, source)
	dest := filepath.Join(dir, "audio.wav")
	ffmpeg := writeScript(t, dir, "ffmpeg", `for last; do :; done
echo partial > "$last"
echo "Invalid data found when processing input" >&2
exit 1
`)

	ex := NewExtractor(config.MediaConfig{FFmpegBinary: ffmpeg, Probe: false}, newLogger())
	err := ex.Extract(context.Background(), source, dest)
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *ExtractionError, got %v", err)
	}
	if extractErr.Source != source {
		t.Fatalf("unexpected source %q", extractErr.Source)
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected partial waveform removed, stat err=%v", err)
	}
}

func TestExtractRejectsNonCanonicalOutput(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	if err := waveform.WriteFile(fixture, make([]byte, 400), 44100, 1); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(dir, "sample.mp4")
	touch(t, source)
	dest := filepath.Join(dir, "audio.wav")

	ex := NewExtractor(config.MediaConfig{FFmpegBinary: fakeFFmpeg(t, dir, fixture)}, newLogger())
	err := ex.Extract(context.Background(), source, dest)
	if !errors.Is(err, waveform.ErrIncompatibleFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected waveform removed, stat err=%v", err)
	}
}

func TestExtractSkipsProbeWhenFFprobeMissing(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	if err := waveform.WriteFile(fixture, make([]byte, 3200), waveform.SampleRate, waveform.Channels); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(dir, "sample.mp4")
	touch(t, source)

	ex := NewExtractor(config.MediaConfig{
		FFmpegBinary:  fakeFFmpeg(t, dir, fixture),
		FFprobeBinary: "clearly-not-present-ffprobe",
		Probe:         true,
	}, newLogger())
	if err := ex.Extract(context.Background(), source, filepath.Join(dir, "audio.wav")); err != nil {
		t.Fatalf("extract: %v", err)
	}
}

func TestProbeCountsAudioStreams(t *testing.T) {
	dir := t.TempDir()
	result, err := Probe(context.Background(), fakeFFprobe(t, dir, videoAndAudio), "src.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	stream, ok := result.FirstAudioStream()
	if !ok || stream.Index != 1 || stream.Channels != 2 {
		t.Fatalf("unexpected audio stream %+v", stream)
	}
}

func TestExtractWithRealFFmpeg(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	source := filepath.Join(dir, "tone.wav")
	gen := exec.Command(ffmpeg, "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1", "-ac", "2", "-ar", "44100", source)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("generate source: %v: %s", err, out)
	}

	dest := filepath.Join(dir, "audio.wav")
	ex := NewExtractor(config.MediaConfig{FFmpegBinary: ffmpeg, FFprobeBinary: "ffprobe", Probe: true}, newLogger())
	if err := ex.Extract(context.Background(), source, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	info, err := waveform.Inspect(dest)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !info.Canonical() {
		t.Fatalf("expected canonical waveform, got %+v", info)
	}
}
