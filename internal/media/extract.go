package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/waveform"
)

// ErrNoAudioStream reports a source container without an audio track.
var ErrNoAudioStream = errors.New("source has no audio stream")

// ExtractionError wraps any failure to produce the canonical waveform.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor converts source media into canonical waveform files.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	probe   bool
	log     *slog.Logger
}

func NewExtractor(cfg config.MediaConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		ffmpeg:  cfg.FFmpegBinary,
		ffprobe: cfg.FFprobeBinary,
		probe:   cfg.Probe,
		log:     logger.With(slog.String("component", "extractor")),
	}
}

// Extract writes a mono 16-bit 16 kHz PCM WAV of source's audio to dest,
// overwriting dest. Failures return an *ExtractionError. Once ffmpeg has
// been launched a failure also removes dest; earlier failures leave it as is.
func (e *Extractor) Extract(ctx context.Context, source, dest string) error {
	if err := e.preflight(ctx, source, dest); err != nil {
		return &ExtractionError{Source: source, Err: err}
	}
	if err := e.convert(ctx, source, dest); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			e.log.Warn("failed to remove partial waveform", slog.String("path", dest), slog.String("error", rmErr.Error()))
		}
		return &ExtractionError{Source: source, Err: err}
	}
	return nil
}

func (e *Extractor) preflight(ctx context.Context, source, dest string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("empty source path")
	}
	if strings.TrimSpace(dest) == "" {
		return errors.New("empty waveform path")
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source %s is a directory", source)
	}
	if e.probe {
		return e.checkAudio(ctx, source)
	}
	return nil
}

func (e *Extractor) convert(ctx context.Context, source, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dest,
	}
	e.log.Debug("running ffmpeg", slog.String("binary", e.ffmpeg), slog.String("source", source), slog.String("dest", dest))
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(output)))
	}

	wav, err := waveform.Inspect(dest)
	if err != nil {
		return fmt.Errorf("verify waveform: %w", err)
	}
	if !wav.Canonical() {
		return &waveform.FormatError{Channels: wav.Channels, SampleWidth: wav.SampleWidth, SampleRate: wav.SampleRate}
	}
	return nil
}

func (e *Extractor) checkAudio(ctx context.Context, source string) error {
	result, err := Probe(ctx, e.ffprobe, source)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			e.log.Warn("ffprobe unavailable; skipping audio stream check", slog.String("binary", e.ffprobe))
			return nil
		}
		return err
	}
	if result.AudioStreamCount() == 0 {
		return ErrNoAudioStream
	}
	stream, _ := result.FirstAudioStream()
	e.log.Debug("source audio stream",
		slog.Int("audio_streams", result.AudioStreamCount()),
		slog.Int("index", stream.Index),
		slog.String("codec", stream.CodecName),
		slog.String("sample_rate", stream.SampleRate),
		slog.Int("channels", stream.Channels))
	return nil
}
