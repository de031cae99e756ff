// Package transcribe drives a streaming recognizer over a canonical
// waveform and assembles the transcript.
//
// One invocation walks a fixed sequence: check that the model directory
// exists, load a fresh recognizer, enable word output when a custom
// vocabulary is present, validate the waveform header, stream fixed-size
// chunks through the recognizer collecting finalized segments, flush the
// final result, then join every fragment with single spaces.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/vidscribe/internal/stt"
	"github.com/loqalabs/vidscribe/internal/telemetry"
	"github.com/loqalabs/vidscribe/internal/waveform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrModelNotFound reports a missing model directory.
	ErrModelNotFound = errors.New("recognition model not found")
	// ErrIncompatibleFormat reports a waveform outside mono/16-bit/16 kHz.
	ErrIncompatibleFormat = waveform.ErrIncompatibleFormat
)

// IncompatibleFormatMessage is logged when the waveform header is rejected.
const IncompatibleFormatMessage = "Incompatible audio format! Must be: Mono, 16kHz, 16-bit"

// TranscriptionError wraps failures while loading the recognizer or
// reading and decoding the waveform.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return "transcription: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Segment is one transcript fragment as it is appended.
type Segment struct {
	Index int
	Text  string
	Final bool
	Words []stt.Word
}

// SegmentSink observes fragments in order.
type SegmentSink func(Segment)

// Request describes one transcription.
type Request struct {
	WaveformPath string
	ModelPath    string
	Vocabulary   []string
	OnSegment    SegmentSink
}

// Options tune a Transcriber.
type Options struct {
	ChunkFrames int
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Transcriber turns canonical waveforms into transcripts with a recognition backend.
type Transcriber struct {
	backend     stt.Backend
	chunkFrames int
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	log         *slog.Logger
}

func New(backend stt.Backend, opts Options) *Transcriber {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkFrames := opts.ChunkFrames
	if chunkFrames <= 0 {
		chunkFrames = waveform.DefaultChunkFrames
	}
	return &Transcriber{
		backend:     backend,
		chunkFrames: chunkFrames,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer("github.com/loqalabs/vidscribe/transcribe"),
		log:         logger.With(slog.String("component", "transcriber"), slog.String("backend", backend.Name())),
	}
}

// Transcribe returns the joined transcript of req.WaveformPath. Errors are
// ErrModelNotFound, ErrIncompatibleFormat (as *waveform.FormatError) or a
// *TranscriptionError; each has already been logged.
func (t *Transcriber) Transcribe(ctx context.Context, req Request) (string, error) {
	ctx, span := t.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("waveform", req.WaveformPath),
		attribute.String("model", req.ModelPath),
		attribute.String("backend", t.backend.Name()),
	))
	defer span.End()

	start := time.Now()
	text, err := t.transcribe(ctx, req, span)
	t.metrics.RecordStage(ctx, "transcribe", time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (t *Transcriber) transcribe(ctx context.Context, req Request, span trace.Span) (string, error) {
	if info, err := os.Stat(req.ModelPath); err != nil || !info.IsDir() {
		t.log.Error("Vosk model not found at: "+req.ModelPath, slog.String("model_path", req.ModelPath))
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelPath)
	}

	rec, err := t.backend.Load(req.ModelPath, waveform.SampleRate)
	if err != nil {
		return "", t.fail(err)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			t.log.Warn("failed to release recognizer", slog.String("error", err.Error()))
		}
	}()

	if len(req.Vocabulary) > 0 {
		rec.SetWords(true)
		t.log.Debug("word-level output enabled", slog.Int("vocabulary", len(req.Vocabulary)))
	}

	reader, err := waveform.Open(req.WaveformPath, t.chunkFrames)
	if err != nil {
		if errors.Is(err, ErrIncompatibleFormat) {
			t.log.Error(IncompatibleFormatMessage, slog.String("error", err.Error()))
			return "", err
		}
		return "", t.fail(err)
	}
	defer reader.Close()
	t.log.Debug("waveform opened", slog.Int64("frames", reader.Info().Frames))
	span.SetAttributes(attribute.Int64("frames", reader.Info().Frames))

	var fragments []string
	appendFragment := func(res stt.Result, final bool) {
		seg := Segment{Index: len(fragments), Text: res.Text, Final: final, Words: res.Words}
		fragments = append(fragments, res.Text)
		t.metrics.RecordSegment(ctx, final)
		if req.OnSegment != nil {
			req.OnSegment(seg)
		}
	}

	chunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", t.fail(err)
		}
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", t.fail(err)
		}
		chunks++
		t.metrics.RecordChunk(ctx, len(chunk))
		res, ok, err := rec.Accept(chunk)
		if err != nil {
			return "", t.fail(err)
		}
		if ok {
			appendFragment(res, false)
		}
	}

	final, err := rec.Final(ctx)
	if err != nil {
		return "", t.fail(err)
	}
	appendFragment(final, true)

	span.SetAttributes(attribute.Int("chunks", chunks), attribute.Int("fragments", len(fragments)))
	t.log.Debug("stream decoded", slog.Int("chunks", chunks), slog.Int("fragments", len(fragments)))
	return Join(fragments), nil
}

func (t *Transcriber) fail(err error) error {
	t.log.Error("Transcription error: "+err.Error(), slog.String("error", err.Error()))
	return &TranscriptionError{Err: err}
}

// Join concatenates fragments with single spaces and trims the result.
func Join(fragments []string) string {
	return strings.TrimSpace(strings.Join(fragments, " "))
}
