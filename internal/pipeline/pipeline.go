// Package pipeline runs the two-stage media-to-transcript flow: extract a
// canonical waveform from the input, then transcribe it and write the
// transcript file. Stage failures are reported through the log and the
// returned Outcome; they never escape as errors.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/loqalabs/vidscribe/internal/bus"
	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/eventstore"
	"github.com/loqalabs/vidscribe/internal/media"
	"github.com/loqalabs/vidscribe/internal/protocol"
	"github.com/loqalabs/vidscribe/internal/stt"
	"github.com/loqalabs/vidscribe/internal/telemetry"
	"github.com/loqalabs/vidscribe/internal/transcribe"
	"github.com/loqalabs/vidscribe/internal/vocab"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrLocked reports another run holding the waveform lock.
var ErrLocked = errors.New("another run is using the waveform")

// Status values of an Outcome.
const (
	StatusSucceeded        = "succeeded"
	StatusExtractFailed    = "extract_failed"
	StatusTranscribeFailed = "transcribe_failed"
)

// Request overrides the configured paths for one run. Empty fields fall back to config.
type Request struct {
	Input      string
	Waveform   string
	Output     string
	Vocabulary string
	ModelPath  string
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID      string
	Status     string
	Transcript string
	Output     string
	Err        error
}

// Succeeded reports whether a transcript file was written.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Deps carries the collaborators a Pipeline records into. Nil Store,
// Publisher and Metrics are allowed.
type Deps struct {
	Backend   stt.Backend
	Store     *eventstore.Store
	Publisher *bus.Publisher
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

type Pipeline struct {
	cfg         config.PipelineConfig
	modelPath   string
	backend     stt.Backend
	extractor   *media.Extractor
	transcriber *transcribe.Transcriber
	store       *eventstore.Store
	publisher   *bus.Publisher
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	log         *slog.Logger
	newRunID    func() string
}

func New(cfg config.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg.Pipeline,
		modelPath: cfg.STT.ModelPath,
		backend:   deps.Backend,
		extractor: media.NewExtractor(cfg.Media, logger),
		transcriber: transcribe.New(deps.Backend, transcribe.Options{
			ChunkFrames: cfg.STT.ChunkFrames,
			Metrics:     deps.Metrics,
			Logger:      logger,
		}),
		store:     deps.Store,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("github.com/loqalabs/vidscribe/pipeline"),
		log:       logger.With(slog.String("component", "pipeline")),
		newRunID:  uuid.NewString,
	}
}

func (p *Pipeline) resolve(req Request) Request {
	if req.Input == "" {
		req.Input = p.cfg.Input
	}
	if req.Waveform == "" {
		req.Waveform = p.cfg.Waveform
	}
	if req.Output == "" {
		req.Output = p.cfg.Output
	}
	if req.Vocabulary == "" {
		req.Vocabulary = p.cfg.Vocabulary
	}
	if req.ModelPath == "" {
		req.ModelPath = p.modelPath
	}
	return req
}

// Run extracts, transcribes and writes the transcript. The returned error
// is non-nil only when the run could not start; stage failures are in
// Outcome.Err.
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	req = p.resolve(req)

	lock, err := p.acquire(ctx, req.Waveform)
	if err != nil {
		return Outcome{}, err
	}
	defer p.release(lock)

	runID := p.newRunID()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("input", req.Input),
	))
	defer span.End()

	log := p.log.With(slog.String("run_id", runID))
	r := &run{p: p, id: runID, log: log}
	if err := p.store.BeginRun(ctx, eventstore.Run{
		ID:       runID,
		Input:    req.Input,
		Waveform: req.Waveform,
		Output:   req.Output,
		Backend:  p.backend.Name(),
	}); err != nil {
		log.Warn("failed to record run", slog.String("error", err.Error()))
	}

	out := r.execute(ctx, req)
	out.RunID = runID

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Status)
	}
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}
	storeStatus := eventstore.StatusSucceeded
	if !out.Succeeded() {
		storeStatus = eventstore.StatusFailed
	}
	if err := p.store.FinishRun(ctx, runID, storeStatus, errMsg, utf8.RuneCountInString(out.Transcript)); err != nil {
		log.Warn("failed to finish run record", slog.String("error", err.Error()))
	}
	if err := p.store.Prune(ctx); err != nil {
		log.Warn("event store prune failed", slog.String("error", err.Error()))
	}
	p.publisher.RunStatus(protocol.RunStatus{
		RunID:     runID,
		Stage:     "run",
		Status:    out.Status,
		Input:     req.Input,
		Output:    out.Output,
		Error:     errMsg,
		Chars:     utf8.RuneCountInString(out.Transcript),
		Timestamp: time.Now().UTC(),
	})
	p.metrics.RecordRun(ctx, out.Status)
	return out, nil
}

// acquire locks a file next to the waveform so two runs in one directory
// cannot overwrite each other's intermediate file.
func (p *Pipeline) acquire(ctx context.Context, waveformPath string) (*flock.Flock, error) {
	lockPath := waveformPath + ".lock"
	lock := flock.New(lockPath)

	var (
		ok  bool
		err error
	)
	if p.cfg.LockTimeoutMS > 0 {
		lockCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.LockTimeoutMS)*time.Millisecond)
		defer cancel()
		ok, err = lock.TryLockContext(lockCtx, 100*time.Millisecond)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	} else {
		ok, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, filepath.Clean(waveformPath))
	}
	return lock, nil
}

// release deletes the lock file while it is still held, then unlocks.
func (p *Pipeline) release(lock *flock.Flock) {
	if err := os.Remove(lock.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.log.Warn("failed to remove waveform lock", slog.String("path", lock.Path()), slog.String("error", err.Error()))
	}
	if err := lock.Unlock(); err != nil {
		p.log.Warn("failed to release waveform lock", slog.String("error", err.Error()))
	}
}

type run struct {
	p   *Pipeline
	id  string
	log *slog.Logger
}

func (r *run) execute(ctx context.Context, req Request) Outcome {
	p := r.p

	r.event(ctx, eventstore.EventExtractStarted, map[string]any{"input": req.Input, "waveform": req.Waveform})
	start := time.Now()
	err := p.extractor.Extract(ctx, req.Input, req.Waveform)
	p.metrics.RecordStage(ctx, "extract", time.Since(start), err == nil)
	if err != nil {
		r.log.Error("Conversion error: "+err.Error(), slog.String("error", err.Error()))
		r.event(ctx, eventstore.EventExtractFailed, map[string]any{"error": err.Error()})
		r.log.Error("Error in video to WAV conversion")
		return Outcome{Status: StatusExtractFailed, Err: err}
	}
	r.event(ctx, eventstore.EventExtractCompleted, map[string]any{"waveform": req.Waveform})

	words, err := vocab.Load(req.Vocabulary)
	if err != nil {
		// An unreadable vocabulary only disables word-level output.
		r.log.Warn("failed to load vocabulary", slog.String("path", req.Vocabulary), slog.String("error", err.Error()))
		words = nil
	}

	r.log.Info("Transcribing with " + displayName(p.backend.Name()) + "...")
	text, err := p.transcriber.Transcribe(ctx, transcribe.Request{
		WaveformPath: req.Waveform,
		ModelPath:    req.ModelPath,
		Vocabulary:   words,
		OnSegment:    func(seg transcribe.Segment) { r.segment(ctx, seg) },
	})
	if err != nil {
		r.event(ctx, eventstore.EventTranscribeFailed, map[string]any{"error": err.Error()})
		r.log.Error("Transcription failed. Check logs.")
		return Outcome{Status: StatusTranscribeFailed, Err: err}
	}
	r.event(ctx, eventstore.EventTranscribeComplete, map[string]any{"chars": utf8.RuneCountInString(text)})

	if text == "" {
		r.log.Error("Transcription failed. Check logs.")
		return Outcome{Status: StatusTranscribeFailed, Err: errors.New("empty transcript")}
	}

	if err := transcribe.WriteTranscript(req.Output, text); err != nil {
		r.log.Error("failed to write transcript", slog.String("path", req.Output), slog.String("error", err.Error()))
		r.log.Error("Transcription failed. Check logs.")
		return Outcome{Status: StatusTranscribeFailed, Transcript: text, Err: err}
	}
	r.event(ctx, eventstore.EventTranscriptWritten, map[string]any{"output": req.Output})
	r.log.Info("Transcription completed successfully!", slog.String("output", req.Output))
	return Outcome{Status: StatusSucceeded, Transcript: text, Output: req.Output}
}

func (r *run) segment(ctx context.Context, seg transcribe.Segment) {
	msg := protocol.TranscriptSegment{
		RunID:     r.id,
		Index:     seg.Index,
		Text:      seg.Text,
		Final:     seg.Final,
		Timestamp: time.Now().UTC(),
	}
	for _, w := range seg.Words {
		msg.Words = append(msg.Words, protocol.WordTiming{Word: w.Word, Start: w.Start, End: w.End, Confidence: w.Conf})
	}
	r.p.publisher.Segment(msg)
	r.event(ctx, eventstore.EventTranscribeSegment, msg)
}

func (r *run) event(ctx context.Context, eventType string, payload any) {
	if !r.p.store.Persistent() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn("failed to encode event", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	evt := eventstore.Event{RunID: r.id, Type: eventType, Payload: data}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.TraceID = sc.TraceID().String()
	}
	if err := r.p.store.AppendEvent(ctx, evt); err != nil {
		r.log.Warn("failed to record event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// displayName renders a backend name for console messages ("vosk" -> "Vosk").
func displayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(name[size:])
}
