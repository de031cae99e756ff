package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/pipeline"
	"github.com/loqalabs/vidscribe/internal/protocol"
	"github.com/loqalabs/vidscribe/internal/waveform"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	fixture := filepath.Join(dir, "fixture.wav")
	if err := waveform.WriteFile(fixture, make([]byte, 24000), waveform.SampleRate, waveform.Channels); err != nil {
		t.Fatal(err)
	}
	ffmpeg := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh\nfor last; do :; done\ncp \""+fixture+"\" \"$last\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(dir, "talk.mp4")
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
	cfg.STT.SegmentChunks = 1
	cfg.STT.ModelPath = dir
	cfg.EventStore.Path = filepath.Join(dir, "data", "runs.db")
	return cfg
}

func TestRuntimeRunsPipelineAndPublishes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.SubjectPrefix = "vs"

	ctx := context.Background()
	rt := New(cfg, newLogger())
	if err := rt.Start(ctx); err != nil {
		rt.Shutdown(ctx)
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { rt.Shutdown(context.Background()) })

	nc, err := nats.Connect(rt.embedded.ClientURL())
	if err != nil {
		t.Fatalf("connect watcher: %v", err)
	}
	t.Cleanup(nc.Close)
	sub, err := nc.SubscribeSync("vs.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	p, err := rt.Pipeline()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	out, err := p.Run(ctx, pipeline.Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("expected success, got %+v", out)
	}

	// 12000 frames: three segments, no pending audio for the final flush.
	subjects := map[string]int{}
	var status protocol.RunStatus
	for i := 0; i < 5; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		subjects[msg.Subject]++
		if msg.Subject == "vs.run.status" {
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				t.Fatalf("decode status: %v", err)
			}
		}
	}
	if subjects["vs.transcript.segment"] != 3 || subjects["vs.transcript.final"] != 1 || subjects["vs.run.status"] != 1 {
		t.Fatalf("unexpected subjects %v", subjects)
	}
	if status.RunID != out.RunID || status.Status != pipeline.StatusSucceeded {
		t.Fatalf("unexpected status %+v", status)
	}

	runs, err := rt.Store().ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != out.RunID {
		t.Fatalf("expected recorded run %s, got %+v", out.RunID, runs)
	}
}

func TestRuntimeRejectsUnavailableBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.Mode = "exec"
	cfg.STT.Command = `"unterminated`
	cfg.EventStore.RetentionMode = "ephemeral"

	rt := New(cfg, newLogger())
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	if _, err := rt.Pipeline(); err == nil {
		t.Fatalf("expected backend error")
	}
}
