package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/loqalabs/vidscribe/internal/waveform"
	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd []string
}

// NewExecBackend parses command into argv. The command is invoked once per
// stream with --audio, --model and --sample-rate (and --words when word
// output is enabled) and must print a JSON result on stdout.
func NewExecBackend(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execBackend{cmd: args}, nil
}

func (b *execBackend) Name() string { return "exec" }

func (b *execBackend) Load(modelPath string, sampleRate int) (Recognizer, error) {
	return &execRecognizer{
		cmd:        append([]string{}, b.cmd...),
		modelPath:  modelPath,
		sampleRate: sampleRate,
	}, nil
}

// execRecognizer buffers the whole stream; segments are only produced by Final.
type execRecognizer struct {
	cmd        []string
	modelPath  string
	sampleRate int
	words      bool
	pcm        []byte
}

func (r *execRecognizer) SetWords(enabled bool) {
	r.words = enabled
}

func (r *execRecognizer) Accept(pcm []byte) (Result, bool, error) {
	r.pcm = append(r.pcm, pcm...)
	return Result{}, false, nil
}

func (r *execRecognizer) Final(ctx context.Context) (Result, error) {
	file, err := os.CreateTemp("", "vidscribe_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := waveform.EncodePCM(file, r.pcm, r.sampleRate, waveform.Channels); err != nil {
		return Result{}, err
	}
	r.pcm = nil

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name(), "--model", r.modelPath, "--sample-rate", strconv.Itoa(r.sampleRate))
	if r.words {
		args = append(args, "--words")
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	return res, nil
}

func (r *execRecognizer) Close() error {
	r.pcm = nil
	return nil
}
