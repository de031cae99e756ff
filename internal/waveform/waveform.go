// Package waveform reads and writes the canonical PCM waveform exchanged
// between extraction and transcription: mono, 16-bit signed little-endian,
// 16000 Hz.
package waveform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	SampleRate  = 16000
	Channels    = 1
	SampleWidth = 2 // bytes

	// DefaultChunkFrames is the number of frames handed to the recognizer per read.
	DefaultChunkFrames = 4000

	wavFormatPCM = 1
)

// ErrIncompatibleFormat reports a waveform outside the canonical format.
var ErrIncompatibleFormat = errors.New("incompatible audio format")

// FormatError carries the header values of a rejected waveform.
type FormatError struct {
	Channels    int
	SampleWidth int
	SampleRate  int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: channels=%d sample_width=%d frame_rate=%d (want channels=%d sample_width=%d frame_rate=%d)",
		ErrIncompatibleFormat, e.Channels, e.SampleWidth, e.SampleRate, Channels, SampleWidth, SampleRate)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrIncompatibleFormat
}

// Info describes a decoded WAV header.
type Info struct {
	Channels    int
	SampleWidth int
	SampleRate  int
	Frames      int64
}

// Canonical reports whether the header matches the canonical format.
func (i Info) Canonical() bool {
	return i.Channels == Channels && i.SampleWidth == SampleWidth && i.SampleRate == SampleRate
}

// Reader streams a canonical waveform as fixed-size chunks of PCM bytes.
type Reader struct {
	file        *os.File
	pcm         io.Reader
	info        Info
	buf         []byte
	chunkFrames int
}

// Open validates the header of the WAV file at path and positions the reader
// at the first PCM frame. chunkFrames <= 0 selects DefaultChunkFrames.
// A header outside the canonical format yields a *FormatError.
//
// The declared data size bounds the stream only when it is nonzero and fits
// in the file; otherwise (streamed headers carry 0 or 0xFFFFFFFF) frames are
// read until the end of the file.
func Open(path string, chunkFrames int) (*Reader, error) {
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open waveform: %w", err)
	}

	info, dec, err := decodeHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Canonical() {
		f.Close()
		return nil, &FormatError{Channels: info.Channels, SampleWidth: info.SampleWidth, SampleRate: info.SampleRate}
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("locate pcm data: %w", err)
	}

	dataSize, err := pcmBound(f, int64(dec.PCMSize))
	if err != nil {
		f.Close()
		return nil, err
	}
	frameWidth := int64(info.Channels * info.SampleWidth)
	info.Frames = dataSize / frameWidth

	return &Reader{
		file:        f,
		pcm:         io.LimitReader(f, dataSize),
		info:        info,
		buf:         make([]byte, chunkFrames*int(frameWidth)),
		chunkFrames: chunkFrames,
	}, nil
}

// pcmBound returns how many PCM bytes follow the current offset of f.
func pcmBound(f *os.File, declared int64) (int64, error) {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("locate pcm data: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat waveform: %w", err)
	}
	available := stat.Size() - offset
	if available < 0 {
		available = 0
	}
	if declared > 0 && declared <= available {
		return declared, nil
	}
	return available, nil
}

// Inspect decodes the header of the WAV file at path without validating it.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open waveform: %w", err)
	}
	defer f.Close()
	info, _, err := decodeHeader(f)
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

func decodeHeader(r io.ReadSeeker) (Info, *wav.Decoder, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, nil, fmt.Errorf("read wav header: %w", err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return Info{}, nil, errors.New("read wav header: not a wav file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Info{}, nil, fmt.Errorf("read wav header: unsupported audio format %d", dec.WavAudioFormat)
	}
	info := Info{
		Channels:    int(dec.NumChans),
		SampleWidth: int(dec.BitDepth) / 8,
		SampleRate:  int(dec.SampleRate),
	}
	return info, dec, nil
}

// Info returns the decoded header. Frames is the number of frames the
// reader expects to deliver.
func (r *Reader) Info() Info {
	return r.info
}

// Next returns the next chunk of at most chunkFrames frames as little-endian
// 16-bit PCM. It returns io.EOF once a read yields no complete frame; the
// sequence cannot be restarted.
func (r *Reader) Next() ([]byte, error) {
	n, err := io.ReadFull(r.pcm, r.buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read pcm frames: %w", err)
	}
	frameWidth := Channels * SampleWidth
	n -= n % frameWidth
	if n == 0 {
		return nil, io.EOF
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	return out, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// EncodePCM writes little-endian 16-bit PCM samples as a WAV stream.
func EncodePCM(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%SampleWidth != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/SampleWidth)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*SampleWidth:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, SampleWidth*8, channels, wavFormatPCM)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteFile creates (or truncates) path and encodes pcm into it.
func WriteFile(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create waveform: %w", err)
	}
	if err := EncodePCM(f, pcm, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
