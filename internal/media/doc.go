// Package media turns a source container into the canonical waveform
// consumed by the transcriber. Demuxing and resampling are delegated to
// ffmpeg; ffprobe is used to reject sources without an audio stream before
// any output is written.
package media
