package protocol

import "time"

// WordTiming is word-level detail attached to a segment when a custom vocabulary is active.
type WordTiming struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"conf"`
}

// TranscriptSegment is one finalized fragment broadcast while a run decodes.
type TranscriptSegment struct {
	RunID     string       `json:"run_id"`
	Index     int          `json:"index"`
	Text      string       `json:"text"`
	Final     bool         `json:"final"`
	Words     []WordTiming `json:"words,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RunStatus reports a pipeline run transition.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Chars     int       `json:"chars,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptSegment = "transcript.segment"
	SubjectTranscriptFinal   = "transcript.final"
	SubjectRunStatus         = "run.status"
)

// Subject prefixes a subject with the configured namespace.
func Subject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
