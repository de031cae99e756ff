package transcribe

import (
	"fmt"
	"os"
)

// WriteTranscript writes text to path in a single write, replacing any previous file.
func WriteTranscript(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
