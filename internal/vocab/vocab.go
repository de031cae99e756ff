// Package vocab loads the optional custom word list that switches the
// recognizer into word-level output.
package vocab

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultPath is resolved against the working directory.
const DefaultPath = "words.txt"

// Load returns every line of the file at path, trimmed, in file order.
// Lines end at "\n", "\r\n" or a lone "\r", and have no length limit.
// A missing file yields an empty list. An empty path means DefaultPath.
func Load(path string) ([]string, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return splitLines(string(data)), nil
}

func splitLines(text string) []string {
	words := []string{}
	if text == "" {
		return words
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		words = append(words, strings.TrimSpace(line))
	}
	return words
}
