package handler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// MergeTextContent reads text files and concatenates them, each preceded
// by a header line with its base name. The result is embedded directly
// into the prompt. Files that are not valid UTF-8 are decoded as Latin-1,
// which cannot fail and preserves every byte.
func MergeTextContent(paths []string) (string, error) {
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("cannot read file %s: %w", path, err)
		}

		content := string(data)
		if !utf8.Valid(data) {
			decoded, derr := charmap.ISO8859_1.NewDecoder().Bytes(data)
			if derr != nil {
				return "", fmt.Errorf("cannot read file as text %s: %w", path, derr)
			}
			content = string(decoded)
		}

		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", filepath.Base(path), content))
	}

	merged := strings.Join(parts, "\n\n")
	slog.Info("merged files into message", "files", len(paths), "chars", len(merged))
	return merged, nil
}
