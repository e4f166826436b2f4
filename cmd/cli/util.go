package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/emx-mail/mailrows/pkgs/email"
)

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// validateAttachmentPath checks that the resolved path stays within baseDir.
func validateAttachmentPath(baseDir, filename string) (string, error) {
	// Clean the filename to prevent path traversal
	cleaned := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if cleaned == "." || cleaned == ".." || cleaned == "/" || cleaned == string(filepath.Separator) {
		return "", fmt.Errorf("invalid attachment filename: %s", filename)
	}
	full := filepath.Join(baseDir, cleaned)
	// Double-check that the resolved path is under baseDir
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("attachment path escapes target directory: %s", filename)
	}
	return full, nil
}

// uniquePath appends a counter to path until it names no existing file.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func formatFrom(addrs []email.Address) string {
	if len(addrs) == 0 {
		return "Unknown"
	}
	return addrs[0].String()
}

// truncate truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
