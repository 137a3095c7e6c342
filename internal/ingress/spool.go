package ingress

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSuffix is used when the upload carries no usable extension.
const DefaultSuffix = ".webm"

// File is an upload spooled to local disk for file-based recognizers.
type File struct {
	Path   string
	Suffix string
	Size   int
}

// Suffix derives the temp file suffix from the client filename hint: the text
// after the last dot, lower-cased. Anything that is not a plain alphanumeric
// extension falls back to DefaultSuffix.
func Suffix(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	idx := strings.LastIndex(name, ".")
	if filename == "" || idx < 0 || idx == len(name)-1 {
		return DefaultSuffix
	}
	ext := strings.ToLower(name[idx+1:])
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return DefaultSuffix
		}
	}
	return "." + ext
}

// Spool writes data to a uniquely named temp file in dir (os.TempDir when
// empty). On error nothing is left behind.
func Spool(dir, filename string, data []byte) (*File, error) {
	suffix := Suffix(filename)
	file, err := os.CreateTemp(dir, "loqa-relay-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &File{Path: path, Suffix: suffix, Size: len(data)}, nil
}

// Remove deletes the spooled file. Failures are logged and swallowed so that
// cleanup never masks the request outcome.
func (f *File) Remove(logger *slog.Logger) {
	if f == nil || f.Path == "" {
		return
	}
	err := os.Remove(f.Path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	if logger != nil {
		logger.Warn("temp file cleanup failed",
			slog.String("path", f.Path),
			slog.String("error", err.Error()))
	}
}
