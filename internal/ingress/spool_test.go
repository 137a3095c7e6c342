package ingress

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSuffix(t *testing.T) {
	cases := map[string]string{
		"":                 ".webm",
		"recording":        ".webm",
		"clip.OGG":         ".ogg",
		"voice.note.Mp3":   ".mp3",
		"archive.tar.gz":   ".gz",
		"trailing.":        ".webm",
		"../../etc/x.wav":  ".wav",
		"C:\\tmp\\a.WAV":   ".wav",
		"dir.v2/recording": ".webm",
		"odd.we bm":        ".webm",
	}
	for in, want := range cases {
		if got := Suffix(in); got != want {
			t.Errorf("Suffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpoolAndRemove(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("RIFF....WAVEfmt ")

	f, err := Spool(dir, "hello.wav", payload)
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	if filepath.Dir(f.Path) != dir {
		t.Fatalf("expected file in %s, got %s", dir, f.Path)
	}
	if !strings.HasSuffix(f.Path, ".wav") || f.Suffix != ".wav" {
		t.Fatalf("unexpected suffix in %s", f.Path)
	}
	if f.Size != len(payload) {
		t.Fatalf("expected size %d, got %d", len(payload), f.Size)
	}
	got, err := os.ReadFile(f.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}

	f.Remove(nil)
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	// second removal is a no-op
	f.Remove(nil)
}

func TestSpoolUniqueNames(t *testing.T) {
	dir := t.TempDir()
	a, err := Spool(dir, "", []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Spool(dir, "", []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Path == b.Path {
		t.Fatal("expected unique temp file names")
	}
	if !strings.HasSuffix(a.Path, DefaultSuffix) {
		t.Fatalf("expected default suffix, got %s", a.Path)
	}
}

func TestSpoolMissingDir(t *testing.T) {
	if _, err := Spool(filepath.Join(t.TempDir(), "missing"), "a.wav", []byte("x")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRemoveFailureIsLogged(t *testing.T) {
	dir := t.TempDir()
	// a non-empty directory cannot be removed with os.Remove
	blocker := filepath.Join(dir, "blocker.wav")
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(blocker, "child"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(&buf), nil))
	f := &File{Path: blocker}
	f.Remove(logger)

	if !strings.Contains(buf.String(), "temp file cleanup failed") {
		t.Fatalf("expected warning log, got %q", buf.String())
	}
}
