package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
)

func TestJoinSegmentsPreservesOrder(t *testing.T) {
	got := JoinSegments([]Segment{{Text: "مرحبا "}, {Text: "بك"}})
	if got != "مرحبا بك" {
		t.Fatalf("unexpected join %q", got)
	}
	if JoinSegments(nil) != "" {
		t.Fatal("expected empty transcript for no segments")
	}
	if JoinSegments([]Segment{{Text: "  "}, {Text: "\n"}}) != "" {
		t.Fatal("expected whitespace-only segments to trim to empty")
	}
}

type recordingRecognizer struct {
	opts     Options
	segments []Segment
}

func (r *recordingRecognizer) Transcribe(_ context.Context, _ string, opts Options) (Result, error) {
	r.opts = opts
	return Result{Segments: r.segments}, nil
}

func (r *recordingRecognizer) Close() error { return nil }

func TestTranscriberAppliesFixedOptions(t *testing.T) {
	rec := &recordingRecognizer{segments: []Segment{{Text: " hello"}, {Text: " world "}}}
	cfg := config.Default().STT
	tr := NewTranscriber(rec, OptionsFromConfig(cfg, "ar"), discardLogger())

	text, err := tr.Transcribe(context.Background(), "/tmp/ignored.webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if rec.opts.Language != "ar" || !rec.opts.VADFilter || rec.opts.BeamSize != 5 {
		t.Fatalf("unexpected options %+v", rec.opts)
	}
}

func TestMockRecognizer(t *testing.T) {
	path := writeAudio(t, "abc")
	result, err := NewMockRecognizer().Transcribe(context.Background(), path, Options{Language: "ar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if JoinSegments(result.Segments) != "[mock transcript bytes=3]" {
		t.Fatalf("unexpected mock transcript %+v", result.Segments)
	}
}

func TestOpenAIRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "ar" {
			t.Errorf("expected language ar, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected verbose_json, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task":     "transcribe",
			"language": "arabic",
			"duration": 1.1,
			"text":     "مرحبا بك",
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 0.6, "text": "مرحبا "},
				{"id": 1, "start": 0.6, "end": 1.1, "text": "بك"},
			},
		})
	}))
	defer srv.Close()

	cfg := config.Default().STT
	cfg.Endpoint = srv.URL + "/v1"
	cfg.APIKey = "test"
	rec := NewOpenAIRecognizer(cfg)

	result, err := rec.Transcribe(context.Background(), writeAudio(t, "speech"), Options{Language: "ar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if JoinSegments(result.Segments) != "مرحبا بك" {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}
}

func TestOpenAIRecognizerClassifiesStatus(t *testing.T) {
	cases := map[int]fault.Kind{
		http.StatusBadRequest:         fault.KindBadInput,
		http.StatusUnauthorized:       fault.KindUpstreamUnavailable,
		http.StatusServiceUnavailable: fault.KindUpstreamUnavailable,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rejected","type":"invalid_request_error"}}`))
		}))
		cfg := config.Default().STT
		cfg.Endpoint = srv.URL + "/v1"
		cfg.APIKey = "test"

		_, err := NewOpenAIRecognizer(cfg).Transcribe(context.Background(), writeAudio(t, "speech"), Options{Language: "ar"})
		srv.Close()
		if got := fault.KindOf(err); got != want {
			t.Fatalf("status %d: expected %s, got %s (%v)", status, want, got, err)
		}
	}
}

func TestGoogleRecognitionConfig(t *testing.T) {
	cfg, err := recognitionConfig(".webm", "ar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Encoding != speechpb.RecognitionConfig_WEBM_OPUS || cfg.SampleRateHertz != 48000 {
		t.Fatalf("unexpected webm config %+v", cfg)
	}
	if cfg.LanguageCode != "ar-SA" {
		t.Fatalf("expected regional language code, got %q", cfg.LanguageCode)
	}

	cfg, err = recognitionConfig(".wav", "ar-EG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Encoding != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED || cfg.LanguageCode != "ar-EG" {
		t.Fatalf("unexpected wav config %+v", cfg)
	}

	if _, err := recognitionConfig(".mp3", "ar"); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected mp3 to be rejected, got %v", err)
	}
}
