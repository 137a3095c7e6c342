package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/loqalabs/loqa-relay/internal/pipeline"
	"github.com/stretchr/testify/require"
)

type stubRelay struct {
	upload  pipeline.Upload
	payload pipeline.Payload
	err     error
	panics  bool
}

func (s *stubRelay) Handle(_ context.Context, upload pipeline.Upload) (pipeline.Payload, error) {
	if s.panics {
		panic("boom")
	}
	s.upload = upload
	return s.payload, s.err
}

func newTestServer(relay Relay) *Server {
	cfg := config.Default().HTTP
	cfg.MaxUploadBytes = 1 << 20
	return New(cfg, relay, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/voice-chat", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, resp *http.Response) errorDetail {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Error
}

func TestVoiceChatSuccess(t *testing.T) {
	relay := &stubRelay{payload: pipeline.Payload{Transcript: "مرحبا بك", ReplyText: "أهلا", ReplyAudioB64: "AAEC"}}
	srv := newTestServer(relay)

	resp, err := srv.App().Test(multipartRequest(t, AudioField, "clip.webm", []byte("abc")), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, map[string]string{
		"transcript":      "مرحبا بك",
		"reply_text":      "أهلا",
		"reply_audio_b64": "AAEC",
	}, payload)
	require.Equal(t, "clip.webm", relay.upload.Filename)
	require.Equal(t, []byte("abc"), relay.upload.Data)
}

func TestVoiceChatMissingAudioField(t *testing.T) {
	relay := &stubRelay{}
	srv := newTestServer(relay)

	resp, err := srv.App().Test(multipartRequest(t, "file", "clip.webm", []byte("abc")), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	require.Equal(t, "bad_input", detail.Kind)
	require.Equal(t, "ingress", detail.Stage)
	require.Nil(t, relay.upload.Data)
}

func TestVoiceChatErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fault.AtStage(fault.StageTranscribe, fault.KindBadInput, errors.New("unsupported format")), http.StatusBadRequest, "bad_input"},
		{fault.AtStage(fault.StageRespond, fault.KindUpstreamUnavailable, errors.New("429")), http.StatusBadGateway, "upstream_unavailable"},
		{fault.AtStage(fault.StageTranscribe, fault.KindInternal, errors.New("worker died")), http.StatusInternalServerError, "internal"},
		{errors.New("unclassified"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			srv := newTestServer(&stubRelay{err: tc.err})
			resp, err := srv.App().Test(multipartRequest(t, AudioField, "a.ogg", []byte("x")), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.kind, decodeError(t, resp).Kind)
		})
	}
}

func TestVoiceChatInternalMessageIsGeneric(t *testing.T) {
	srv := newTestServer(&stubRelay{err: fault.AtStage(fault.StageTranscribe, fault.KindInternal, errors.New("/tmp/secret path"))})
	resp, err := srv.App().Test(multipartRequest(t, AudioField, "a.ogg", []byte("x")), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	detail := decodeError(t, resp)
	require.Equal(t, "internal error", detail.Message)
	require.Equal(t, "transcribe", detail.Stage)
}

func TestVoiceChatPanicIsInternal(t *testing.T) {
	srv := newTestServer(&stubRelay{panics: true})
	resp, err := srv.App().Test(multipartRequest(t, AudioField, "a.webm", []byte("x")), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal", decodeError(t, resp).Kind)
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	srv := newTestServer(&stubRelay{})
	req := httptest.NewRequest(http.MethodOptions, "/voice-chat", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Custom")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	require.Equal(t, "X-Custom", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestOnlyVoiceChatRouteIsServed(t *testing.T) {
	srv := newTestServer(&stubRelay{})
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "bad_input", decodeError(t, resp).Kind)
}
