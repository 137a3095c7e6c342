// Package pipeline runs one voice-chat exchange end to end:
//
//	received -> transcribed -> responded -> synthesized -> returned
//
// Any stage failure short-circuits the exchange. The only substitutions are
// the fallback prompt for an empty transcript and the fallback reply for an
// answer without text.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-relay/internal/audio"
	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/loqalabs/loqa-relay/internal/ingress"
	"github.com/loqalabs/loqa-relay/internal/llm"
	"github.com/loqalabs/loqa-relay/internal/protocol"
	"github.com/loqalabs/loqa-relay/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-relay/internal/pipeline"

// ErrEmptyUpload is returned for an upload with no bytes.
var ErrEmptyUpload = errors.New("uploaded audio is empty")

// Upload is the client's audio blob plus its optional filename hint.
type Upload struct {
	Filename string
	Data     []byte
}

// Payload is the successful response body.
type Payload struct {
	Transcript    string `json:"transcript"`
	ReplyText     string `json:"reply_text"`
	ReplyAudioB64 string `json:"reply_audio_b64"`
}

// Transcriber turns a spooled audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Responder answers a transcript.
type Responder interface {
	Respond(ctx context.Context, transcript string) (llm.Answer, error)
}

// Observer is told about every finished exchange. Observers must not block
// for long and cannot influence the response.
type Observer interface {
	ObserveExchange(ctx context.Context, event protocol.ExchangeEvent)
}

// Options holds the fixed per-exchange policy.
type Options struct {
	Language          string
	Voice             string
	TempDir           string
	TranscribeTimeout time.Duration
	RespondTimeout    time.Duration
	SynthesizeTimeout time.Duration
}

// Relay is shared by all requests; it holds no per-request state.
type Relay struct {
	transcriber Transcriber
	responder   Responder
	synth       tts.Synthesizer
	opts        Options
	observers   []Observer
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *relayMetrics
	probe       func(suffix string, data []byte) (time.Duration, error)
}

func New(transcriber Transcriber, responder Responder, synth tts.Synthesizer, opts Options, logger *slog.Logger, observers ...Observer) (*Relay, error) {
	m, err := newRelayMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return &Relay{
		transcriber: transcriber,
		responder:   responder,
		synth:       synth,
		opts:        opts,
		observers:   observers,
		logger:      logger.With(slog.String("component", "relay")),
		tracer:      otel.Tracer(instrumentationName),
		metrics:     m,
		probe:       audio.Duration,
	}, nil
}

// Handle runs the exchange. Failures are always *fault.Error carrying the
// stage that failed.
func (r *Relay) Handle(ctx context.Context, upload Upload) (Payload, error) {
	started := time.Now()
	id := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "relay.exchange", trace.WithAttributes(
		attribute.String("exchange.id", id),
		attribute.Int("upload.bytes", len(upload.Data)),
	))
	defer span.End()

	event := protocol.ExchangeEvent{
		ExchangeID:  id,
		Status:      protocol.StatusCompleted,
		UploadBytes: len(upload.Data),
		StartedAt:   started.UTC(),
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}

	payload, err := r.run(ctx, upload, &event)

	event.DurationMS = durationMS(time.Since(started))
	var fe *fault.Error
	if err != nil {
		if !errors.As(err, &fe) {
			fe = fault.AtStage(fault.StageIngress, fault.KindInternal, err)
		}
		event.Status = protocol.StatusFailed
		event.ErrorKind = string(fe.Kind)
		event.ErrorStage = string(fe.Stage)
		event.ErrorMessage = fe.Error()
		span.RecordError(fe)
		span.SetStatus(otelcodes.Error, string(fe.Kind))
	}
	r.metrics.recordExchange(ctx, event)
	r.logExchange(event)
	r.notify(ctx, event)

	if fe != nil {
		return Payload{}, fe
	}
	return payload, nil
}

func (r *Relay) run(ctx context.Context, upload Upload, event *protocol.ExchangeEvent) (Payload, error) {
	var file *ingress.File
	err := r.stage(ctx, event, fault.StageIngress, 0, fault.KindInternal, func(context.Context) error {
		if len(upload.Data) == 0 {
			return fault.BadInput(ErrEmptyUpload)
		}
		var err error
		file, err = ingress.Spool(r.opts.TempDir, upload.Filename, upload.Data)
		return err
	})
	if err != nil {
		return Payload{}, err
	}
	// Removal is idempotent: the file goes right after transcription, and
	// this covers every exit before that, panics included.
	defer file.Remove(r.logger)

	event.UploadSuffix = file.Suffix
	if d, err := r.probe(file.Suffix, upload.Data); err == nil {
		event.UploadDurationMS = durationMS(d)
		r.metrics.recordAudio(ctx, "upload", d)
	}

	var transcript string
	err = r.stage(ctx, event, fault.StageTranscribe, r.opts.TranscribeTimeout, fault.KindInternal, func(ctx context.Context) error {
		var err error
		transcript, err = r.transcriber.Transcribe(ctx, file.Path)
		return err
	})
	file.Remove(r.logger)
	if err != nil {
		return Payload{}, err
	}
	event.Transcript = transcript
	event.TranscriptChars = utf8.RuneCountInString(transcript)
	event.FallbackPrompt = strings.TrimSpace(transcript) == ""

	var answer llm.Answer
	err = r.stage(ctx, event, fault.StageRespond, r.opts.RespondTimeout, fault.KindUpstreamUnavailable, func(ctx context.Context) error {
		var err error
		answer, err = r.responder.Respond(ctx, transcript)
		return err
	})
	if err != nil {
		return Payload{}, err
	}
	event.ReplyText = answer.Text
	event.ReplyChars = utf8.RuneCountInString(answer.Text)
	event.FallbackReply = answer.Fallback

	var speech tts.Audio
	err = r.stage(ctx, event, fault.StageSynthesize, r.opts.SynthesizeTimeout, fault.KindUpstreamUnavailable, func(ctx context.Context) error {
		var err error
		speech, err = r.synth.Synthesize(ctx, tts.Request{Text: answer.Text, Language: r.opts.Language, Voice: r.opts.Voice})
		return err
	})
	if err != nil {
		return Payload{}, err
	}
	event.ReplyAudioBytes = len(speech.Data)
	if d, err := r.probe("."+speech.Format, speech.Data); err == nil {
		r.metrics.recordAudio(ctx, "reply", d)
	}

	return Payload{
		Transcript:    transcript,
		ReplyText:     answer.Text,
		ReplyAudioB64: base64.StdEncoding.EncodeToString(speech.Data),
	}, nil
}

// stage runs fn in its own span under an optional deadline and records its
// timing. Errors come back stamped with the stage.
func (r *Relay) stage(ctx context.Context, event *protocol.ExchangeEvent, stage fault.Stage, timeout time.Duration, fallback fault.Kind, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "relay."+string(stage))
	defer span.End()

	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)

	event.Stages = append(event.Stages, protocol.StageTiming{
		Stage:      string(stage),
		DurationMS: durationMS(elapsed),
		OK:         err == nil,
	})
	r.metrics.recordStage(ctx, stage, elapsed, err == nil)

	if err != nil {
		fe := fault.AtStage(stage, fallback, err)
		span.RecordError(fe)
		span.SetStatus(otelcodes.Error, string(fe.Kind))
		return fe
	}
	return nil
}

func (r *Relay) logExchange(event protocol.ExchangeEvent) {
	attrs := []any{
		slog.String("exchange_id", event.ExchangeID),
		slog.String("status", event.Status),
		slog.Float64("duration_ms", event.DurationMS),
		slog.Int("upload_bytes", event.UploadBytes),
	}
	for _, st := range event.Stages {
		attrs = append(attrs, slog.Float64(st.Stage+"_ms", st.DurationMS))
	}
	if event.Status == protocol.StatusFailed {
		attrs = append(attrs,
			slog.String("kind", event.ErrorKind),
			slog.String("stage", event.ErrorStage),
			slog.String("error", event.ErrorMessage))
		r.logger.Warn("voice chat exchange failed", attrs...)
		return
	}
	attrs = append(attrs,
		slog.Bool("fallback_prompt", event.FallbackPrompt),
		slog.Bool("fallback_reply", event.FallbackReply),
		slog.Int("reply_audio_bytes", event.ReplyAudioBytes))
	r.logger.Info("voice chat exchange completed", attrs...)
}

func (r *Relay) notify(ctx context.Context, event protocol.ExchangeEvent) {
	if len(r.observers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, o := range r.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("exchange observer panicked", slog.Any("panic", rec))
				}
			}()
			o.ObserveExchange(ctx, event)
		}()
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
