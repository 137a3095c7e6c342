package protocol

import "time"

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StageTiming records how long one pipeline stage ran.
type StageTiming struct {
	Stage      string  `json:"stage"`
	DurationMS float64 `json:"duration_ms"`
	OK         bool    `json:"ok"`
}

// ExchangeEvent summarizes one voice-chat request. Transcript and ReplyText
// are only populated for consumers that opted into conversation text.
type ExchangeEvent struct {
	ExchangeID       string        `json:"exchange_id"`
	TraceID          string        `json:"trace_id,omitempty"`
	Status           string        `json:"status"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	ErrorStage       string        `json:"error_stage,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	UploadBytes      int           `json:"upload_bytes"`
	UploadSuffix     string        `json:"upload_suffix,omitempty"`
	UploadDurationMS float64       `json:"upload_duration_ms,omitempty"`
	ReplyAudioBytes  int           `json:"reply_audio_bytes,omitempty"`
	TranscriptChars  int           `json:"transcript_chars"`
	ReplyChars       int           `json:"reply_chars"`
	FallbackPrompt   bool          `json:"fallback_prompt"`
	FallbackReply    bool          `json:"fallback_reply"`
	Stages           []StageTiming `json:"stages"`
	StartedAt        time.Time     `json:"started_at"`
	DurationMS       float64       `json:"duration_ms"`
	Transcript       string        `json:"transcript,omitempty"`
	ReplyText        string        `json:"reply_text,omitempty"`
}

// Subject returns the bus subject for the event's outcome.
func (e ExchangeEvent) Subject() string {
	if e.Status == StatusFailed {
		return SubjectExchangeFailed
	}
	return SubjectExchangeCompleted
}

// WithoutText returns a copy with conversation text removed.
func (e ExchangeEvent) WithoutText() ExchangeEvent {
	e.Transcript = ""
	e.ReplyText = ""
	return e
}

const (
	SubjectExchangePrefix    = "relay.exchange"
	SubjectExchangeCompleted = SubjectExchangePrefix + ".completed"
	SubjectExchangeFailed    = SubjectExchangePrefix + ".failed"
	StreamExchanges          = "RELAY_EXCHANGES"
)
