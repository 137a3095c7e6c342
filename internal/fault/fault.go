// Package fault classifies relay failures so the HTTP layer can tell
// client-caused problems apart from dependency outages.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindBadInput            Kind = "bad_input"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageIngress    Stage = "ingress"
	StageTranscribe Stage = "transcribe"
	StageRespond    Stage = "respond"
	StageSynthesize Stage = "synthesize"
)

// Error carries a Kind and the stage it was raised in.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func BadInput(err error) error { return wrap(KindBadInput, err) }

func Upstream(err error) error { return wrap(KindUpstreamUnavailable, err) }

func Internal(err error) error { return wrap(KindInternal, err) }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the classified kind of err, or "" when unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// AtStage stamps err with stage, applying fallback when the error carries no
// kind yet. Deadline and cancellation errors count as upstream unavailability.
func AtStage(stage Stage, fallback Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		out := *fe
		if out.Stage == "" {
			out.Stage = stage
		}
		return &out
	}
	kind := fallback
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindUpstreamUnavailable
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// FromHTTPStatus maps an upstream HTTP status to a kind: 4xx other than
// auth/rate-limit means the request payload was rejected.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return KindUpstreamUnavailable
	case status >= 400 && status < 500:
		return KindBadInput
	default:
		return KindUpstreamUnavailable
	}
}

// HTTPStatus is the response code the public API uses for kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadInput:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
