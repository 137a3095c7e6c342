package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAtStageKeepsClassifiedKind(t *testing.T) {
	base := BadInput(errors.New("invalid data found when processing input"))
	wrapped := fmt.Errorf("transcribe: %w", base)

	fe := AtStage(StageTranscribe, KindInternal, wrapped)
	if fe.Kind != KindBadInput {
		t.Fatalf("expected bad_input, got %s", fe.Kind)
	}
	if fe.Stage != StageTranscribe {
		t.Fatalf("expected stage stamp, got %q", fe.Stage)
	}
}

func TestAtStageFallbackAndDeadline(t *testing.T) {
	fe := AtStage(StageRespond, KindUpstreamUnavailable, errors.New("boom"))
	if fe.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected fallback kind, got %s", fe.Kind)
	}

	fe = AtStage(StageIngress, KindInternal, fmt.Errorf("slow: %w", context.DeadlineExceeded))
	if fe.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected deadline to map to upstream, got %s", fe.Kind)
	}

	if AtStage(StageIngress, KindInternal, nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("expected unclassified error to have no kind")
	}
	if KindOf(fmt.Errorf("x: %w", Upstream(errors.New("down")))) != KindUpstreamUnavailable {
		t.Fatal("expected upstream kind through wrapping")
	}
}

func TestHTTPMappings(t *testing.T) {
	if FromHTTPStatus(http.StatusBadRequest) != KindBadInput {
		t.Fatal("400 should be bad input")
	}
	if FromHTTPStatus(http.StatusTooManyRequests) != KindUpstreamUnavailable {
		t.Fatal("429 should be upstream")
	}
	if FromHTTPStatus(http.StatusServiceUnavailable) != KindUpstreamUnavailable {
		t.Fatal("503 should be upstream")
	}
	if HTTPStatus(KindBadInput) != http.StatusBadRequest ||
		HTTPStatus(KindUpstreamUnavailable) != http.StatusBadGateway ||
		HTTPStatus(KindInternal) != http.StatusInternalServerError {
		t.Fatal("unexpected status mapping")
	}
}
