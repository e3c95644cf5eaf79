package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
)

type recordingCommunicator struct {
	calls []FollowUp
}

func (r *recordingCommunicator) RequestFollowUp(_ context.Context, followUp FollowUp) error {
	r.calls = append(r.calls, followUp)
	return nil
}

type stubPolicy map[string]bool

func (p stubPolicy) ContactAllowed(_ context.Context, participantID string) (bool, error) {
	return !p[participantID], nil
}

func followUpEvent(t *testing.T, participantID string) domain.Event {
	t.Helper()
	payload, err := json.Marshal(events.FollowUpPayload{
		ReservationID: "res-1",
		ParticipantID: participantID,
		TrialID:       "trial-7",
		Reason:        followUpReasonUnconfirmed,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return domain.Event{
		ID:        "evt-" + participantID,
		Seq:       1,
		Type:      domain.EventFollowUpRequested,
		Payload:   payload,
		CreatedAt: baseTime,
	}
}

func TestNotificationDeliversFollowUp(t *testing.T) {
	comm := &recordingCommunicator{}
	svc := NewNotificationService(stubPolicy{}, comm, zap.NewNop())

	if err := svc.HandleEvent(context.Background(), followUpEvent(t, "participant-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(comm.calls) != 1 {
		t.Fatalf("expected one follow-up, got %d", len(comm.calls))
	}
	call := comm.calls[0]
	if call.EventID != "evt-participant-1" || call.Reason != followUpReasonUnconfirmed || call.ReservationID != "res-1" {
		t.Fatalf("unexpected follow-up %+v", call)
	}
}

func TestNotificationSuppressedByStopContact(t *testing.T) {
	comm := &recordingCommunicator{}
	svc := NewNotificationService(stubPolicy{"participant-1": true}, comm, zap.NewNop())

	if err := svc.HandleEvent(context.Background(), followUpEvent(t, "participant-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(comm.calls) != 0 {
		t.Fatalf("stop_contact participant must not be contacted, got %+v", comm.calls)
	}
}

func TestNotificationIgnoresOtherEvents(t *testing.T) {
	comm := &recordingCommunicator{}
	svc := NewNotificationService(stubPolicy{}, comm, zap.NewNop())

	err := svc.HandleEvent(context.Background(), domain.Event{ID: "evt", Type: domain.EventSlotHeld, Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(comm.calls) != 0 {
		t.Fatalf("expected no follow-up, got %d", len(comm.calls))
	}
}

func TestNotificationUsesHandoffContactPolicy(t *testing.T) {
	env := newTestEnv(t)
	comm := &recordingCommunicator{}
	svc := NewNotificationService(env.handoffs, comm, zap.NewNop())

	if _, err := env.handoffs.Create(context.Background(), CreateHandoffInput{
		ParticipantID: "participant-1",
		Reason:        "stop_contact",
		Severity:      domain.SeverityStopContact,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), followUpEvent(t, "participant-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(comm.calls) != 0 {
		t.Fatalf("expected suppression, got %+v", comm.calls)
	}
}

func TestWebhookCommunicatorPostsWithIdempotencyKey(t *testing.T) {
	var (
		gotKey  string
		gotBody FollowUp
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	comm := NewWebhookCommunicator(server.URL, time.Second)
	err := comm.RequestFollowUp(context.Background(), FollowUp{EventID: "evt-9", ParticipantID: "participant-1", Reason: "teach_back_failed"})
	if err != nil {
		t.Fatalf("RequestFollowUp: %v", err)
	}
	if gotKey != "evt-9" {
		t.Fatalf("expected idempotency key evt-9, got %q", gotKey)
	}
	if gotBody.ParticipantID != "participant-1" || gotBody.Reason != "teach_back_failed" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestWebhookCommunicatorReportsFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	comm := NewWebhookCommunicator(server.URL, time.Second)
	if err := comm.RequestFollowUp(context.Background(), FollowUp{EventID: "evt-10"}); err == nil {
		t.Fatalf("expected an error for a 503 response")
	}
}
