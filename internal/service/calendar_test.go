package service

import (
	"context"
	"strings"
	"testing"

	ics "github.com/arran4/golang-ical"

	"github.com/spec-kit/visit-engine/internal/domain"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

func TestCalendarInviteFollowsReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := slotAt(10)

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slot))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, err = env.reservations.CalendarInvite(ctx, held.ID)
	requireCode(t, err, apperrors.CodeInvalidTransition)

	if _, err := env.reservations.Book(ctx, held.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	invite, err := env.reservations.CalendarInvite(ctx, held.ID)
	if err != nil {
		t.Fatalf("CalendarInvite: %v", err)
	}
	cal, err := ics.ParseCalendar(strings.NewReader(invite))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	vevents := cal.Events()
	if len(vevents) != 1 {
		t.Fatalf("expected one event, got %d", len(vevents))
	}
	start, err := vevents[0].GetStartAt()
	if err != nil {
		t.Fatalf("GetStartAt: %v", err)
	}
	if !start.Equal(slot.Start) {
		t.Fatalf("expected start %s, got %s", slot.Start, start)
	}
	if status := vevents[0].GetProperty(ics.ComponentPropertyStatus); status == nil || status.Value != string(ics.ObjectStatusTentative) {
		t.Fatalf("booked visit should be tentative, got %+v", status)
	}

	if _, err := env.reservations.Cancel(ctx, held.ID, domain.ProvenanceCoordinator); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	invite, err = env.reservations.CalendarInvite(ctx, held.ID)
	if err != nil {
		t.Fatalf("CalendarInvite after cancel: %v", err)
	}
	if !strings.Contains(invite, "METHOD:CANCEL") || !strings.Contains(invite, "STATUS:CANCELLED") {
		t.Fatalf("expected cancellation invite, got\n%s", invite)
	}
}
