package service

import (
	"context"
	"strconv"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/spec-kit/visit-engine/internal/domain"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

const calendarProductID = "-//visit-engine//trial visits//EN"

// CalendarInvite renders the reservation as an iCalendar document for the
// communications layer to attach to reminders. Booked visits are tentative
// until confirmed; a cancelled visit renders as a CANCEL so clients that
// imported the earlier invite drop it. Holds and other outcomes have no
// calendar entry.
func (s *ReservationService) CalendarInvite(ctx context.Context, id string) (string, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch res.State {
	case domain.ReservationBooked, domain.ReservationConfirmed, domain.ReservationCancelled:
	default:
		return "", apperrors.NewInvalidTransition("reservation has no calendar entry", map[string]any{
			"reservation_id": res.ID,
			"state":          res.State,
		})
	}
	return renderInvite(res, s.now()), nil
}

func renderInvite(res *domain.Reservation, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetProductId(calendarProductID)

	method, status, sequence := ics.MethodRequest, ics.ObjectStatusTentative, 0
	switch res.State {
	case domain.ReservationConfirmed:
		status, sequence = ics.ObjectStatusConfirmed, 1
	case domain.ReservationCancelled:
		method, status, sequence = ics.MethodCancel, ics.ObjectStatusCancelled, 2
	}
	cal.SetMethod(method)

	event := cal.AddEvent(res.ID + "@visit-engine")
	event.SetDtStampTime(stamp)
	event.SetCreatedTime(res.CreatedAt)
	event.SetModifiedAt(res.UpdatedAt)
	event.SetStartAt(res.Slot.Start)
	event.SetEndAt(res.Slot.End())
	event.SetSummary("Study visit (" + res.TrialID + ")")
	event.SetStatus(status)
	event.SetProperty(ics.ComponentPropertySequence, strconv.Itoa(sequence))
	if res.ConfirmationDueAt != nil && res.State == domain.ReservationBooked {
		event.SetDescription("Please confirm this visit by " + res.ConfirmationDueAt.UTC().Format(time.RFC1123) + ".")
	}
	return cal.Serialize()
}
