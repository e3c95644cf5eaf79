package service

import (
	"context"
	"testing"
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

func newCoordinator(t *testing.T, env *testEnv, email string, active bool) *domain.Coordinator {
	t.Helper()
	coordinator := &domain.Coordinator{
		Name:         "Coordinator",
		Email:        email,
		PasswordHash: "x",
		Role:         domain.CoordinatorRoleCoordinator,
		Active:       active,
	}
	if err := env.store.Coordinators().Create(context.Background(), coordinator); err != nil {
		t.Fatalf("create coordinator: %v", err)
	}
	return coordinator
}

func callbackInput(participantID string) CreateHandoffInput {
	return CreateHandoffInput{
		ParticipantID: participantID,
		Reason:        "human_requested",
		Severity:      domain.SeverityCallbackTicket,
		Summary:       "asked for a person",
	}
}

func TestCreateDerivesDueAtFromSeverity(t *testing.T) {
	cases := []struct {
		severity domain.Severity
		sla      time.Duration
	}{
		{domain.SeverityHandoffNow, 0},
		{domain.SeverityCallbackTicket, 4 * time.Hour},
		{domain.SeverityStopContact, 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			env := newTestEnv(t)
			ticket, err := env.handoffs.Create(context.Background(), CreateHandoffInput{
				ParticipantID: "participant-1",
				Reason:        "test",
				Severity:      tc.severity,
			})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if !ticket.DueAt.Equal(ticket.CreatedAt.Add(tc.sla)) {
				t.Fatalf("expected due_at %v, got %v", ticket.CreatedAt.Add(tc.sla), ticket.DueAt)
			}
			if ticket.Status != domain.HandoffStatusOpen {
				t.Fatalf("expected open ticket, got %s", ticket.Status)
			}
			if tc.severity == domain.SeverityHandoffNow && ticket.DueAt.After(ticket.CreatedAt) {
				t.Fatalf("handoff_now must be due immediately")
			}
		})
	}
}

func TestCreateValidatesSeverity(t *testing.T) {
	env := newTestEnv(t)
	input := callbackInput("participant-1")
	input.Severity = "urgent"
	_, err := env.handoffs.Create(context.Background(), input)
	requireCode(t, err, apperrors.CodeValidation)
}

func TestCreateWithSourceKeyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	input := callbackInput("participant-1")
	input.SourceKey = ptrString("call-9:safety:human_requested")

	first, err := env.handoffs.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := env.handoffs.Create(ctx, input)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same ticket, got %s and %s", first.ID, second.ID)
	}
	if got := env.store.EventCount(); got != 1 {
		t.Fatalf("expected one handoff_created event, got %d", got)
	}
}

func TestAssignAndResolveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coordinator := newCoordinator(t, env, "amara@example.org", true)

	ticket, err := env.handoffs.Create(ctx, callbackInput("participant-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assigned, err := env.handoffs.Assign(ctx, ticket.ID, coordinator.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assigned.Status != domain.HandoffStatusAssigned || assigned.AssigneeID == nil || *assigned.AssigneeID != coordinator.ID {
		t.Fatalf("unexpected assigned ticket %+v", assigned)
	}
	if _, err := env.handoffs.Assign(ctx, ticket.ID, coordinator.ID); err != nil {
		t.Fatalf("repeat Assign: %v", err)
	}

	resolved, err := env.handoffs.Resolve(ctx, ticket.ID, "called back, rescheduled", coordinator.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != domain.HandoffStatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved ticket %+v", resolved)
	}
	if _, err := env.handoffs.Resolve(ctx, ticket.ID, "again", coordinator.ID); err != nil {
		t.Fatalf("repeat Resolve: %v", err)
	}
	_, err = env.handoffs.Assign(ctx, ticket.ID, coordinator.ID)
	requireCode(t, err, apperrors.CodeInvalidTransition)

	want := []domain.EventType{domain.EventHandoffCreated, domain.EventHandoffAssigned, domain.EventHandoffResolved}
	if types := env.eventTypes(t); !equalTypes(types, want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
}

func TestAssignRejectsUnknownAndInactiveCoordinators(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inactive := newCoordinator(t, env, "gone@example.org", false)

	ticket, err := env.handoffs.Create(ctx, callbackInput("participant-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = env.handoffs.Assign(ctx, ticket.ID, "missing")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = env.handoffs.Assign(ctx, ticket.ID, inactive.ID)
	requireCode(t, err, apperrors.CodeConflict)
}

func TestEscalateOverdueMovesOnlyPastDueOpenTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	callback, err := env.handoffs.Create(ctx, callbackInput("participant-1"))
	if err != nil {
		t.Fatalf("Create callback: %v", err)
	}
	stop, err := env.handoffs.Create(ctx, CreateHandoffInput{
		ParticipantID: "participant-2",
		Reason:        "stop_contact",
		Severity:      domain.SeverityStopContact,
	})
	if err != nil {
		t.Fatalf("Create stop_contact: %v", err)
	}

	env.clock.Advance(4*time.Hour + time.Second)
	escalated, err := env.handoffs.EscalateOverdue(ctx)
	if err != nil {
		t.Fatalf("EscalateOverdue: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("expected one escalation, got %d", escalated)
	}

	got, err := env.handoffs.Get(ctx, callback.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.HandoffStatusEscalated {
		t.Fatalf("expected escalated, got %s", got.Status)
	}
	other, err := env.handoffs.Get(ctx, stop.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if other.Status != domain.HandoffStatusOpen {
		t.Fatalf("stop_contact ticket should still be open, got %s", other.Status)
	}

	escalated, err = env.handoffs.EscalateOverdue(ctx)
	if err != nil {
		t.Fatalf("second EscalateOverdue: %v", err)
	}
	if escalated != 0 {
		t.Fatalf("expected no repeat escalation, got %d", escalated)
	}
}

func TestListOpenOrdersByDueAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.handoffs.Create(ctx, callbackInput("participant-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	urgent, err := env.handoffs.Create(ctx, CreateHandoffInput{
		ParticipantID: "participant-2",
		Reason:        "adverse_event",
		Severity:      domain.SeverityHandoffNow,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tickets, err := env.handoffs.ListOpen(ctx, HandoffListFilter{})
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(tickets) != 2 || tickets[0].ID != urgent.ID {
		t.Fatalf("expected handoff_now first, got %+v", tickets)
	}
}

func TestStopContactForbidsContactPermanently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coordinator := newCoordinator(t, env, "lead@example.org", true)

	allowed, err := env.handoffs.ContactAllowed(ctx, "participant-1")
	if err != nil || !allowed {
		t.Fatalf("expected contact allowed, got %v, %v", allowed, err)
	}
	ticket, err := env.handoffs.Create(ctx, CreateHandoffInput{
		ParticipantID: "participant-1",
		Reason:        "stop_contact",
		Severity:      domain.SeverityStopContact,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.handoffs.Resolve(ctx, ticket.ID, "acknowledged", coordinator.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	allowed, err = env.handoffs.ContactAllowed(ctx, "participant-1")
	if err != nil {
		t.Fatalf("ContactAllowed: %v", err)
	}
	if allowed {
		t.Fatalf("stop_contact must survive resolution")
	}
}
