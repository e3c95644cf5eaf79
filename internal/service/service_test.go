package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository/memory"
	"github.com/spec-kit/visit-engine/internal/safety"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store        *memory.Store
	clock        *fakeClock
	broadcaster  *events.Broadcaster
	log          *EventLog
	reservations *ReservationService
	handoffs     *HandoffService
	turns        *TurnService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	clock := &fakeClock{now: baseTime}
	broadcaster := events.NewBroadcaster(events.BroadcasterConfig{SubscriberBuffer: 256}, logger)
	t.Cleanup(broadcaster.Close)

	log := NewEventLog(EventLogDependencies{Store: store, Publisher: broadcaster, Now: clock.Now, Logger: logger})
	reservations := NewReservationService(ReservationDependencies{
		Store:    store,
		EventLog: log,
		Config: config.SchedulingConfig{
			HoldTTL:            10 * time.Minute,
			ConfirmationWindow: 48 * time.Hour,
		},
		Now:    clock.Now,
		Logger: logger,
	})
	handoffs := NewHandoffService(HandoffDependencies{
		Store:    store,
		EventLog: log,
		Config: config.HandoffConfig{
			CallbackSLA:    4 * time.Hour,
			StopContactSLA: 24 * time.Hour,
		},
		Now:    clock.Now,
		Logger: logger,
	})
	rules, err := safety.DefaultRuleSet()
	if err != nil {
		t.Fatalf("DefaultRuleSet: %v", err)
	}
	turns := NewTurnService(TurnDependencies{
		Gate:     safety.NewGate(rules, nil),
		Store:    store,
		EventLog: log,
		Handoffs: handoffs,
		Logger:   logger,
	})
	return &testEnv{
		store:        store,
		clock:        clock,
		broadcaster:  broadcaster,
		log:          log,
		reservations: reservations,
		handoffs:     handoffs,
		turns:        turns,
	}
}

func (e *testEnv) events(t *testing.T) []domain.Event {
	t.Helper()
	list, err := e.log.List(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	return list
}

func (e *testEnv) eventTypes(t *testing.T) []domain.EventType {
	t.Helper()
	var types []domain.EventType
	for _, event := range e.events(t) {
		types = append(types, event.Type)
	}
	return types
}

func slotAt(hour int) domain.Timeslot {
	return domain.Timeslot{
		Start:    time.Date(2026, 3, 9, hour, 0, 0, 0, time.UTC),
		Duration: time.Hour,
	}
}

func holdInput(participantID string, slot domain.Timeslot) HoldInput {
	return HoldInput{TrialID: "trial-7", ParticipantID: participantID, Slot: slot}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !apperrors.HasCode(err, code) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func equalTypes(got, want []domain.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
