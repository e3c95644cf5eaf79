package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SCHEDULING_HOLD_TTL", "")
	t.Setenv("HANDOFF_CALLBACK_SLA", "")

	cfg, err := Load("does-not-exist.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduling.HoldTTL != 10*time.Minute {
		t.Fatalf("expected default hold ttl, got %s", cfg.Scheduling.HoldTTL)
	}
	if cfg.Handoff.CallbackSLA != 4*time.Hour {
		t.Fatalf("expected default callback sla, got %s", cfg.Handoff.CallbackSLA)
	}
	if cfg.Notification.MaxAttempts != 5 || cfg.Notification.LeaseTTL != time.Minute {
		t.Fatalf("unexpected follow-up retry defaults: %+v", cfg.Notification)
	}
	if cfg.Broadcast.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s feed poll, got %s", cfg.Broadcast.PollInterval)
	}
}

func TestLoadDurationsFromEnv(t *testing.T) {
	t.Setenv("SCHEDULING_HOLD_TTL", "90s")
	t.Setenv("SCHEDULING_CONFIRMATION_WINDOW", "2h")
	t.Setenv("HANDOFF_STOP_CONTACT_SLA", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduling.HoldTTL != 90*time.Second {
		t.Fatalf("expected 90s hold ttl, got %s", cfg.Scheduling.HoldTTL)
	}
	if cfg.Scheduling.ConfirmationWindow != 2*time.Hour {
		t.Fatalf("expected 2h window, got %s", cfg.Scheduling.ConfirmationWindow)
	}
	if cfg.Handoff.StopContactSLA != 24*time.Hour {
		t.Fatalf("invalid duration should fall back, got %s", cfg.Handoff.StopContactSLA)
	}
}

func TestLoadRejectsNonPositiveHoldTTL(t *testing.T) {
	t.Setenv("SCHEDULING_HOLD_TTL", "-1m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative hold ttl")
	}
}
