package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
)

// FollowUp asks the communications collaborator to contact a participant.
type FollowUp struct {
	EventID       string    `json:"event_id"`
	ReservationID string    `json:"reservation_id"`
	ParticipantID string    `json:"participant_id"`
	TrialID       string    `json:"trial_id"`
	Reason        string    `json:"reason"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Communicator delivers follow-up requests to the outbound channel. The
// event id is stable across redeliveries and serves as idempotency key.
type Communicator interface {
	RequestFollowUp(ctx context.Context, followUp FollowUp) error
}

// ContactPolicy decides whether automated contact is still permitted.
type ContactPolicy interface {
	ContactAllowed(ctx context.Context, participantID string) (bool, error)
}

// NotificationService turns followup_requested events into communicator
// calls, honoring stop_contact.
type NotificationService struct {
	policy       ContactPolicy
	communicator Communicator
	logger       *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(policy ContactPolicy, communicator Communicator, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		policy:       policy,
		communicator: communicator,
		logger:       logger,
	}
}

// HandleEvent processes one event. Non follow-up events are ignored;
// suppressed follow-ups return nil so the caller moves on.
func (n *NotificationService) HandleEvent(ctx context.Context, event domain.Event) error {
	if event.Type != domain.EventFollowUpRequested {
		return nil
	}
	var payload events.FollowUpPayload
	if err := events.Decode(event, &payload); err != nil {
		n.logger.Error("malformed follow-up payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	allowed, err := n.policy.ContactAllowed(ctx, payload.ParticipantID)
	if err != nil {
		return fmt.Errorf("check contact policy: %w", err)
	}
	if !allowed {
		n.logger.Info("follow-up suppressed by stop_contact",
			zap.String("event_id", event.ID),
			zap.String("participant_id", payload.ParticipantID))
		return nil
	}

	return n.communicator.RequestFollowUp(ctx, FollowUp{
		EventID:       event.ID,
		ReservationID: payload.ReservationID,
		ParticipantID: payload.ParticipantID,
		TrialID:       payload.TrialID,
		Reason:        payload.Reason,
		RequestedAt:   event.CreatedAt,
	})
}

// NewCommunicator picks the webhook communicator when a URL is configured.
func NewCommunicator(cfg config.NotificationConfig, logger *zap.Logger) Communicator {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return &LogCommunicator{logger: logger}
	}
	return NewWebhookCommunicator(cfg.WebhookURL, cfg.WebhookTimeout)
}

// LogCommunicator records follow-ups in the log only.
type LogCommunicator struct {
	logger *zap.Logger
}

func (c *LogCommunicator) RequestFollowUp(_ context.Context, followUp FollowUp) error {
	c.logger.Info("follow-up requested",
		zap.String("event_id", followUp.EventID),
		zap.String("reservation_id", followUp.ReservationID),
		zap.String("participant_id", followUp.ParticipantID),
		zap.String("reason", followUp.Reason))
	return nil
}

// WebhookCommunicator posts follow-ups as JSON.
type WebhookCommunicator struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

// NewWebhookCommunicator builds a communicator posting to url.
func NewWebhookCommunicator(url string, timeout time.Duration) *WebhookCommunicator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookCommunicator{
		client:  &fasthttp.Client{Name: "visit-engine"},
		url:     url,
		timeout: timeout,
	}
}

func (c *WebhookCommunicator) RequestFollowUp(ctx context.Context, followUp FollowUp) error {
	body, err := json.Marshal(followUp)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Idempotency-Key", followUp.EventID)
	req.SetBody(body)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("post follow-up: %w", err)
	}
	if status := resp.StatusCode(); status >= fasthttp.StatusMultipleChoices {
		return fmt.Errorf("post follow-up: unexpected status %d", status)
	}
	return nil
}

// DeliveryFailures records events the notification worker gave up on, so
// the failure stays visible in the log after the worker moves past it.
type DeliveryFailures struct {
	log *EventLog
}

// NewDeliveryFailures builds the recorder.
func NewDeliveryFailures(log *EventLog) *DeliveryFailures {
	return &DeliveryFailures{log: log}
}

// RecordDeliveryFailure appends followup_failed for event. Repeating it for
// the same event is a no-op.
func (d *DeliveryFailures) RecordDeliveryFailure(ctx context.Context, event domain.Event, attempts int, cause error) error {
	payload := events.FollowUpFailedPayload{
		EventID:  event.ID,
		EventSeq: event.Seq,
		Attempts: attempts,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if event.Links.ReservationID != nil {
		payload.ReservationID = *event.Links.ReservationID
	}
	if event.Links.ParticipantID != nil {
		payload.ParticipantID = *event.Links.ParticipantID
	}
	_, err := d.log.Append(ctx, AppendInput{
		Type:           domain.EventFollowUpFailed,
		Payload:        payload,
		IdempotencyKey: "delivery:" + event.ID + ":failed",
		Provenance:     domain.ProvenanceSystem,
		Links:          event.Links,
	})
	return err
}
