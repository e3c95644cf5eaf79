package handlers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/api/dto"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
	"github.com/spec-kit/visit-engine/internal/service"
)

const (
	maxEventPage      = 500
	defaultEventPage  = 100
	streamHeartbeat   = 15 * time.Second
	lastEventIDHeader = "Last-Event-ID"
)

// EventsHandler serves the event log, its live stream and the dashboard
// projection built from it.
type EventsHandler struct {
	log         *service.EventLog
	broadcaster *events.Broadcaster
	heartbeat   time.Duration
	logger      *zap.Logger
}

// NewEventsHandler constructs handler.
func NewEventsHandler(log *service.EventLog, broadcaster *events.Broadcaster, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{log: log, broadcaster: broadcaster, heartbeat: streamHeartbeat, logger: logger}
}

// List handles GET /v1/console/events?after=&limit=.
func (h *EventsHandler) List(c *fiber.Ctx) error {
	limit := parseInt(c.Query("limit"), defaultEventPage)
	if limit <= 0 || limit > maxEventPage {
		limit = defaultEventPage
	}
	filter := repository.EventFilter{
		AfterSeq: parseInt64(c.Query("after"), 0),
		Limit:    limit,
	}
	if id := c.Query("reservation_id"); id != "" {
		filter.ReservationID = &id
	}
	if id := c.Query("ticket_id"); id != "" {
		filter.TicketID = &id
	}

	page, err := h.log.ListFiltered(c.UserContext(), filter)
	if err != nil {
		return err
	}
	next := filter.AfterSeq
	if len(page) > 0 {
		next = page[len(page)-1].Seq
	}
	if page == nil {
		page = []domain.Event{}
	}
	return c.JSON(fiber.Map{"data": dto.EventPage{
		Events:    page,
		NextAfter: next,
		HasMore:   len(page) == limit,
	}})
}

// Stream handles GET /v1/console/events/stream as server-sent events. It
// subscribes before reading history so nothing committed in between is
// lost, replays history after the cursor, then forwards live events.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	after := parseInt64(c.Query("after"), parseInt64(c.Get(lastEventIDHeader), 0))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	stream := &eventStream{
		history:   h.log,
		sub:       h.broadcaster.Subscribe(),
		encode:    c.App().Config().JSONEncoder,
		heartbeat: h.heartbeat,
		logger:    h.logger,
		cursor:    after,
	}
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.broadcaster.Unsubscribe(stream.sub)
		stream.run(context.Background(), w)
	})
	return nil
}

// eventStream writes one SSE connection. cursor is the last seq written;
// live events at or below it were already sent from history. Whenever the
// subscription drops events, or a live event skips ahead of the cursor,
// the gap is filled from history before anything newer is written.
type eventStream struct {
	history   events.HistorySource
	sub       *events.Subscription
	encode    func(v any) ([]byte, error)
	heartbeat time.Duration
	logger    *zap.Logger
	cursor    int64

	// drops is the subscription's drop count already reconciled.
	drops int64
}

func (s *eventStream) run(ctx context.Context, w *bufio.Writer) {
	if err := s.catchUp(ctx, w); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case event, ok := <-s.sub.Events():
			if !ok {
				return
			}
			if s.lagging() || event.Seq > s.cursor+1 {
				if err := s.catchUp(ctx, w); err != nil {
					return
				}
			}
			if event.Seq <= s.cursor {
				continue
			}
			if err := s.write(w, event); err != nil {
				return
			}
		case <-heartbeat.C:
			if s.lagging() {
				if err := s.catchUp(ctx, w); err != nil {
					return
				}
			}
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

// lagging reports whether the broadcaster dropped events for this stream
// since the last check.
func (s *eventStream) lagging() bool {
	dropped := s.sub.Dropped()
	if dropped == s.drops {
		return false
	}
	s.logger.Info("event stream lagging; re-reading history",
		zap.Uint64("subscription_id", s.sub.ID()),
		zap.Int64("cursor", s.cursor),
		zap.Int64("dropped", dropped-s.drops))
	s.drops = dropped
	return true
}

func (s *eventStream) catchUp(ctx context.Context, w *bufio.Writer) error {
	for {
		page, err := s.history.List(ctx, s.cursor, maxEventPage)
		if err != nil {
			s.logger.Warn("event stream history failed", zap.Error(err))
			return err
		}
		for _, event := range page {
			if err := s.write(w, event); err != nil {
				return err
			}
		}
		if len(page) < maxEventPage {
			return nil
		}
	}
}

func (s *eventStream) write(w *bufio.Writer, event domain.Event) error {
	data, err := s.encode(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	s.cursor = event.Seq
	return nil
}

// Dashboard handles GET /v1/console/dashboard by folding the whole log into
// a fresh projection.
func (h *EventsHandler) Dashboard(c *fiber.Ctx) error {
	projection := events.NewProjection()
	if err := projection.LoadHistory(c.UserContext(), h.log, maxEventPage); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": projection.Snapshot()})
}
