package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
)

// EventSource is the slice of the postgres store the poller needs.
type EventSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*store.ReservationEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID int64) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller drains the reservation_events outbox into Kafka. Events stay
// unprocessed until the write succeeds, so a crashed poller re-publishes
// rather than drops; consumers must tolerate duplicates.
type OutboxPoller struct {
	timeout time.Duration
	tick    time.Duration
	source  EventSource
	writer  messageWriter
	logger  *zap.Logger
}

func NewOutboxPoller(source EventSource, logger *zap.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "reservation-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{time.Second * 5, time.Second, source, w, logger}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) publishPending(ctx context.Context) {
	events, err := p.source.GetUnprocessedEvents(ctx, 100)
	if err != nil {
		p.logger.Warn("failed to fetch outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		errPublish := p.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(event.ReservationID),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.Type)},
			},
		})
		cancel()
		if errPublish != nil {
			p.logger.Warn("failed to publish reservation event",
				zap.Int64("event_id", event.ID), zap.Error(errPublish))
			continue
		}

		if errMark := p.source.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			p.logger.Warn("failed to mark event as processed",
				zap.Int64("event_id", event.ID), zap.Error(errMark))
			continue
		}
	}
}
