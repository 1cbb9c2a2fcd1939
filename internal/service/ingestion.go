package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/meterline/meterline/internal/domain/usage"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/pubsub"
	"github.com/meterline/meterline/internal/pubsub/router"
)

// IngestionService moves raw usage events through kafka and into the
// accumulation and aggregation pipeline.
type IngestionService interface {
	PublishEvent(ctx context.Context, event *usage.Event) error
	ProcessEvent(ctx context.Context, event *usage.Event) (*usage.AggregationResult, error)
	RegisterHandler(r *router.Router)
}

type ingestionService struct {
	ServiceParams
	pubSub      pubsub.PubSub
	accumulator AccumulatorService
	aggregator  AggregatorService
}

func NewIngestionService(
	params ServiceParams,
	pubSub pubsub.PubSub,
	accumulator AccumulatorService,
	aggregator AggregatorService,
) IngestionService {
	return &ingestionService{
		ServiceParams: params,
		pubSub:        pubSub,
		accumulator:   accumulator,
		aggregator:    aggregator,
	}
}

// PublishEvent enqueues a usage event for asynchronous processing. The
// processed time is stamped at intake when the producer left it empty.
func (s *ingestionService) PublishEvent(ctx context.Context, event *usage.Event) error {
	if event.Processed.IsZero() {
		event.Processed = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to serialize usage event").
			Mark(ierr.ErrInternal)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("organization_id", event.OrganizationID)
	msg.Metadata.Set("resource_instance_id", event.ResourceInstanceID)

	if err := s.pubSub.Publish(ctx, s.Config.Ingestion.Topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish usage event").
			WithReportableDetails(map[string]interface{}{
				"event_id": event.ID,
				"topic":    s.Config.Ingestion.Topic,
			}).
			Mark(ierr.ErrSystem)
	}
	return nil
}

// ProcessEvent runs one event through accumulation and aggregation. Duplicate
// events stop after the accumulator detects them.
func (s *ingestionService) ProcessEvent(ctx context.Context, event *usage.Event) (*usage.AggregationResult, error) {
	accResult, err := s.accumulator.Accumulate(ctx, event)
	if err != nil {
		return nil, err
	}
	return s.aggregator.Aggregate(ctx, accResult.Accumulated)
}

// RegisterHandler wires the kafka consumer into the message router with a
// throttle sized by configuration.
func (s *ingestionService) RegisterHandler(r *router.Router) {
	throttle := middleware.NewThrottle(s.Config.Ingestion.RateLimit, time.Second)
	r.AddNoPublishHandler(
		"usage_events_processor",
		s.Config.Ingestion.Topic,
		s.pubSub,
		s.processMessage,
		throttle.Middleware,
	)
}

func (s *ingestionService) processMessage(msg *message.Message) error {
	var event usage.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// malformed payloads never become valid, drop instead of redelivering
		s.Logger.Errorw("dropping unparseable usage event", "message_uuid", msg.UUID, "error", err)
		return nil
	}

	ctx := msg.Context()
	if _, err := s.ProcessEvent(ctx, &event); err != nil {
		if ierr.IsValidation(err) || ierr.IsInvalidAggregation(err) {
			s.Logger.Errorw("dropping unprocessable usage event",
				"event_id", event.ID,
				"organization_id", event.OrganizationID,
				"error", err,
			)
			return nil
		}
		if ierr.IsUpstreamLookup(err) {
			// parked as an error document, replay picks it up once the plan
			// service recovers
			s.Logger.Warnw("usage event parked pending plan lookup",
				"event_id", event.ID,
				"organization_id", event.OrganizationID,
				"error", err,
			)
			return nil
		}
		s.Logger.Errorw("usage event processing failed, will redeliver",
			"event_id", event.ID,
			"organization_id", event.OrganizationID,
			"error", err,
		)
		return err
	}
	return nil
}
