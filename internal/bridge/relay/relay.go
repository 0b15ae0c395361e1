// Package relay consumes the executor's asynchronous lifecycle and domain
// events, projects connection-state changes into persisted channel status, and
// forwards everything to scoped real-time rooms.
//
// Ordering note: the relay processes events in the order the transport
// delivers them and keeps no reorder buffer. Per-topic ordering is therefore a
// documented precondition of the chosen transport, not something the relay
// defends against.
package relay

import (
	"context"
	sterrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/chatbridge/internal/bridge/config"
	"github.com/drblury/chatbridge/internal/bridge/errors"
	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
	"github.com/drblury/chatbridge/internal/bridge/logging"
	"github.com/drblury/chatbridge/internal/bridge/topics"
)

// Relay owns the event-consuming router. Create one per process with NewRelay,
// then Run it.
type Relay struct {
	router      *message.Router
	status      StatusStore
	forwarder   Forwarder
	logger      logging.ServiceLogger
	tracer      trace.Tracer
	eventsTopic string

	// metricsServer exposes /metrics when Config.MetricsPort is set.
	metricsServer *http.Server

	// now is swapped in tests to pin lastConnectedAt.
	now func() time.Time
}

// NewRelay wires the router, middlewares, and the single events handler.
func NewRelay(subscriber message.Subscriber, status StatusStore, forwarder Forwarder, logger logging.ServiceLogger, cfg *config.Config) (*Relay, error) {
	if subscriber == nil {
		return nil, errors.ErrSubscriberRequired
	}
	if status == nil {
		return nil, errors.ErrStoreRequired
	}
	if forwarder == nil {
		return nil, errors.ErrForwarderRequired
	}
	if logger == nil {
		return nil, errors.ErrLoggerRequired
	}
	if cfg == nil {
		return nil, errors.ErrConfigRequired
	}

	eventsTopic := cfg.EventsTopic
	if eventsTopic == "" {
		eventsTopic = topics.DefaultEventsTopic
	}

	wmLogger := logging.NewWatermillAdapter(logger)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
	)

	r := &Relay{
		router:      router,
		status:      status,
		forwarder:   forwarder,
		logger:      logger.With(logging.LogFields{"component": "relay"}),
		tracer:      otel.Tracer("github.com/drblury/chatbridge/relay"),
		eventsTopic: eventsTopic,
		now:         time.Now,
	}

	if cfg.MetricsEnabled {
		builder := metrics.NewPrometheusMetricsBuilder(prometheus.DefaultRegisterer, "chatbridge", "relay")
		builder.AddPrometheusRouterMetrics(router)

		if cfg.MetricsPort > 0 {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			r.metricsServer = &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
				Handler: mux,
			}
		}
	}

	router.AddNoPublisherHandler(
		"channel_events",
		eventsTopic,
		subscriber,
		r.handleEvent,
	)

	return r, nil
}

// Run blocks consuming events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.metricsServer != nil {
		go func() {
			if err := r.metricsServer.ListenAndServe(); err != nil && !sterrors.Is(err, http.ErrServerClosed) {
				r.logger.Error("Metrics server stopped", err, nil)
			}
		}()
		defer r.metricsServer.Close()
	}
	return r.router.Run(ctx)
}

// Running is closed once the router's handlers are up. Tests and callers that
// publish immediately after starting the relay should wait on it.
func (r *Relay) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router and the metrics listener.
func (r *Relay) Close() error {
	if r.metricsServer != nil {
		_ = r.metricsServer.Close()
	}
	return r.router.Close()
}

func (r *Relay) handleEvent(msg *message.Message) error {
	var event ChannelEvent
	if err := jsoncodec.Unmarshal(msg.Payload, &event); err != nil {
		// A poison payload would loop forever on nack; drop it.
		r.logger.Error("Dropping undecodable event", err, logging.LogFields{"uuid": msg.UUID})
		return nil
	}
	if event.ChannelID == "" && event.Kind != EventDomain {
		r.logger.Error("Dropping event without channel id", nil, logging.LogFields{"kind": string(event.Kind)})
		return nil
	}

	ctx, span := r.tracer.Start(msg.Context(), "relay."+string(event.Kind), trace.WithAttributes(
		attribute.String("chatbridge.event_kind", string(event.Kind)),
		attribute.String("chatbridge.channel_id", event.ChannelID),
	))
	defer span.End()

	eventsProcessed.WithLabelValues(string(event.Kind)).Inc()

	switch event.Kind {
	case EventConnected:
		return r.handleConnected(ctx, event)
	case EventDisconnected:
		return r.handleDisconnected(ctx, event)
	case EventDomain:
		return r.forwarder.Forward(ctx, topics.OrgRoom(event.OrgID), event)
	default:
		// qr-issued and any future ephemeral kinds: forward only, nothing to
		// persist.
		return r.forwardToRooms(ctx, event)
	}
}

func (r *Relay) handleConnected(ctx context.Context, event ChannelEvent) error {
	if err := r.status.MarkConnected(ctx, event.ChannelID, event.AccountHandle, r.now()); err != nil {
		if r.dropIfUnknown(err, event) {
			return nil
		}
		return err
	}
	return r.forwardToRooms(ctx, event)
}

func (r *Relay) handleDisconnected(ctx context.Context, event ChannelEvent) error {
	if err := r.status.MarkDisconnected(ctx, event.ChannelID); err != nil {
		if r.dropIfUnknown(err, event) {
			return nil
		}
		return err
	}
	return r.forwardToRooms(ctx, event)
}

// dropIfUnknown absorbs ErrChannelUnknown: the event raced the channel's
// deletion, which is not a failure.
func (r *Relay) dropIfUnknown(err error, event ChannelEvent) bool {
	if sterrors.Is(err, ErrChannelUnknown) {
		r.logger.Info("Dropping event for unknown channel", logging.LogFields{
			"channelID": event.ChannelID,
			"kind":      string(event.Kind),
		})
		eventsDropped.WithLabelValues(string(event.Kind)).Inc()
		return true
	}
	return false
}

func (r *Relay) forwardToRooms(ctx context.Context, event ChannelEvent) error {
	if err := r.forwarder.Forward(ctx, topics.ChannelRoom(event.ChannelID), event); err != nil {
		return err
	}
	if event.OrgID == "" {
		return nil
	}
	return r.forwarder.Forward(ctx, topics.OrgRoom(event.OrgID), event)
}
