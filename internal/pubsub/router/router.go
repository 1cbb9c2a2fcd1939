package router

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pubsub"
)

// Router wraps the watermill message router with our logger and standard
// middlewares.
type Router struct {
	router *message.Router
	logger *logger.Logger
}

func NewRouter(cfg *config.Configuration, log *logger.Logger) (*Router, error) {
	r, err := message.NewRouter(message.RouterConfig{}, pubsub.NewWatermillLogger(log))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create message router").
			Mark(ierr.ErrSystem)
	}

	r.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
	)

	return &Router{router: r, logger: log}, nil
}

// AddNoPublishHandler registers a consume-only handler with optional
// handler-scoped middlewares.
func (r *Router) AddNoPublishHandler(
	handlerName string,
	topic string,
	subscriber pubsub.Subscriber,
	handlerFunc message.NoPublishHandlerFunc,
	middlewares ...message.HandlerMiddleware,
) {
	handler := r.router.AddNoPublisherHandler(handlerName, topic, subscriber, handlerFunc)
	for _, m := range middlewares {
		handler.AddMiddleware(m)
	}
}

// Run starts the router and blocks until the context is cancelled.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

func (r *Router) Close() error {
	return r.router.Close()
}
