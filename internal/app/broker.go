package app

import (
	"context"
	"log"

	"ridebook/internal/config"
	"ridebook/internal/events"
)

// NewEmitter builds the lifecycle event emitter. Events always reach the local
// notification sink; with RABBITMQ_URL set they are also published to the
// exchange. The returned close func is never nil.
func NewEmitter(ctx context.Context, cfg config.EventsConfig, local events.Emitter) (events.Emitter, func(), error) {
	if cfg.RabbitURL == "" {
		log.Println("RABBITMQ_URL not set, lifecycle events stay in-process")
		return local, func() {}, nil
	}

	publisher, err := events.NewRabbitPublisher(ctx, events.RabbitConfig{
		URL:          cfg.RabbitURL,
		Exchange:     cfg.Exchange,
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
	})
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if err := publisher.Close(); err != nil {
			log.Printf("failed to close RabbitMQ publisher: %v", err)
		}
	}
	return events.Fanout{local, publisher}, closeFn, nil
}
