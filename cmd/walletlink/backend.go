package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/config"
	"github.com/layer-3/walletlink/ports"
)

type sharedStorage interface {
	ports.Storage
	ports.ChangeNotifier
}

// backend is storage plus pub/sub, either both Redis or both in memory.
// The bus takes ownership of publisher and subscriber.
type backend struct {
	storage    sharedStorage
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger watermill.LoggerAdapter) (*backend, error) {
	if cfg.RedisURL == "" {
		ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &backend{
			storage:    store.NewMemoryStore(),
			publisher:  ps,
			subscriber: ps,
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach Redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	// no consumer group: every relay sees its own tab stream
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis subscriber: %w", err)
	}

	rs := store.NewRedisStore(client)
	return &backend{
		storage:    rs,
		publisher:  publisher,
		subscriber: subscriber,
		closers:    []func() error{rs.Close},
	}, nil
}

func (b *backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
