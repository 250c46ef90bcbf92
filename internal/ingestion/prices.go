package ingestion

import (
	"context"
	"fmt"
	"time"

	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream       = "SYNTH_PRICES"
	PriceSubject      = "synth.prices.>"
	PriceConsumerName = "synthvault-prices"
)

// PriceSubscriber consumes oracle price updates from JetStream and pushes
// them into the feed registry. Prices bypass the operation pipeline: they
// carry no account state, so last-wins per asset is enough and a missed
// update is superseded by the next one.
type PriceSubscriber struct {
	js       jetstream.JetStream
	registry *oracle.Registry
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, registry *oracle.Registry, metrics *observability.Metrics, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:       js,
		registry: registry,
		metrics:  metrics,
		log:      log.With().Str("component", "price_subscriber").Logger(),
	}
}

// Subscribe creates the durable JetStream consumer and starts delivery.
// Explicit ACK so a crashed process replays undelivered updates; the cached
// feeds' sequence check makes the replay harmless.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       PriceConsumerName,
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", PriceConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		upd, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			// Malformed updates are acked, not redelivered: they will never
			// parse and the next good quote replaces them anyway.
			if ps.metrics != nil {
				ps.metrics.PriceUpdateErrors.Inc()
			}
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed price update")
			msg.Ack()
			return
		}

		ps.registry.Update(upd.Asset, upd.Price, upd.Decimals, upd.Sequence)
		if ps.metrics != nil {
			ps.metrics.PriceUpdates.WithLabelValues(upd.Asset).Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", PriceConsumerName, err)
	}

	ps.consumer = cc
	ps.log.Info().Str("subject", PriceSubject).Msg("subscribed to price updates")
	return nil
}

func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}

// EnsureStreams creates the inbound price stream and the outbound event
// stream if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{PriceSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{"synth.liquidations.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
