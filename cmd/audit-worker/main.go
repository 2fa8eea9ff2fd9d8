package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/mongo"
	"github.com/robertarktes/hotel-reservations-admin/internal/adapters/rabbit"
	"github.com/robertarktes/hotel-reservations-admin/internal/config"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the audit worker")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "reservations-audit-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDatabase), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.EventsExchange, cfg.AuditQueue, []string{"reservation.*"})
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	worker := NewAuditWorker(audit, logger)
	worker.Run(ctx, deliveries)
	logger.Info("Shutdown audit worker")
}

type auditStore interface {
	LogEvent(ctx context.Context, messageID string, ev reservations.Event) error
}

const defaultRetryDelay = 2 * time.Second

type AuditWorker struct {
	store      auditStore
	logger     observability.Logger
	retryDelay time.Duration
}

func NewAuditWorker(store auditStore, logger observability.Logger) *AuditWorker {
	return &AuditWorker{store: store, logger: logger, retryDelay: defaultRetryDelay}
}

func (w *AuditWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("delivery channel closed")
				return
			}
			w.handle(ctx, d)
		}
	}
}

// handle acks stored events, drops undecodable ones and requeues the rest
// after a pause, so a store outage does not turn into a redelivery loop.
func (w *AuditWorker) handle(ctx context.Context, d amqp.Delivery) {
	log := w.logger.WithField("message_id", d.MessageId).WithField("routing_key", d.RoutingKey)

	var ev reservations.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.ReservationID == "" {
		log.WithError(err).Error("dropping undecodable reservation event")
		if err := d.Nack(false, false); err != nil {
			log.WithError(err).Error("failed to nack event")
		}
		return
	}

	messageID := d.MessageId
	if messageID == "" {
		messageID = ev.Type + ":" + ev.ReservationID + ":" + ev.OccurredAt.UTC().Format("20060102T150405.000000000")
	}
	if err := w.store.LogEvent(ctx, messageID, ev); err != nil {
		log.WithError(err).WithField("redelivered", d.Redelivered).Error("failed to record reservation event")
		w.backoff(ctx)
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("failed to nack event")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("failed to ack event")
		return
	}
	log.WithField("reservation_id", ev.ReservationID).Debug("reservation event recorded")
}

func (w *AuditWorker) backoff(ctx context.Context) {
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
