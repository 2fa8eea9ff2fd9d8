package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	firestoreadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/firestore"
	mongoadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/mongo"
	"github.com/robertarktes/hotel-reservations-admin/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/hotel-reservations-admin/internal/adapters/redis"
	"github.com/robertarktes/hotel-reservations-admin/internal/config"
	"github.com/robertarktes/hotel-reservations-admin/internal/feed"
	httphandler "github.com/robertarktes/hotel-reservations-admin/internal/http"
	"github.com/robertarktes/hotel-reservations-admin/internal/idempotency"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/reservations"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "reservations-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coll, closeStore, err := openCollection(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open reservation store: %v", err)
	}
	defer closeStore()

	var notifier reservations.Notifier
	if cfg.RabbitURL != "" {
		rabbitConn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitConn.Close()
		pub, err := rabbit.NewPublisher(rabbitConn, cfg.EventsExchange)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer pub.Close()
		notifier = pub
	} else {
		logger.Warn("RABBIT_URL not set, reservation events are not published")
	}

	client := reservations.NewClient(coll, notifier, logger, reservations.Options{
		UpdateMissing: reservations.MissingPolicy(cfg.UpdateMissing),
	})
	live := feed.New(coll, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)

	handlers := httphandler.NewHandlers(client, live, redisCache, idemp, cfg.CancelLockTTL, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httphandler.SetupRouter(handlers, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return live.Run(gctx)
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("Server exiting")
}

func openCollection(ctx context.Context, cfg *config.Config, logger observability.Logger) (reservations.Collection, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		fs, err := firestoreadapter.NewClient(ctx, cfg.FirestoreProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		coll := firestoreadapter.NewReservationCollection(fs, cfg.ReservationsCollection, cfg.StoreTimeout, logger)
		return coll, func() { fs.Close() }, nil
	default:
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to mongo")
		}
		db := mongoClient.Database(cfg.MongoDatabase)
		coll := mongoadapter.NewReservationCollection(db, cfg.ReservationsCollection, cfg.StoreTimeout, logger)
		return coll, func() { mongoClient.Disconnect(context.Background()) }, nil
	}
}
