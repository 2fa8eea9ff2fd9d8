package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// What Update does when the target reservation does not exist.
const (
	UpdateMissingReject = "reject"
	UpdateMissingIgnore = "ignore"
	UpdateMissingUpsert = "upsert"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend           string        `envconfig:"STORE_BACKEND" default:"mongo"`
	ReservationsCollection string        `envconfig:"RESERVATIONS_COLLECTION" default:"reservations"`
	StoreTimeout           time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	UpdateMissing          string        `envconfig:"UPDATE_MISSING" default:"reject"`

	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"hotel"`

	FirestoreProjectID      string `envconfig:"FIRESTORE_PROJECT_ID"`
	FirebaseCredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	CancelLockTTL  time.Duration `envconfig:"CANCEL_LOCK_TTL" default:"30s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"1h"`

	RabbitURL      string `envconfig:"RABBIT_URL"`
	EventsExchange string `envconfig:"EVENTS_EXCHANGE" default:"reservations.events"`
	AuditQueue     string `envconfig:"AUDIT_QUEUE" default:"reservations.audit"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo backend")
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return errors.Newf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.UpdateMissing {
	case UpdateMissingReject, UpdateMissingIgnore, UpdateMissingUpsert:
	default:
		return errors.Newf("unknown UPDATE_MISSING %q", c.UpdateMissing)
	}
	return nil
}
