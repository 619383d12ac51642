// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"

	QueueMemory = "memory"
	QueueKafka  = "kafka"

	MissingCustomerReject = "reject"
	MissingCustomerAllow  = "allow"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	StoreDriver   string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	StoreTimeout  time.Duration

	QueueDriver    string
	KafkaBrokers   []string
	PublishTimeout time.Duration

	RedisAddr      string
	IdempotencyTTL time.Duration

	TableOrder    string
	TableProduct  string
	TableCustomer string

	TopicOrderNotifications string
	TopicStockUpdates       string

	SagaLogPath       string
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	MissingCustomerPolicy   string
	StrictStatusTransitions bool

	SeedCatalogPath string
	ShutdownTimeout time.Duration

	ServiceName  string
	OTLPEndpoint string
}

// env collects parse failures so Load can report all of them at once.
type env struct {
	errs []error
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) atoi(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a non-negative integer", key, v))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (e *env) ms(key string, def int) time.Duration {
	return time.Duration(e.atoi(key, def)) * time.Millisecond
}

func (e *env) seconds(key string, def int) time.Duration {
	return time.Duration(e.atoi(key, def)) * time.Second
}

func (e *env) oneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(e.str(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	e.errs = append(e.errs, fmt.Errorf("%s: %q must be one of %s", key, v, strings.Join(allowed, ", ")))
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads every setting, applying defaults for unset variables. It fails
// on malformed values and on driver selections missing their connection
// settings.
func Load() (Config, error) {
	e := &env{}
	cfg := Config{
		HTTPAddr: e.str("HTTP_ADDR", ":8080"),
		GRPCAddr: e.str("GRPC_ADDR", ":9090"),
		LogLevel: e.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"),

		StoreDriver:   e.oneOf("STORE_DRIVER", StoreMemory, StoreMemory, StoreSQLite, StoreMongo),
		SQLitePath:    e.str("SQLITE_PATH", "./data/orders.db"),
		MongoURI:      e.str("MONGO_URI", ""),
		MongoDatabase: e.str("MONGO_DATABASE", "retail"),
		StoreTimeout:  e.ms("STORE_TIMEOUT_MS", 5000),

		QueueDriver:    e.oneOf("QUEUE_DRIVER", QueueMemory, QueueMemory, QueueKafka),
		KafkaBrokers:   splitList(e.str("KAFKA_BROKERS", "")),
		PublishTimeout: e.ms("PUBLISH_TIMEOUT_MS", 5000),

		RedisAddr:      e.str("REDIS_ADDR", ""),
		IdempotencyTTL: e.seconds("IDEMPOTENCY_TTL_S", 86400),

		TableOrder:    e.str("TABLE_ORDER", "Order"),
		TableProduct:  e.str("TABLE_PRODUCT", "Product"),
		TableCustomer: e.str("TABLE_CUSTOMER", "Customer"),

		TopicOrderNotifications: e.str("QUEUE_ORDER_NOTIFICATIONS", "order-notifications"),
		TopicStockUpdates:       e.str("QUEUE_STOCK_UPDATES", "stock-updates"),

		SagaLogPath:       e.str("SAGA_LOG_PATH", "./data/placement.db"),
		ReconcileInterval: e.seconds("RECONCILE_INTERVAL_S", 60),
		ReconcileGrace:    e.seconds("RECONCILE_GRACE_S", 120),

		MissingCustomerPolicy:   e.oneOf("MISSING_CUSTOMER_POLICY", MissingCustomerReject, MissingCustomerReject, MissingCustomerAllow),
		StrictStatusTransitions: e.boolean("STRICT_STATUS_TRANSITIONS", false),

		SeedCatalogPath: e.str("SEED_CATALOG_PATH", ""),
		ShutdownTimeout: e.seconds("SHUTDOWN_TIMEOUT_S", 15),

		ServiceName:  e.str("OTEL_SERVICE_NAME", "order-service"),
		OTLPEndpoint: e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.StoreDriver == StoreMongo && cfg.MongoURI == "" {
		e.errs = append(e.errs, errors.New("MONGO_URI is required when STORE_DRIVER=mongo"))
	}
	if cfg.StoreDriver == StoreSQLite && cfg.SQLitePath == "" {
		e.errs = append(e.errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
	}
	if cfg.QueueDriver == QueueKafka && len(cfg.KafkaBrokers) == 0 {
		e.errs = append(e.errs, errors.New("KAFKA_BROKERS is required when QUEUE_DRIVER=kafka"))
	}
	for key, v := range map[string]string{
		"TABLE_ORDER":               cfg.TableOrder,
		"TABLE_PRODUCT":             cfg.TableProduct,
		"TABLE_CUSTOMER":            cfg.TableCustomer,
		"QUEUE_ORDER_NOTIFICATIONS": cfg.TopicOrderNotifications,
		"QUEUE_STOCK_UPDATES":       cfg.TopicStockUpdates,
	} {
		if v == "" {
			e.errs = append(e.errs, fmt.Errorf("%s must not be empty", key))
		}
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
