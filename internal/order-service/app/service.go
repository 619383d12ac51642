package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue"
)

var tracer = otel.Tracer("github.com/jcmexdev/ecommerce-orders/internal/order-service/app")

// Tables names the entity store table of each record kind.
type Tables struct {
	Order    string
	Product  string
	Customer string
}

func DefaultTables() Tables {
	return Tables{
		Order:    domain.OrderPartition,
		Product:  domain.ProductPartition,
		Customer: domain.CustomerPartition,
	}
}

// Topics names the queues events are published to.
type Topics struct {
	OrderNotifications string
	StockUpdates       string
}

func DefaultTopics() Topics {
	return Topics{
		OrderNotifications: "order-notifications",
		StockUpdates:       "stock-updates",
	}
}

// MissingCustomerPolicy decides what placement does when the customer row
// does not exist.
type MissingCustomerPolicy string

const (
	RejectMissingCustomer MissingCustomerPolicy = "reject"
	AllowMissingCustomer  MissingCustomerPolicy = "allow"
)

type Config struct {
	Tables          Tables
	Topics          Topics
	MissingCustomer MissingCustomerPolicy
	// StrictTransitions enables the status transition table.
	StrictTransitions bool
	PublishTimeout    time.Duration
	Now               func() time.Time
	NewID             func() string
}

func (c *Config) setDefaults() {
	if c.Tables == (Tables{}) {
		c.Tables = DefaultTables()
	}
	if c.Topics == (Topics{}) {
		c.Topics = DefaultTopics()
	}
	if c.MissingCustomer == "" {
		c.MissingCustomer = RejectMissingCustomer
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}

// OrderService places orders, changes their status and serves queries.
// It is safe for concurrent use; all coordination happens through etags in
// the entity store.
type OrderService struct {
	store     entitystore.Store
	publisher queue.Publisher
	sagaLog   sagalog.Repository
	cfg       Config
}

// NewOrderService wires the service. sagaLog may be nil.
func NewOrderService(store entitystore.Store, publisher queue.Publisher, sagaLog sagalog.Repository, cfg Config) *OrderService {
	cfg.setDefaults()
	return &OrderService{
		store:     store,
		publisher: publisher,
		sagaLog:   sagaLog,
		cfg:       cfg,
	}
}

// publish sends an event after the store writes committed. It survives
// caller cancellation and never fails the operation.
func (s *OrderService) publish(ctx context.Context, topic, key string, payload any) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pctx, topic, key, payload); err != nil {
		perr := &domain.PublishError{Topic: topic, Err: err}
		slog.WarnContext(ctx, "event publish failed", "topic", topic, "key", key, "error", perr)
	}
}

// storeError translates entity store errors into the domain taxonomy.
func storeError(err error, entity, id string) error {
	switch {
	case errors.Is(err, entitystore.ErrNotFound):
		return &domain.NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, entitystore.ErrConflict):
		return &domain.ConcurrencyConflictError{Entity: entity, ID: id}
	}
	return &domain.UpstreamDependencyError{Dependency: "entity store", Err: err}
}

func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &domain.ValidationError{Field: field, Reason: "is required"}
	}
	return v, nil
}
