package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
	entitysqlite "github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore/sqlite"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue"
)

// hookStore lets a test interfere with writes before they reach the store.
type hookStore struct {
	entitystore.Store
	beforePut func(table string, e entitystore.Entity, expected entitystore.ETag) error
}

func (h *hookStore) Put(ctx context.Context, table string, e entitystore.Entity, expected entitystore.ETag) (entitystore.ETag, error) {
	if h.beforePut != nil {
		if err := h.beforePut(table, e, expected); err != nil {
			return "", err
		}
	}
	return h.Store.Put(ctx, table, e, expected)
}

type OrderServiceSuite struct {
	suite.Suite
	openStore func() entitystore.Store
	ctx       context.Context
	store     *hookStore
	publisher *queue.Memory
	sagaLog   *sagalog.MemoryRepository
	svc       *OrderService
	clock     time.Time
	ids       int
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func TestOrderServiceSuite_SQLite(t *testing.T) {
	s := new(OrderServiceSuite)
	s.openStore = func() entitystore.Store {
		store, err := entitysqlite.Open(filepath.Join(s.T().TempDir(), "orders.db"))
		s.Require().NoError(err)
		s.T().Cleanup(func() { _ = store.Close() })
		return store
	}
	suite.Run(t, s)
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	if s.openStore != nil {
		s.store = &hookStore{Store: s.openStore()}
	} else {
		s.store = &hookStore{Store: entitystore.NewMemory()}
	}
	s.publisher = queue.NewMemory()
	s.sagaLog = sagalog.NewMemoryRepository()
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ids = 0
	s.svc = s.newService(Config{})

	s.putCustomer(domain.Customer{ID: "C1", Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"})
	s.putProduct(domain.Product{ID: "P1", ProductName: "Pen", Price: domain.MustMoney("20.00"), StockAvailable: 10})
}

func (s *OrderServiceSuite) newService(cfg Config) *OrderService {
	cfg.Now = func() time.Time {
		s.clock = s.clock.Add(time.Second)
		return s.clock
	}
	cfg.NewID = func() string {
		s.ids++
		return fmt.Sprintf("O%d", s.ids)
	}
	return NewOrderService(s.store, s.publisher, s.sagaLog, cfg)
}

func (s *OrderServiceSuite) putCustomer(c domain.Customer) {
	_, err := entitystore.PutAs(s.ctx, s.store, "Customer", domain.CustomerPartition, c.ID, c, entitystore.IfAbsent)
	s.Require().NoError(err)
}

func (s *OrderServiceSuite) putProduct(p domain.Product) {
	_, err := entitystore.PutAs(s.ctx, s.store, "Product", domain.ProductPartition, p.ID, p, entitystore.IfAbsent)
	s.Require().NoError(err)
}

func (s *OrderServiceSuite) setStock(id string, stock int) {
	p, tag, err := entitystore.GetAs[domain.Product](s.ctx, s.store, "Product", domain.ProductPartition, id)
	s.Require().NoError(err)
	p.StockAvailable = stock
	_, err = entitystore.PutAs(s.ctx, s.store, "Product", domain.ProductPartition, id, p, tag)
	s.Require().NoError(err)
}

func (s *OrderServiceSuite) product(id string) domain.Product {
	p, _, err := entitystore.GetAs[domain.Product](s.ctx, s.store, "Product", domain.ProductPartition, id)
	s.Require().NoError(err)
	return p
}

// putRawProduct seeds a product document as another service would write it.
func (s *OrderServiceSuite) putRawProduct(id, doc string) {
	row := entitystore.Entity{PartitionKey: domain.ProductPartition, RowKey: id, Data: []byte(doc)}
	_, err := s.store.Put(s.ctx, "Product", row, entitystore.IfAbsent)
	s.Require().NoError(err)
}

func (s *OrderServiceSuite) rawProduct(id string) map[string]json.RawMessage {
	row, err := s.store.Get(s.ctx, "Product", domain.ProductPartition, id)
	s.Require().NoError(err)
	var fields map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(row.Data, &fields))
	return fields
}

func (s *OrderServiceSuite) orderCount() int {
	orders, err := s.svc.ListOrders(s.ctx)
	s.Require().NoError(err)
	return len(orders)
}

func decode[T any](s *OrderServiceSuite, msg queue.Message) T {
	var v T
	s.Require().NoError(json.Unmarshal(msg.Body, &v))
	return v
}

func (s *OrderServiceSuite) TestPlaceOrder_ScenarioA() {
	order, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 4)
	s.Require().NoError(err)

	s.Equal("O1", order.ID)
	s.Equal("C1", order.CustomerID)
	s.Equal("P1", order.ProductID)
	s.Equal("Pen", order.ProductName)
	s.Equal(4, order.Quantity)
	s.Equal("20.00", order.UnitPrice.String())
	s.Equal("80.00", order.TotalAmount().String())
	s.Equal(domain.StatusSubmitted, order.Status)
	s.Equal(time.UTC, order.OrderDateUTC.Location())
	s.Equal(6, s.product("P1").StockAvailable)

	created := s.publisher.Messages("order-notifications")
	s.Require().Len(created, 1)
	s.Equal("O1", created[0].Key)
	ev := decode[domain.OrderCreated](s, created[0])
	s.Equal(domain.EventOrderCreated, ev.Type)
	s.Equal("Ada Lovelace", ev.CustomerName)
	s.Equal("80.00", ev.TotalAmount.String())
	s.Equal(domain.StatusSubmitted, ev.Status)

	stock := s.publisher.Messages("stock-updates")
	s.Require().Len(stock, 1)
	su := decode[domain.StockUpdated](s, stock[0])
	s.Equal(domain.EventStockUpdated, su.Type)
	s.Equal(10, su.PreviousStock)
	s.Equal(6, su.NewStock)
	s.Equal(domain.UpdatedByOrderSystem, su.UpdatedBy)

	latest, err := s.sagaLog.GetLatest(s.ctx, "O1")
	s.Require().NoError(err)
	s.Equal(sagalog.StatusCompleted, latest.Status)
}

func (s *OrderServiceSuite) TestPlaceOrder_ScenarioB_InsufficientStockIsNoOp() {
	s.setStock("P1", 3)

	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 5)

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(3, stockErr.Available)
	s.Equal(5, stockErr.Requested)
	s.Equal(3, s.product("P1").StockAvailable)
	s.Zero(s.orderCount())
	s.Empty(s.publisher.Messages(""))
}

func (s *OrderServiceSuite) TestPlaceOrder_Validation() {
	cases := []struct {
		customer, product string
		quantity          int
		field             string
	}{
		{"", "P1", 1, "customerId"},
		{"   ", "P1", 1, "customerId"},
		{"C1", "", 1, "productId"},
		{"C1", "\t", 1, "productId"},
		{"C1", "P1", 0, "quantity"},
		{"C1", "P1", -2, "quantity"},
	}
	for _, c := range cases {
		_, err := s.svc.PlaceOrder(s.ctx, c.customer, c.product, c.quantity)
		var verr *domain.ValidationError
		s.Require().ErrorAs(err, &verr, "%+v", c)
		s.Equal(c.field, verr.Field)
	}
	s.Equal(10, s.product("P1").StockAvailable)
	s.Zero(s.orderCount())
}

func (s *OrderServiceSuite) TestPlaceOrder_TrimsIdentifiers() {
	order, err := s.svc.PlaceOrder(s.ctx, " C1 ", "P1\n", 1)
	s.Require().NoError(err)
	s.Equal("C1", order.CustomerID)
	s.Equal("P1", order.ProductID)
}

func (s *OrderServiceSuite) TestPlaceOrder_UnknownCustomerRejected() {
	_, err := s.svc.PlaceOrder(s.ctx, "nobody", "P1", 1)

	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("Customer", nf.Entity)
	s.Equal(10, s.product("P1").StockAvailable)
}

func (s *OrderServiceSuite) TestPlaceOrder_UnknownCustomerAllowedByPolicy() {
	svc := s.newService(Config{MissingCustomer: AllowMissingCustomer})

	order, err := svc.PlaceOrder(s.ctx, "walk-in", "P1", 1)
	s.Require().NoError(err)
	s.Equal("walk-in", order.CustomerID)

	ev := decode[domain.OrderCreated](s, s.publisher.Messages("order-notifications")[0])
	s.Equal("walk-in", ev.CustomerID)
	s.Empty(ev.CustomerName)
}

func (s *OrderServiceSuite) TestPlaceOrder_UnknownProduct() {
	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P404", 1)

	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("Product", nf.Entity)
	s.Equal("P404", nf.ID)
}

func (s *OrderServiceSuite) TestPlaceOrder_ReadAfterWrite() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 2)
	s.Require().NoError(err)

	got, err := s.svc.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal(placed.CustomerID, got.CustomerID)
	s.Equal(placed.ProductID, got.ProductID)
	s.Equal(placed.Quantity, got.Quantity)
	s.Equal(domain.StatusSubmitted, got.Status)
	s.True(placed.OrderDateUTC.Equal(got.OrderDateUTC))
}

func (s *OrderServiceSuite) TestPlaceOrder_PriceIsSnapshot() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 3)
	s.Require().NoError(err)

	p, tag, err := entitystore.GetAs[domain.Product](s.ctx, s.store, "Product", domain.ProductPartition, "P1")
	s.Require().NoError(err)
	p.Price = domain.MustMoney("99.99")
	p.ProductName = "Fountain Pen"
	_, err = entitystore.PutAs(s.ctx, s.store, "Product", domain.ProductPartition, "P1", p, tag)
	s.Require().NoError(err)

	got, err := s.svc.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal("Pen", got.ProductName)
	s.Equal("20.00", got.UnitPrice.String())
	s.Equal("60.00", got.TotalAmount().String())
}

func (s *OrderServiceSuite) TestPlaceOrder_StockNeverNegative() {
	s.setStock("P1", 7)
	placed := 0
	for range 10 {
		_, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 2)
		if err == nil {
			placed++
			continue
		}
		s.ErrorIs(err, domain.ErrInsufficientStock)
	}
	s.Equal(3, placed)
	s.Equal(1, s.product("P1").StockAvailable)
}

func (s *OrderServiceSuite) TestPlaceOrder_PublishFailureIsNotFatal() {
	s.publisher.FailWith(errors.New("broker unreachable"))

	order, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 4)
	s.Require().NoError(err)
	s.Equal(6, s.product("P1").StockAvailable)

	_, err = s.svc.GetOrder(s.ctx, order.ID)
	s.NoError(err)
}

func (s *OrderServiceSuite) TestPlaceOrder_StockConflictLeavesNoOrder() {
	raced := false
	s.store.beforePut = func(table string, e entitystore.Entity, expected entitystore.ETag) error {
		if table != "Product" || raced {
			return nil
		}
		raced = true
		// Another writer restocks between our read and our write.
		s.setStock("P1", 12)
		return nil
	}

	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 4)

	var conflict *domain.ConcurrencyConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal("Product", conflict.Entity)
	s.Equal(12, s.product("P1").StockAvailable)
	s.Zero(s.orderCount())
	s.Empty(s.publisher.Messages(""))

	latest, err := s.sagaLog.GetLatest(s.ctx, "O1")
	s.Require().NoError(err)
	s.Equal(sagalog.StatusCompensated, latest.Status)
}

func (s *OrderServiceSuite) TestPlaceOrder_OrderWriteFailureRestoresStock() {
	s.store.beforePut = func(table string, _ entitystore.Entity, _ entitystore.ETag) error {
		if table == "Order" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 4)

	s.ErrorIs(err, domain.ErrUpstream)
	s.Equal(10, s.product("P1").StockAvailable)
	s.Zero(s.orderCount())

	latest, err := s.sagaLog.GetLatest(s.ctx, "O1")
	s.Require().NoError(err)
	s.Equal(sagalog.StatusCompensated, latest.Status)
	s.Equal(persistOrderStepName, latest.CurrentStep)
}

func (s *OrderServiceSuite) TestPlaceOrder_SagaLogUnavailable() {
	svc := NewOrderService(s.store, s.publisher, &failingLog{}, Config{})

	_, err := svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.ErrorIs(err, domain.ErrUpstream)
	s.Equal(10, s.product("P1").StockAvailable)
}

func (s *OrderServiceSuite) TestUpdateStatus_ScenarioC() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.Require().NoError(err)

	updated, err := s.svc.UpdateStatus(s.ctx, placed.ID, domain.StatusCompleted)
	s.Require().NoError(err)
	s.Equal(domain.StatusCompleted, updated.Status)

	expected := placed
	expected.Status = domain.StatusCompleted
	got, err := s.svc.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal(expected.CustomerID, got.CustomerID)
	s.Equal(expected.ProductName, got.ProductName)
	s.Equal(expected.Quantity, got.Quantity)
	s.True(expected.UnitPrice.Equal(got.UnitPrice.Decimal))
	s.True(expected.OrderDateUTC.Equal(got.OrderDateUTC))
	s.Equal(domain.StatusCompleted, got.Status)

	msgs := s.publisher.Messages("order-notifications")
	s.Require().Len(msgs, 2)
	ev := decode[domain.OrderStatusUpdated](s, msgs[1])
	s.Equal(domain.EventOrderStatusUpdated, ev.Type)
	s.Equal(domain.StatusSubmitted, ev.PreviousStatus)
	s.Equal(domain.StatusCompleted, ev.NewStatus)
	s.Equal(domain.UpdatedBySystem, ev.UpdatedBy)
}

func (s *OrderServiceSuite) TestUpdateStatus_OpenByDefault() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.Require().NoError(err)

	_, err = s.svc.UpdateStatus(s.ctx, placed.ID, domain.StatusCompleted)
	s.Require().NoError(err)
	got, err := s.svc.UpdateStatus(s.ctx, placed.ID, domain.StatusSubmitted)
	s.Require().NoError(err)
	s.Equal(domain.StatusSubmitted, got.Status)
}

func (s *OrderServiceSuite) TestUpdateStatus_StrictTransitions() {
	svc := s.newService(Config{StrictTransitions: true})
	placed, err := svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.Require().NoError(err)

	_, err = svc.UpdateStatus(s.ctx, placed.ID, domain.StatusCompleted)
	s.Require().NoError(err)

	_, err = svc.UpdateStatus(s.ctx, placed.ID, domain.StatusSubmitted)
	s.ErrorIs(err, domain.ErrValidation)

	got, err := svc.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusCompleted, got.Status)
}

func (s *OrderServiceSuite) TestUpdateStatus_Errors() {
	_, err := s.svc.UpdateStatus(s.ctx, "O404", domain.StatusCompleted)
	s.ErrorIs(err, domain.ErrNotFound)

	_, err = s.svc.UpdateStatus(s.ctx, "O1", "  ")
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *OrderServiceSuite) TestUpdateStatus_Conflict() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.Require().NoError(err)

	s.store.beforePut = func(table string, _ entitystore.Entity, _ entitystore.ETag) error {
		if table != "Order" {
			return nil
		}
		s.store.beforePut = nil
		_, err := s.svc.UpdateStatus(s.ctx, placed.ID, domain.StatusCancelled)
		return err
	}

	_, err = s.svc.UpdateStatus(s.ctx, placed.ID, domain.StatusCompleted)
	s.ErrorIs(err, domain.ErrConcurrencyConflict)

	got, err := s.svc.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusCancelled, got.Status)
}

func (s *OrderServiceSuite) TestDeleteOrder_ScenarioD() {
	placed, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 1)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.DeleteOrder(s.ctx, placed.ID))
	_, err = s.svc.GetOrder(s.ctx, placed.ID)
	s.ErrorIs(err, domain.ErrNotFound)

	s.NoError(s.svc.DeleteOrder(s.ctx, placed.ID), "delete is idempotent")
}

func (s *OrderServiceSuite) TestListOrders_NewestFirst() {
	for range 3 {
		_, err := s.svc.PlaceOrder(s.ctx, "C1", "P1", 1)
		s.Require().NoError(err)
	}

	orders, err := s.svc.ListOrders(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(orders, 3)
	s.Equal([]string{"O3", "O2", "O1"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
}

func (s *OrderServiceSuite) TestListOrders_Empty() {
	orders, err := s.svc.ListOrders(s.ctx)
	s.Require().NoError(err)
	s.NotNil(orders)
	s.Empty(orders)
}

const fountainPen = `{"productName":"Fountain pen","price":19.999,"stockAvailable":10,"imageUrl":"https://cdn/pen.png"}`

func (s *OrderServiceSuite) TestPlaceOrder_KeepsProductFieldsItDoesNotModel() {
	s.putRawProduct("P2", fountainPen)

	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P2", 3)
	s.Require().NoError(err)

	fields := s.rawProduct("P2")
	s.Equal("7", string(fields["stockAvailable"]))
	s.Equal("19.999", string(fields["price"]))
	s.Equal(`"https://cdn/pen.png"`, string(fields["imageUrl"]))
	s.Equal(`"Fountain pen"`, string(fields["productName"]))
}

func (s *OrderServiceSuite) TestPlaceOrder_CompensationKeepsProductFieldsItDoesNotModel() {
	s.putRawProduct("P2", fountainPen)
	s.store.beforePut = func(table string, _ entitystore.Entity, _ entitystore.ETag) error {
		if table == "Order" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.svc.PlaceOrder(s.ctx, "C1", "P2", 3)
	s.ErrorIs(err, domain.ErrUpstream)

	fields := s.rawProduct("P2")
	s.Equal("10", string(fields["stockAvailable"]))
	s.Equal("19.999", string(fields["price"]))
	s.Equal(`"https://cdn/pen.png"`, string(fields["imageUrl"]))
}

func (s *OrderServiceSuite) TestPlaceOrder_StoredOrderKeepsFullPrecision() {
	s.putRawProduct("P2", fountainPen)

	order, err := s.svc.PlaceOrder(s.ctx, "C1", "P2", 3)
	s.Require().NoError(err)
	s.Equal("19.999", order.UnitPrice.Decimal.String())

	stored, _, err := entitystore.GetAs[domain.Order](s.ctx, s.store, "Order", domain.OrderPartition, order.ID)
	s.Require().NoError(err)
	s.Equal("19.999", stored.UnitPrice.Decimal.String())
	s.Equal("59.997", stored.TotalAmount().Decimal.String())

	got, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(order.UnitPrice.Equal(got.UnitPrice.Decimal), "a read returns what the placement returned")

	created := s.publisher.Messages("order-notifications")
	s.Require().Len(created, 1)
	s.Contains(string(created[0].Body), `"unitPrice":20.00`)
	s.Contains(string(created[0].Body), `"totalAmount":60.00`)
}

func (s *OrderServiceSuite) TestPlaceOrder_CompensationMarksRestoreBeforeWriting() {
	s.store.beforePut = func(table string, _ entitystore.Entity, _ entitystore.ETag) error {
		if table == "Order" {
			return errors.New("disk full")
		}
		return nil
	}
	before, err := s.store.Get(s.ctx, "Product", domain.ProductPartition, "P1")
	s.Require().NoError(err)

	_, err = s.svc.PlaceOrder(s.ctx, "C1", "P1", 4)
	s.Require().Error(err)

	var statuses []sagalog.Status
	var marker sagalog.SagaLog
	for _, e := range s.sagaLog.History("O1") {
		statuses = append(statuses, e.Status)
		if e.Status == sagalog.StatusRestoring {
			marker = e
		}
	}
	s.Equal([]sagalog.Status{
		sagalog.StatusStarted,
		sagalog.StatusStepDone,
		sagalog.StatusCompensating,
		sagalog.StatusRestoring,
		sagalog.StatusCompensated,
	}, statuses)
	s.Equal(reserveStockStepName, marker.CurrentStep)
	s.NotEmpty(marker.Checkpoint)
	s.NotEqual(string(before.ETag), marker.Checkpoint, "the marker names the row after the reservation")
}

// A crash right after the restore write loses the COMPENSATED row. The next
// reconciliation must not give the stock back a second time.
func (s *OrderServiceSuite) TestReconciler_DoesNotRestoreTwiceAfterCrash() {
	log := &droppingLog{MemoryRepository: sagalog.NewMemoryRepository(), drop: sagalog.StatusCompensated}
	svc := NewOrderService(s.store, s.publisher, log, Config{})
	s.store.beforePut = func(table string, _ entitystore.Entity, _ entitystore.ETag) error {
		if table == "Order" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := svc.PlaceOrder(s.ctx, "C1", "P1", 4)
	s.Require().Error(err)
	s.Equal(10, s.product("P1").StockAvailable)

	rec := NewReconciler(s.store, log, ReconcilerConfig{
		Grace: time.Minute,
		Now:   func() time.Time { return time.Now().UTC().Add(time.Hour) },
	})
	report, err := rec.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(ReconcileReport{Examined: 1, AlreadyRestored: 1}, report)
	s.Equal(10, s.product("P1").StockAvailable)

	report, err = rec.Run(s.ctx)
	s.Require().NoError(err)
	s.Zero(report.Examined)
}

// droppingLog loses every row of one status, as a crash right before that
// write would.
type droppingLog struct {
	*sagalog.MemoryRepository
	drop sagalog.Status
}

func (l *droppingLog) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	if entry.Status == l.drop {
		return nil
	}
	return l.MemoryRepository.Save(ctx, entry)
}

type failingLog struct{ sagalog.MemoryRepository }

func (*failingLog) Save(context.Context, *sagalog.SagaLog) error { return errors.New("log offline") }

// Two buyers race for the last units: exactly one wins.
func TestPlaceOrder_ConcurrentContention(t *testing.T) {
	ctx := context.Background()
	for round := range 25 {
		store := entitystore.NewMemory()
		_, err := entitystore.PutAs(ctx, store, "Customer", domain.CustomerPartition, "C1", domain.Customer{ID: "C1"}, entitystore.IfAbsent)
		require.NoError(t, err)
		_, err = entitystore.PutAs(ctx, store, "Product", domain.ProductPartition, "P1",
			domain.Product{ID: "P1", ProductName: "Pen", Price: domain.MustMoney("1.00"), StockAvailable: 5}, entitystore.IfAbsent)
		require.NoError(t, err)

		svc := NewOrderService(store, queue.NewMemory(), sagalog.NewMemoryRepository(), Config{})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.PlaceOrder(ctx, "C1", "P1", 3)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t,
				errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrConcurrencyConflict),
				"round %d: unexpected error %v", round, err)
		}
		assert.Equal(t, 1, succeeded, "round %d", round)

		p, _, err := entitystore.GetAs[domain.Product](ctx, store, "Product", domain.ProductPartition, "P1")
		require.NoError(t, err)
		assert.Equal(t, 2, p.StockAvailable, "round %d", round)

		orders, err := svc.ListOrders(ctx)
		require.NoError(t, err)
		assert.Len(t, orders, 1, "round %d", round)
	}
}
