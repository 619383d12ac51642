package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/adapters/mappers"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/app"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/core/ports"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.values[key], nil
}

func (c *memoryCache) GenerateKey(operation, key string) string { return "test:" + operation + ":" + key }

func (c *memoryCache) Close() error { return nil }

type fixture struct {
	store  *entitystore.Memory
	cache  *memoryCache
	server http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: entitystore.NewMemory(), cache: newMemoryCache()}

	catalog := `{
		"customers": [{"id": "C1", "name": "Ada", "surname": "Lovelace"}],
		"products":  [{"id": "P1", "productName": "Pen", "price": 20.00, "stockAvailable": 10}]
	}`
	_, err := app.SeedCatalog(ctx, f.store, app.DefaultTables(), strings.NewReader(catalog))
	require.NoError(t, err)

	svc := app.NewOrderService(f.store, queue.NewMemory(), sagalog.NewMemoryRepository(), app.Config{})
	f.server = NewRouter(NewHandler(svc, f.cache, time.Hour))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, _, err := entitystore.GetAs[domain.Product](context.Background(), f.store, "Product", domain.ProductPartition, "P1")
	require.NoError(t, err)
	return p.StockAvailable
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", `{"customerId":"C1","productId":"P1","quantity":4}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("x-request-id"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 80.0, body["totalAmount"])
	assert.Equal(t, 20.0, body["unitPrice"])
	assert.Equal(t, "Submitted", body["status"])
	assert.Equal(t, "Pen", body["productName"])
	assert.Contains(t, body, "orderDateUtc")
	assert.Equal(t, 6, f.stock(t))
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"customerId":`, http.StatusBadRequest, "invalid_json"},
		{"quantity not a number", `{"customerId":"C1","productId":"P1","quantity":"two"}`, http.StatusBadRequest, "invalid_json"},
		{"missing customer id", `{"productId":"P1","quantity":1}`, http.StatusBadRequest, "validation_error"},
		{"zero quantity", `{"customerId":"C1","productId":"P1","quantity":0}`, http.StatusBadRequest, "validation_error"},
		{"unknown customer", `{"customerId":"C9","productId":"P1","quantity":1}`, http.StatusNotFound, "not_found"},
		{"unknown product", `{"customerId":"C1","productId":"P9","quantity":1}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/orders", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
			assert.Equal(t, 10, f.stock(t))
		})
	}
}

func TestCreateOrder_InsufficientStockCarriesAvailable(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", `{"customerId":"C1","productId":"P1","quantity":11}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", body.Error)
	require.NotNil(t, body.Available)
	assert.Equal(t, 10, *body.Available)
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	body := `{"customerId":"C1","productId":"P1","quantity":2}`

	first := f.do(t, http.MethodPost, "/orders", body, "x-idempotency-key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := f.do(t, http.MethodPost, "/orders", body, "x-idempotency-key", "k-1")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t,
		decodeBody[mappers.OrderRecord](t, first).ID,
		decodeBody[mappers.OrderRecord](t, second).ID)
	assert.Equal(t, 8, f.stock(t), "stock is taken once")

	third := f.do(t, http.MethodPost, "/orders", body, "x-idempotency-key", "k-2")
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, 6, f.stock(t))
}

func TestCreateOrder_CacheFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.cache.err = errors.New("redis down")

	rec := f.do(t, http.MethodPost, "/orders", `{"customerId":"C1","productId":"P1","quantity":1}`, "x-idempotency-key", "k-1")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t)

	created := decodeBody[mappers.OrderRecord](t,
		f.do(t, http.MethodPost, "/orders", `{"customerId":"C1","productId":"P1","quantity":1}`))

	rec := f.do(t, http.MethodGet, "/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[mappers.OrderRecord](t, rec).ID)

	for _, method := range []string{http.MethodPatch, http.MethodPost, http.MethodPut} {
		rec = f.do(t, method, "/orders/"+created.ID+"/status", `{"status":"Processing"}`)
		require.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, "Processing", decodeBody[mappers.OrderRecord](t, rec).Status)
	}

	rec = f.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", `{"status":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/orders/missing/status", `{"status":"Completed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/orders/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/orders/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/orders/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	var ids []string
	for range 3 {
		created := decodeBody[mappers.OrderRecord](t,
			f.do(t, http.MethodPost, "/orders", `{"customerId":"C1","productId":"P1","quantity":1}`))
		ids = append(ids, created.ID)
		time.Sleep(2 * time.Millisecond)
	}

	rec = f.do(t, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]mappers.OrderRecord](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

type stubService struct {
	ports.OrderService
	err error
}

func (s stubService) ListOrders(context.Context) ([]domain.Order, error) { return nil, s.err }

func TestWriteDomainError_Statuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.ConcurrencyConflictError{Entity: "Product", ID: "P1"}, http.StatusConflict, "concurrency_conflict"},
		{&domain.UpstreamDependencyError{Dependency: "entity store", Err: errors.New("dial tcp")}, http.StatusBadGateway, "upstream_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		h := NewHandler(stubService{err: tt.err}, nil, 0)
		rec := httptest.NewRecorder()
		h.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

		assert.Equal(t, tt.status, rec.Code)
		body := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, tt.code, body.Error)
		assert.NotContains(t, body.Message, "dial tcp", "internal details stay in the logs")
	}
}
