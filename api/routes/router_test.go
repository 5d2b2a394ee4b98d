package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront/internal/basket"
	"github.com/angelmondragon/storefront/internal/storage"
	"github.com/angelmondragon/storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubRemote struct {
	mu      sync.Mutex
	baskets map[string]*basket.Basket
	fail    bool
}

func (s *stubRemote) Current(context.Context) (*basket.Basket, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no session basket")
}

func (s *stubRemote) Get(_ context.Context, id string) (*basket.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baskets[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "basket not found")
	}
	return b.Clone(), nil
}

func (s *stubRemote) Save(_ context.Context, b *basket.Basket) (*basket.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, pkgerrors.New(pkgerrors.CodeRemoteSync, "remote unavailable")
	}
	s.baskets[b.ID] = b.Clone()
	return b.Clone(), nil
}

func (s *stubRemote) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baskets, id)
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type basketPayload struct {
	Basket *basket.Document       `json:"basket"`
	Totals *basket.TotalsDocument `json:"totals"`
}

type testEnv struct {
	handler http.Handler
	remote  *stubRemote
	store   *basket.Store
}

func newTestEnv(t *testing.T, storagePinger stubPinger) testEnv {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		Storage: config.StorageConfig{Backend: config.StorageMemory, Namespace: "test"},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	remote := &stubRemote{baskets: make(map[string]*basket.Basket)}
	store, err := basket.NewStore(context.Background(), basket.StoreParams{
		Repository: basket.NewRepository(storage.NewMemory(), "test"),
		Remote:     remote,
		Logger:     logg,
		Metrics:    metrics.NewBasketMetrics(reg),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return testEnv{
		handler: NewRouter(cfg, logg, storagePinger, store, reg),
		remote:  remote,
		store:   store,
	}
}

func (e testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeBasket(t *testing.T, env envelope) basketPayload {
	t.Helper()
	var payload basketPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

const addBoots = `{"product":{"id":7,"name":"Boots","description":"Leather","price":20,
	"pictureUrl":"/images/boots.png","productBrand":"Acme","productType":"Shoes"},"quantity":2}`

func TestHealthRoutes(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	rec, _ := env.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Storefront-Env"))

	rec, _ = env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := newTestEnv(t, stubPinger{err: errors.New("redis down")})
	rec, body := failing.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(pkgerrors.CodeDependency), body.Error.Code)
}

func TestBasketLifecycle(t *testing.T) {
	env := newTestEnv(t, stubPinger{})

	rec, body := env.do(t, http.MethodGet, "/api/basket", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, string(body.Data))

	rec, body = env.do(t, http.MethodPost, "/api/basket/items", addBoots)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decodeBasket(t, body)
	require.NotNil(t, payload.Basket)
	require.Len(t, payload.Basket.Items, 1)
	assert.Equal(t, 2, payload.Basket.Items[0].Quantity)
	assert.Equal(t, "40", payload.Totals.SubTotal.String())

	rec, body = env.do(t, http.MethodPost, "/api/basket/items/7/increment", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload = decodeBasket(t, body)
	assert.Equal(t, 3, payload.Basket.Items[0].Quantity)
	assert.Equal(t, "60", payload.Totals.Total.String())

	rec, body = env.do(t, http.MethodPost, "/api/basket/items/7/decrement", `{"amount":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBasket(t, body).Basket.Items[0].Quantity)

	rec, body = env.do(t, http.MethodGet, "/api/basket", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20", decodeBasket(t, body).Totals.Total.String())

	rec, body = env.do(t, http.MethodDelete, "/api/basket/items/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, string(body.Data))
	assert.Empty(t, env.remote.baskets)
}

func TestBasketValidationErrors(t *testing.T) {
	env := newTestEnv(t, stubPinger{})

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "zero quantity", method: http.MethodPost, path: "/api/basket/items", body: `{"product":{"id":1,"name":"a","price":1},"quantity":0}`},
		{name: "missing price", method: http.MethodPost, path: "/api/basket/items", body: `{"product":{"id":1,"name":"a"}}`},
		{name: "negative price", method: http.MethodPost, path: "/api/basket/items", body: `{"product":{"id":1,"name":"a","price":-4}}`},
		{name: "unknown field", method: http.MethodPost, path: "/api/basket/items", body: `{"product":{"id":1,"name":"a","price":1},"coupon":"x"}`},
		{name: "bad item id", method: http.MethodPost, path: "/api/basket/items/abc/increment", body: ""},
		{name: "decrement zero", method: http.MethodPost, path: "/api/basket/items/1/decrement", body: `{"amount":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := env.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.NotNil(t, body.Error)
			assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
		})
	}
}

func TestAbandonWithoutBasketIsNotFound(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	rec, body := env.do(t, http.MethodDelete, "/api/basket", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(pkgerrors.CodeNotFound), body.Error.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/basket/items", addBoots)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = env.do(t, http.MethodDelete, "/api/basket", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, string(body.Data))
	_, ok := env.store.CurrentBasket(context.Background())
	assert.False(t, ok)
}

func TestRemoteFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	env.remote.fail = true

	rec, body := env.do(t, http.MethodPost, "/api/basket/items", addBoots)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(pkgerrors.CodeRemoteSync), body.Error.Code)

	rec, body = env.do(t, http.MethodGet, "/api/basket", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, string(body.Data))
}

func TestRefreshRoute(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	rec, _ := env.do(t, http.MethodPost, "/api/basket/items", addBoots)
	require.Equal(t, http.StatusOK, rec.Code)

	env.remote.mu.Lock()
	for id := range env.remote.baskets {
		delete(env.remote.baskets, id)
	}
	env.remote.mu.Unlock()

	rec, body := env.do(t, http.MethodPost, "/api/basket/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, string(body.Data))
}

func TestRequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t, stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/basket", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/basket/items", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, preflight)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	rec, _ := env.do(t, http.MethodPost, "/api/basket/items", addBoots)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `basket_operation_success_total{operation="add_item"} 1`)
}

func TestBasketStream(t *testing.T) {
	env := newTestEnv(t, stubPinger{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/basket/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewReader(resp.Body)
	first := readEvent(t, events)
	assert.JSONEq(t, `{"basket":null,"totals":null}`, first)

	_, _, err = env.store.AddItem(context.Background(), basket.Product{ID: 3, Name: "Hat", Price: mustDecimal(t, "12.5")}, 2)
	require.NoError(t, err)

	var payload basketPayload
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, events)), &payload))
	require.NotNil(t, payload.Basket)
	assert.Equal(t, int64(3), payload.Basket.Items[0].ID)
	assert.Equal(t, "25", payload.Totals.SubTotal.String())
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			return data
		}
	}
}
