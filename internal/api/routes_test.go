package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-offline-core/internal/cache"
	"pos-offline-core/internal/catalog"
	"pos-offline-core/internal/config"
	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/remote"
	"pos-offline-core/internal/store"
	"pos-offline-core/internal/sync"
)

type stubService struct{ customers int }

func (s *stubService) SubmitInvoice(context.Context, map[string]interface{}, map[string]interface{}) error {
	return nil
}
func (s *stubService) UpdateInvoice(context.Context, map[string]interface{}) error { return nil }
func (s *stubService) CreateCustomer(_ context.Context, args map[string]interface{}) (remote.CustomerRef, error) {
	s.customers++
	return remote.CustomerRef{Name: "CUST-1"}, nil
}
func (s *stubService) ProcessPayment(context.Context, map[string]interface{}) error { return nil }
func (s *stubService) ItemStock(context.Context, map[string]interface{}, []string) ([]remote.ItemStock, error) {
	return nil, nil
}

type fixture struct {
	mirror *mirror.Mirror
	conn   *remote.Connectivity
	svc    *stubService
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	ctx := context.Background()

	db, err := database.Open(database.InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := store.NewBadgerStore(ctx, db)
	require.NoError(t, err)

	lock := persist.NewWriteLock()
	monitor := store.NewMonitor(s, lock)
	w := persist.NewWriter(persist.NewSink(s, monitor, lock), nil)
	t.Cleanup(w.Close)
	flat, err := persist.NewFlatStore(afero.NewMemMapFs(), config.FallbackConfig{Dir: "/fallback", Prefix: "posa_", MaxValueBytes: 1 << 20})
	require.NoError(t, err)

	m := mirror.New(s, w, flat, monitor, mirror.Options{})
	monitor.AddListener(m)
	require.NoError(t, m.Load(ctx))

	conn := remote.NewConnectivity(m)
	svc := &stubService{}
	r := sync.NewReconciler(config.SyncConfig{}, m, svc, conn)

	prices := cache.NewPriceListCache(s, w, time.Hour, 10, nil)
	details := cache.NewItemDetailsCache(s, w, time.Hour, 10, nil)
	srv := httptest.NewServer(NewHandler(cfg, Services{
		Reconciler: r,
		Mirror:     m,
		Conn:       conn,
		Monitor:    monitor,
		Catalog:    catalog.New(s, w, monitor),
		Prices:     prices,
		Details:    details,
		Balances:   cache.NewBalanceCache(m, 24*time.Hour, 10),
	}).Routes())
	t.Cleanup(srv.Close)
	return &fixture{mirror: m, conn: conn, svc: svc, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	res := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "healthy", body["store"])
	assert.Equal(t, true, body["cache_ready"])
}

func TestOfflineToggle(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	res := f.do(t, http.MethodPost, "/api/v1/offline", `{"manual": true}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, f.mirror.ManualOffline())
	assert.True(t, f.conn.IsOffline())

	res = f.do(t, http.MethodPost, "/api/v1/offline", `{}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConnectivityEndpoint(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	res := f.do(t, http.MethodPost, "/api/v1/connectivity", `{"online": false}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, f.conn.ServerOnline())
	assert.Equal(t, true, decodeBody(t, res)["offline"])
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	_, err := f.mirror.EnqueueCustomer(mirror.Document{"customer_name": "Jane"})
	require.NoError(t, err)

	res := f.do(t, http.MethodPost, "/api/v1/sync/trigger?entity=customers", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, res)["synced"])
	assert.Equal(t, 1, f.svc.customers)

	res = f.do(t, http.MethodPost, "/api/v1/sync/trigger?entity=orders", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	status := decodeBody(t, res)
	assert.Equal(t, false, status["offline"])
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	require.NoError(t, f.mirror.SetPrintTemplate("receipt"))

	res := f.do(t, http.MethodGet, "/api/v1/cache/usage", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodPost, "/api/v1/cache/clear", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, f.mirror.PrintTemplate())

	require.NoError(t, f.mirror.SetPrintTemplate("receipt"))
	res = f.do(t, http.MethodPost, "/api/v1/cache/clear?force=true", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, f.mirror.PrintTemplate())
	assert.True(t, f.mirror.CacheReady())
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, config.ServerConfig{AuthToken: "s3cret"})

	res := f.do(t, http.MethodGet, "/api/v1/sync/status", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/sync/status", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/sync/status", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCorsOrigins(t *testing.T) {
	f := newFixture(t, config.ServerConfig{CorsOrigins: []string{"http://pos.local"}})

	res := f.do(t, http.MethodOptions, "/api/v1/sync/status", "", "Origin", "http://pos.local")
	assert.Equal(t, "http://pos.local", res.Header.Get("Access-Control-Allow-Origin"))

	res = f.do(t, http.MethodOptions, "/api/v1/sync/status", "", "Origin", "http://evil.example")
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}

func TestStockRefreshValidation(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	res := f.do(t, http.MethodPost, "/api/v1/stock/refresh", `{"item_codes": []}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = f.do(t, http.MethodPost, "/api/v1/stock/refresh", `{"item_codes": ["A"]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(0), decodeBody(t, res)["updated"])
}

func TestCatalogRoutes(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	res := f.do(t, http.MethodPost, "/api/v1/items", `{
		"price_list": "Retail",
		"pos_profile": "Main",
		"items": [
			{"item_code": "APL", "item_name": "Green Apple", "item_group": "Fruit", "rate": "1.5", "price_list_rate": "2", "item_barcode": "4006381333931"},
			{"item_code": "BAN", "item_name": "Banana", "item_group": "Fruit", "rate": "0.5"}
		]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/items?search=apple", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var items []map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "APL", items[0]["item_code"])

	res = f.do(t, http.MethodGet, "/api/v1/items/barcode/4006381333931", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "APL", decodeBody(t, res)["item_code"])

	res = f.do(t, http.MethodGet, "/api/v1/items/barcode/000", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/prices/Retail", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var priced []map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&priced))
	assert.Len(t, priced, 2)

	res = f.do(t, http.MethodGet, "/api/v1/prices/Wholesale", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = f.do(t, http.MethodPost, "/api/v1/items", `{"items": []}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCustomerRoutes(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	res := f.do(t, http.MethodPost, "/api/v1/customers", `{"customers": [
		{"name": "CUST-1", "customer_name": "Jane Doe", "mobile_no": "0700123456"}
	]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/customers?search=0700", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var customers []map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&customers))
	require.Len(t, customers, 1)
	assert.Equal(t, "CUST-1", customers[0]["name"])

	res = f.do(t, http.MethodGet, "/api/v1/customers/CUST-1/balance", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = f.do(t, http.MethodPut, "/api/v1/customers/CUST-1/balance", `{"balance": 12.5}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/customers/CUST-1/balance", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "12.5", decodeBody(t, res)["balance"])
}
