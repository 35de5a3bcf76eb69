// Package api is the local control surface of the offline core.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pos-offline-core/internal/cache"
	"pos-offline-core/internal/catalog"
	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/remote"
	"pos-offline-core/internal/store"
	"pos-offline-core/internal/sync"
)

// Services are the components the API exposes. Catalog, Prices, Details
// and Balances may be nil, which leaves their routes out.
type Services struct {
	Reconciler *sync.Reconciler
	Mirror     *mirror.Mirror
	Conn       *remote.Connectivity
	Monitor    *store.Monitor
	Catalog    *catalog.Catalog
	Prices     *cache.PriceListCache
	Details    *cache.ItemDetailsCache
	Balances   *cache.BalanceCache
}

type Handler struct {
	cfg        config.ServerConfig
	reconciler *sync.Reconciler
	mirror     *mirror.Mirror
	conn       *remote.Connectivity
	monitor    *store.Monitor
	catalog    *catalog.Catalog
	prices     *cache.PriceListCache
	details    *cache.ItemDetailsCache
	balances   *cache.BalanceCache
	validate   *validator.Validate
}

func NewHandler(cfg config.ServerConfig, svc Services) *Handler {
	return &Handler{
		cfg:        cfg,
		reconciler: svc.Reconciler,
		mirror:     svc.Mirror,
		conn:       svc.Conn,
		monitor:    svc.Monitor,
		catalog:    svc.Catalog,
		prices:     svc.Prices,
		details:    svc.Details,
		balances:   svc.Balances,
		validate:   validator.New(),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(h.cors)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.auth)

		r.Get("/sync/status", h.GetSyncStatus)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/offline", h.SetOffline)
		r.Post("/connectivity", h.SetConnectivity)
		r.Post("/stock/refresh", h.RefreshStock)
		r.Get("/cache/usage", h.GetCacheUsage)
		r.Post("/cache/clear", h.ClearCache)

		if h.catalog != nil {
			h.catalogRoutes(r)
		}
		if h.balances != nil {
			r.Get("/customers/{name}/balance", h.GetBalance)
			r.Put("/customers/{name}/balance", h.SetBalance)
		}
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := h.monitor.State()
	status := http.StatusOK
	if state == store.Unavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"store":       state.String(),
		"cache_ready": h.mirror.CacheReady(),
		"offline":     h.conn.IsOffline(),
	})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reconciler.Status())
}

// TriggerSync runs a pass now. ?entity= picks one queue; the default is
// all of them.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		out interface{}
		err error
	)
	switch entity := sync.Entity(r.URL.Query().Get("entity")); entity {
	case "", "all":
		out, err = h.reconciler.SyncAll(ctx)
	case sync.Invoices:
		out, err = h.reconciler.SyncInvoices(ctx)
	case sync.Customers:
		out, err = h.reconciler.SyncCustomers(ctx)
	case sync.Payments:
		out, err = h.reconciler.SyncPayments(ctx)
	default:
		http.Error(w, "unknown entity "+string(entity), http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Log.Error("Triggered sync failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type offlineRequest struct {
	Manual *bool `json:"manual" validate:"required"`
}

func (h *Handler) SetOffline(w http.ResponseWriter, r *http.Request) {
	var req offlineRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.mirror.SetManualOffline(*req.Manual); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"manual":  *req.Manual,
		"offline": h.conn.IsOffline(),
	})
}

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.conn.SetServerOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{
		"online":  h.conn.ServerOnline(),
		"offline": h.conn.IsOffline(),
	})
}

type stockRequest struct {
	ItemCodes []string `json:"item_codes" validate:"required,min=1,dive,required"`
}

func (h *Handler) RefreshStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.reconciler.RefreshStock(r.Context(), req.ItemCodes)
	switch {
	case errors.Is(err, sync.ErrOffline):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil && n == 0:
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) GetCacheUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.mirror.UsageEstimate(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ClearCache resets the mirror. With ?force=true the store is recreated
// from scratch.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	var err error
	if force {
		err = h.mirror.ForceClearAll(r.Context())
	} else {
		err = h.mirror.ClearAll()
	}
	if err != nil {
		logger.Log.Error("Failed to clear cache", zap.Bool("force", force), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "force": force})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(h.cfg.CorsOrigins) > 0 {
			origin = ""
			if o := r.Header.Get("Origin"); slices.Contains(h.cfg.CorsOrigins, o) {
				origin = o
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// auth requires the configured bearer token. Without one every request
// passes; the server binds to localhost by default.
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AuthToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Log.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
