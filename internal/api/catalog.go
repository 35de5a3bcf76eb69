package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-offline-core/internal/catalog"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/store"
)

func (h *Handler) catalogRoutes(r chi.Router) {
	r.Get("/items", h.SearchItems)
	r.Post("/items", h.SaveItems)
	r.Get("/items/barcode/{barcode}", h.FindByBarcode)
	r.Get("/customers", h.SearchCustomers)
	r.Post("/customers", h.SaveCustomers)
	if h.prices != nil {
		r.Get("/prices/{priceList}", h.GetPriceList)
	}
}

type saveItemsRequest struct {
	Items      []store.Item `json:"items" validate:"required,min=1,dive"`
	PriceList  string       `json:"price_list"`
	POSProfile string       `json:"pos_profile"`
}

// SaveItems stores catalog rows. With a price list the rates are cached for
// it too, and with a profile as well the per-profile details.
func (h *Handler) SaveItems(w http.ResponseWriter, r *http.Request) {
	var req saveItemsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	pending, err := h.catalog.SaveItems(ctx, req.Items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if pending != nil {
		if err := pending.Wait(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if req.PriceList != "" && h.prices != nil {
		if err := h.prices.SaveItems(ctx, req.PriceList, req.Items); err != nil {
			logger.Log.Warn("Failed to cache price list", zap.String("price_list", req.PriceList), zap.Error(err))
		}
		if req.POSProfile != "" && h.details != nil {
			if err := h.details.Save(ctx, req.POSProfile, req.PriceList, req.Items); err != nil {
				logger.Log.Warn("Failed to cache item details", zap.String("pos_profile", req.POSProfile), zap.Error(err))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Items)})
}

// SearchItems serves ?search=&group=&offset=&limit=. Given price_list and
// pos_profile, cached details replace the stored ones.
func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.catalog.SearchItems(r.Context(), catalog.ItemQuery{
		Search:    q.Get("search"),
		ItemGroup: q.Get("group"),
		Offset:    intParam(q.Get("offset"), 0),
		Limit:     intParam(q.Get("limit"), catalog.DefaultSearchLimit),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	profile, priceList := q.Get("pos_profile"), q.Get("price_list")
	if h.details != nil && profile != "" && priceList != "" && len(items) > 0 {
		codes := make([]string, len(items))
		for i, it := range items {
			codes[i] = it.ItemCode
		}
		cached, _ := h.details.GetMany(r.Context(), profile, priceList, codes)
		byCode := make(map[string]store.Item, len(cached))
		for _, it := range cached {
			byCode[it.ItemCode] = it
		}
		for i, it := range items {
			if c, ok := byCode[it.ItemCode]; ok {
				items[i] = c
			}
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) FindByBarcode(w http.ResponseWriter, r *http.Request) {
	item, ok, err := h.catalog.FindByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) GetPriceList(w http.ResponseWriter, r *http.Request) {
	items, ok, err := h.prices.Items(r.Context(), chi.URLParam(r, "priceList"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "price list not cached", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customers, err := h.catalog.SearchCustomers(r.Context(), q.Get("search"),
		intParam(q.Get("offset"), 0), intParam(q.Get("limit"), catalog.DefaultSearchLimit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

type saveCustomersRequest struct {
	Customers []store.Customer `json:"customers" validate:"required,min=1"`
}

func (h *Handler) SaveCustomers(w http.ResponseWriter, r *http.Request) {
	var req saveCustomersRequest
	if !h.decode(w, r, &req) {
		return
	}
	pending, err := h.catalog.SaveCustomers(r.Context(), req.Customers)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if pending != nil {
		if err := pending.Wait(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Customers)})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	balance, ok := h.balances.Get(r.Context(), name)
	if !ok {
		http.Error(w, "no cached balance", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer": name, "balance": balance})
}

type balanceRequest struct {
	Balance *decimal.Decimal `json:"balance" validate:"required"`
}

func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.balances.Set(r.Context(), name, *req.Balance); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer": name, "balance": *req.Balance})
}

func intParam(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
