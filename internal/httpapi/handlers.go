package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	products, err := a.service.ListProducts(r.Context(), domain.ProductFilter{
		IncludeDeleted: parseBool(query.Get("include_deleted")),
		LowStockOnly:   parseBool(query.Get("low_stock")),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListLowStock(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := a.bind(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.SoftDeleteProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleRestoreProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.RestoreProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateSellingPrice(w http.ResponseWriter, r *http.Request) {
	var req sellingPriceRequest
	if err := a.bind(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.service.UpdateSellingPrice(r.Context(), chi.URLParam(r, "productID"), *req.SellingPrice, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, err := a.service.GetProduct(r.Context(), productID); err != nil {
		a.writeError(w, r, err)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	adjustments, err := a.service.ListStockAdjustments(r.Context(), productID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (a *API) handleApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := a.bind(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	adjustment, err := a.service.ApplyStockAdjustment(r.Context(), req.toInput(chi.URLParam(r, "productID")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adjustment})
}

func (a *API) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, err := a.service.GetProduct(r.Context(), productID); err != nil {
		a.writeError(w, r, err)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	history, err := a.service.ListPriceHistory(r.Context(), productID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) handleFinalizeSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := a.bind(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	sale, err := a.service.FinalizeSale(r.Context(), req.toDomain(a.opts.DefaultTax))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	if _, err := a.service.GetSale(r.Context(), saleID); err != nil {
		a.writeError(w, r, err)
		return
	}

	records, err := a.service.ListReturns(r.Context(), store.ReturnFilter{SaleID: saleID})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": records})
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := a.bind(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	record, err := a.service.ProcessReturn(r.Context(), chi.URLParam(r, "saleID"), req.lines(), req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": record})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := a.bindOptional(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	record, err := a.service.CancelSale(r.Context(), chi.URLParam(r, "saleID"), req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": record})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	summary, err := a.service.SalesSummary(r.Context(), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
