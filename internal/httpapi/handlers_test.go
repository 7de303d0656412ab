package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/service"
	"posledger/internal/store"
	"posledger/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestAPI builds a full API over an in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T, opts Options) http.Handler {
	t.Helper()
	return newTestAPIWith(t, memory.New(), service.Options{}, opts)
}

func newTestAPIWith(t *testing.T, repo store.Repository, svcOpts service.Options, opts Options) http.Handler {
	t.Helper()
	logger := quietLogger()
	svcOpts.Logger = logger
	opts.Logger = logger
	svc := service.New(repo, svcOpts)
	return New(svc, opts).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, rec.Code, rec.Body.String())
	}
}

func createProduct(t *testing.T, handler http.Handler, name, unit, selling, stock string) domain.Product {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{
		"name":                name,
		"unit":                unit,
		"selling_price":       selling,
		"cost_price":          "5.00",
		"initial_stock":       stock,
		"min_stock_threshold": "2",
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &body)
	return body.Product
}

func finalizeCashSale(t *testing.T, handler http.Handler, productID, qty, paid string) domain.Sale {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines":          []map[string]any{{"product_id": productID, "quantity": qty}},
		"payment_method": "cash",
		"payment":        map[string]any{"amount_paid": paid},
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &body)
	return body.Sale
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t, Options{})

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	expectStatus(t, rec, http.StatusOK)

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestCreateAndGetProduct(t *testing.T) {
	handler := newTestAPI(t, Options{})
	created := createProduct(t, handler, "Instant Noodles", "piece", "3.50", "10")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/"+created.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	var body struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &body)
	if !body.Product.StockQuantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock 10, got %s", body.Product.StockQuantity)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+created.ID+"/adjustments", nil)
	expectStatus(t, rec, http.StatusOK)
	var card struct {
		Adjustments []domain.StockAdjustment `json:"adjustments"`
	}
	decodeBody(t, rec, &card)
	if len(card.Adjustments) != 1 || card.Adjustments[0].Reason != "initial stock" {
		t.Fatalf("expected one initial stock adjustment, got %+v", card.Adjustments)
	}
}

func TestCreateProductValidation(t *testing.T) {
	handler := newTestAPI(t, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{"unit": "crate"})
	expectStatus(t, rec, http.StatusBadRequest)

	var body map[string]string
	decodeBody(t, rec, &body)
	if !strings.Contains(body["error"], "name") || !strings.Contains(body["error"], "unit") {
		t.Fatalf("expected field names in error, got %q", body["error"])
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	handler := newTestAPI(t, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Tea", "unit": "piece", "colour": "green",
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestDuplicateBarcodeConflict(t *testing.T) {
	handler := newTestAPI(t, Options{})
	payload := map[string]any{"name": "Tea", "unit": "piece", "barcode": "899000"}

	expectStatus(t, doJSON(t, handler, http.MethodPost, "/api/v1/products", payload), http.StatusCreated)
	expectStatus(t, doJSON(t, handler, http.MethodPost, "/api/v1/products", payload), http.StatusConflict)
}

func TestStockAdjustmentEndpoint(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Sugar", "kg", "17.40", "10")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products/"+product.ID+"/adjustments", map[string]any{
		"delta": "10", "type": "add", "new_cost_price": "7.00", "reason": "delivery",
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Adjustment domain.StockAdjustment `json:"adjustment"`
	}
	decodeBody(t, rec, &body)
	if !body.Adjustment.ResultingCostPrice.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected weighted cost 6, got %s", body.Adjustment.ResultingCostPrice)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products/"+product.ID+"/adjustments", map[string]any{
		"delta": "-50", "type": "remove",
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products/"+product.ID+"/adjustments", map[string]any{
		"delta": "1", "type": "sale",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID+"/price-history", nil)
	expectStatus(t, rec, http.StatusOK)
	var history struct {
		History []domain.PriceHistoryEntry `json:"history"`
	}
	decodeBody(t, rec, &history)
	if len(history.History) == 0 || history.History[0].ChangeType != domain.PriceChangeCost {
		t.Fatalf("expected cost price history, got %+v", history.History)
	}
}

func TestSellingPriceUpdate(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Milk", "piece", "18.90", "5")

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+product.ID+"/selling-price", map[string]any{
		"selling_price": "19.50", "reason": "supplier increase",
	})
	expectStatus(t, rec, http.StatusOK)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+product.ID+"/selling-price", map[string]any{})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestFinalizeSaleFlow(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "10")

	sale := finalizeCashSale(t, handler, product.ID, "2", "30")
	if !sale.TotalAmount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected total 25, got %s", sale.TotalAmount)
	}
	if !sale.ChangeAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected change 5, got %s", sale.ChangeAmount)
	}
	if sale.ReceiptNumber == "" || len(sale.Items) != 1 {
		t.Fatalf("unexpected sale: %+v", sale)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestFinalizeSaleAppliesDefaultTax(t *testing.T) {
	handler := newTestAPI(t, Options{DefaultTax: domain.TaxConfig{Enabled: true, RatePercent: decimal.NewFromInt(10)}})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "10")

	sale := finalizeCashSale(t, handler, product.ID, "2", "30")
	if !sale.TaxAmount.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected default tax 2.50, got %s", sale.TaxAmount)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines":   []map[string]any{{"product_id": product.ID, "quantity": "1"}},
		"tax":     map[string]any{"enabled": false},
		"payment": map[string]any{"amount_paid": "12.50"},
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &body)
	if !body.Sale.TaxAmount.IsZero() {
		t.Fatalf("expected explicit tax override, got %s", body.Sale.TaxAmount)
	}
}

func TestFinalizeSaleErrors(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "3")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "insufficient stock",
			body: map[string]any{
				"lines":   []map[string]any{{"product_id": product.ID, "quantity": "5"}},
				"payment": map[string]any{"amount_paid": "100"},
			},
			want: http.StatusConflict,
		},
		{
			name: "insufficient payment",
			body: map[string]any{
				"lines":   []map[string]any{{"product_id": product.ID, "quantity": "1"}},
				"payment": map[string]any{"amount_paid": "10"},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "empty cart",
			body: map[string]any{"lines": []map[string]any{}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			body: map[string]any{
				"lines":   []map[string]any{{"product_id": "prd_missing", "quantity": "1"}},
				"payment": map[string]any{"amount_paid": "100"},
			},
			want: http.StatusNotFound,
		},
		{
			name: "bad payment method",
			body: map[string]any{
				"lines":          []map[string]any{{"product_id": product.ID, "quantity": "1"}},
				"payment_method": "voucher",
			},
			want: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, doJSON(t, handler, http.MethodPost, "/api/v1/sales", tc.body), tc.want)
		})
	}
}

func TestReturnAndCancelFlow(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "10")
	sale := finalizeCashSale(t, handler, product.ID, "3", "50")
	itemID := sale.Items[0].ID

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.ID+"/returns", map[string]any{
		"items":  []map[string]any{{"sale_item_id": itemID, "quantity": "1"}},
		"reason": "damaged",
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Return domain.ReturnRecord `json:"return"`
	}
	decodeBody(t, rec, &body)
	if !body.Return.RefundAmount.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected refund 12.50, got %s", body.Return.RefundAmount)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.ID+"/returns", map[string]any{
		"items": []map[string]any{{"sale_item_id": itemID, "quantity": "5"}},
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.ID+"/returns", map[string]any{"items": []map[string]any{}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID+"/returns", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Returns []domain.ReturnRecord `json:"returns"`
	}
	decodeBody(t, rec, &list)
	if len(list.Returns) != 1 {
		t.Fatalf("expected one return, got %d", len(list.Returns))
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &body)
	if !body.Return.Items[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected cancel to return remaining 2, got %s", body.Return.Items[0].Quantity)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", map[string]any{"reason": "again"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID, nil)
	var got struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &got)
	if !got.Product.StockQuantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock restored to 10, got %s", got.Product.StockQuantity)
	}
}

func TestUnknownSaleNotFound(t *testing.T) {
	handler := newTestAPI(t, Options{})

	expectStatus(t, doJSON(t, handler, http.MethodGet, "/api/v1/sales/sale_missing", nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, handler, http.MethodGet, "/api/v1/sales/sale_missing/returns", nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, handler, http.MethodPost, "/api/v1/sales/sale_missing/cancel", nil), http.StatusNotFound)
}

func TestDeletedProductCannotBeSold(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "10")

	expectStatus(t, doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+product.ID, nil), http.StatusOK)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines":   []map[string]any{{"product_id": product.ID, "quantity": "1"}},
		"payment": map[string]any{"amount_paid": "20"},
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", nil)
	var list struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &list)
	if len(list.Products) != 0 {
		t.Fatalf("expected deleted product hidden, got %d", len(list.Products))
	}

	expectStatus(t, doJSON(t, handler, http.MethodPost, "/api/v1/products/"+product.ID+"/restore", nil), http.StatusOK)
	finalizeCashSale(t, handler, product.ID, "1", "20")
}

func TestLowStockEndpoint(t *testing.T) {
	handler := newTestAPI(t, Options{})
	createProduct(t, handler, "Plenty", "piece", "1.00", "50")
	low := createProduct(t, handler, "Scarce", "piece", "1.00", "1")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/low-stock", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &list)
	if len(list.Products) != 1 || list.Products[0].ID != low.ID {
		t.Fatalf("expected only %s, got %+v", low.ID, list.Products)
	}
}

func TestSalesSummaryEndpoint(t *testing.T) {
	handler := newTestAPI(t, Options{})
	product := createProduct(t, handler, "Coffee", "piece", "12.50", "10")
	finalizeCashSale(t, handler, product.ID, "2", "25")

	now := time.Now().UTC()
	from := now.Add(-time.Hour).Format(time.RFC3339)
	to := now.Add(time.Hour).Format(time.RFC3339)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales-summary?from="+from+"&to="+to, nil)
	expectStatus(t, rec, http.StatusOK)

	var body struct {
		Summary domain.SalesSummary `json:"summary"`
	}
	decodeBody(t, rec, &body)
	if body.Summary.Sales != 1 || !body.Summary.CostOfGoods.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected summary: %+v", body.Summary)
	}

	expectStatus(t, doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales-summary", nil), http.StatusBadRequest)
	expectStatus(t, doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales-summary?from="+to+"&to="+from, nil), http.StatusBadRequest)
}

type busyLocker struct{}

func (busyLocker) Lock(_ context.Context, _ ...string) (func(), error) {
	return nil, lock.ErrTimeout
}

func TestLockTimeoutIsRetryable(t *testing.T) {
	handler := newTestAPIWith(t, memory.NewSeeded(), service.Options{Locker: busyLocker{}}, Options{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{"name": "Tea", "unit": "piece"})
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

type brokenRepo struct {
	*memory.Store
}

func (brokenRepo) ListProducts(_ context.Context, _ domain.ProductFilter) ([]domain.Product, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	handler := newTestAPIWith(t, brokenRepo{Store: memory.New()}, service.Options{}, Options{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", nil)
	expectStatus(t, rec, http.StatusInternalServerError)
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}
