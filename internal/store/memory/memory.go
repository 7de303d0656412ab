package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// Store keeps the ledger in process memory. Transactions stage their writes
// and publish them under the store lock only when the callback succeeds.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	adjustments  map[string][]domain.StockAdjustment
	priceHistory map[string][]domain.PriceHistoryEntry
	sales        map[string]domain.Sale
	receipts     map[string]string
	returns      []domain.ReturnRecord
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		adjustments:  make(map[string][]domain.StockAdjustment),
		priceHistory: make(map[string][]domain.PriceHistoryEntry),
		sales:        make(map[string]domain.Sale),
		receipts:     make(map[string]string),
		returns:      make([]domain.ReturnRecord, 0, 16),
	}
}

// NewSeeded returns a store with a small demo catalog for local runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	seed := []struct {
		name      string
		barcode   string
		unit      domain.Unit
		selling   string
		cost      string
		stock     string
		threshold string
	}{
		{"Instant Noodles", "8990001000011", domain.UnitPiece, "3.50", "2.70", "120", "20"},
		{"Eggs (10 pack)", "8990001000028", domain.UnitBox, "26.50", "23.00", "40", "10"},
		{"UHT Milk 1L", "8990001000035", domain.UnitPiece, "18.90", "13.60", "60", "12"},
		{"Granulated Sugar", "8990001000042", domain.UnitKg, "17.40", "15.30", "25.5", "5"},
		{"Ground Coffee", "8990001000059", domain.UnitGram, "0.12", "0.08", "5000", "500"},
	}
	for _, item := range seed {
		product := domain.Product{
			ID:                xid.New("prd"),
			Name:              item.name,
			Barcode:           item.barcode,
			Unit:              item.unit,
			SellingPrice:      decimal.RequireFromString(item.selling),
			CostPrice:         decimal.RequireFromString(item.cost),
			StockQuantity:     decimal.RequireFromString(item.stock),
			MinStockThreshold: decimal.RequireFromString(item.threshold),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		s.products[product.ID] = product
		s.adjustments[product.ID] = append(s.adjustments[product.ID], domain.StockAdjustment{
			ID:                 xid.New("adj"),
			ProductID:          product.ID,
			Delta:              product.StockQuantity,
			Type:               domain.AdjustmentAdd,
			Reason:             "initial stock",
			ResultingStock:     product.StockQuantity,
			ResultingCostPrice: product.CostPrice,
			CreatedAt:          now,
		})
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) ListStockAdjustments(_ context.Context, productID string, limit int) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newestFirst(s.adjustments[productID], limit), nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newestFirst(s.priceHistory[productID], limit), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(sale)
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ReceiptNumber, b.ReceiptNumber)
	})
	return sales, nil
}

func (s *Store) ListReturns(_ context.Context, filter store.ReturnFilter) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.ReturnRecord, 0)
	for _, record := range s.returns {
		if filter.Matches(record) {
			records = append(records, cloneReturn(record))
		}
	}
	return records, nil
}

// tx stages writes on top of the committed maps. The store lock is held for
// the whole transaction, so reads of the base maps are stable.
type tx struct {
	s             *Store
	products      map[string]domain.Product
	adjustments   []domain.StockAdjustment
	priceHistory  []domain.PriceHistoryEntry
	sales         map[string]domain.Sale
	receipts      map[string]string
	returns       []domain.ReturnRecord
	returnedSales map[string]bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:             s,
		products:      make(map[string]domain.Product),
		sales:         make(map[string]domain.Sale),
		receipts:      make(map[string]string),
		returnedSales: make(map[string]bool),
	}
}

func (t *tx) product(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.s.products[id]
	return p, ok
}

func (t *tx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.product(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *tx) CreateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.product(product.ID); exists {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	if product.Barcode != "" && t.barcodeTaken(product.Barcode, product.ID) {
		return store.ErrDuplicateBarcode
	}
	t.products[product.ID] = product
	return nil
}

func (t *tx) barcodeTaken(barcode string, exceptID string) bool {
	for id, p := range t.products {
		if id != exceptID && p.Barcode == barcode {
			return true
		}
	}
	for id, p := range t.s.products {
		if _, staged := t.products[id]; staged {
			continue
		}
		if id != exceptID && p.Barcode == barcode {
			return true
		}
	}
	return false
}

func (t *tx) UpdateProduct(_ context.Context, product domain.Product) error {
	if _, ok := t.product(product.ID); !ok {
		return store.ErrNotFound
	}
	if product.Barcode != "" && t.barcodeTaken(product.Barcode, product.ID) {
		return store.ErrDuplicateBarcode
	}
	t.products[product.ID] = product
	return nil
}

func (t *tx) InsertStockAdjustment(_ context.Context, adjustment domain.StockAdjustment) error {
	t.adjustments = append(t.adjustments, adjustment)
	return nil
}

func (t *tx) InsertPriceHistory(_ context.Context, entry domain.PriceHistoryEntry) error {
	t.priceHistory = append(t.priceHistory, entry)
	return nil
}

func (t *tx) ReceiptNumberExists(_ context.Context, receiptNumber string) (bool, error) {
	if _, ok := t.receipts[receiptNumber]; ok {
		return true, nil
	}
	_, ok := t.s.receipts[receiptNumber]
	return ok, nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	exists, _ := t.ReceiptNumberExists(ctx, sale.ReceiptNumber)
	if exists {
		return store.ErrDuplicateReceipt
	}
	t.sales[sale.ID] = cloneSale(sale)
	t.receipts[sale.ReceiptNumber] = sale.ID
	return nil
}

func (t *tx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.sales[id]
	if !ok {
		sale, ok = t.s.sales[id]
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(sale)
	if t.returnedSales[id] {
		copySale.IsReturned = true
	}
	return &copySale, nil
}

func (t *tx) ReturnedQuantities(_ context.Context, saleID string) (map[string]decimal.Decimal, error) {
	totals := make(map[string]decimal.Decimal)
	add := func(records []domain.ReturnRecord) {
		for _, record := range records {
			if record.OriginalSaleID != saleID {
				continue
			}
			for _, item := range record.Items {
				totals[item.SaleItemID] = totals[item.SaleItemID].Add(item.Quantity)
			}
		}
	}
	add(t.s.returns)
	add(t.returns)
	return totals, nil
}

func (t *tx) InsertReturn(_ context.Context, record domain.ReturnRecord) error {
	t.returns = append(t.returns, cloneReturn(record))
	return nil
}

func (t *tx) MarkSaleReturned(_ context.Context, saleID string) error {
	if _, ok := t.sales[saleID]; !ok {
		if _, ok := t.s.sales[saleID]; !ok {
			return store.ErrNotFound
		}
	}
	t.returnedSales[saleID] = true
	return nil
}

func (t *tx) commit() {
	s := t.s
	for id, product := range t.products {
		s.products[id] = product
	}
	for _, adjustment := range t.adjustments {
		s.adjustments[adjustment.ProductID] = append(s.adjustments[adjustment.ProductID], adjustment)
	}
	for _, entry := range t.priceHistory {
		s.priceHistory[entry.ProductID] = append(s.priceHistory[entry.ProductID], entry)
	}
	for id, sale := range t.sales {
		s.sales[id] = sale
		s.receipts[sale.ReceiptNumber] = id
	}
	s.returns = append(s.returns, t.returns...)
	for id := range t.returnedSales {
		sale := s.sales[id]
		sale.IsReturned = true
		s.sales[id] = sale
	}
}

func newestFirst[T any](items []T, limit int) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	return sale
}

func cloneReturn(record domain.ReturnRecord) domain.ReturnRecord {
	record.Items = slices.Clone(record.Items)
	return record
}
