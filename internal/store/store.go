package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateBarcode = errors.New("duplicate barcode")
	ErrDuplicateReceipt = errors.New("duplicate receipt number")
)

// Repository is the persistence port of the ledger core. Every mutation goes
// through WithTx; fn's writes land together or not at all.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	ListStockAdjustments(ctx context.Context, productID string, limit int) ([]domain.StockAdjustment, error)
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	ListReturns(ctx context.Context, filter ReturnFilter) ([]domain.ReturnRecord, error)
}

// Tx is the transactional view handed to WithTx callbacks. Product and sale
// reads through Tx hold a write lock on the row until the transaction ends.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	InsertStockAdjustment(ctx context.Context, adjustment domain.StockAdjustment) error
	InsertPriceHistory(ctx context.Context, entry domain.PriceHistoryEntry) error
	ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	ReturnedQuantities(ctx context.Context, saleID string) (map[string]decimal.Decimal, error)
	InsertReturn(ctx context.Context, record domain.ReturnRecord) error
	MarkSaleReturned(ctx context.Context, saleID string) error
}

type ReturnFilter struct {
	SaleID string
	From   time.Time
	To     time.Time
}

// Matches applies the filter to an already loaded record.
func (f ReturnFilter) Matches(record domain.ReturnRecord) bool {
	if f.SaleID != "" && record.OriginalSaleID != f.SaleID {
		return false
	}
	if !f.From.IsZero() && record.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !record.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
