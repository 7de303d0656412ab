// Package sqlite is a single-file ledger store built on gorm, meant for a
// lone register running without a database server.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"posledger/internal/domain"
	"posledger/internal/store"
)

type Store struct {
	db *gorm.DB
}

type Options struct {
	Debug bool
}

// Open connects to the sqlite file at path and migrates the ledger tables.
func Open(path string, opts Options) (*Store, error) {
	logLevel := logger.Silent
	if opts.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&productRow{},
		&adjustmentRow{},
		&priceHistoryRow{},
		&saleRow{},
		&saleItemRow{},
		&returnRow{},
		&returnItemRow{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &gormTx{db: gtx})
	})
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(s.db.WithContext(ctx), id)
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := s.db.WithContext(ctx).Order("name").Order("id")
	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	var rows []productRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		p := row.toDomain()
		// Quantities are stored as exact text, so the threshold check runs here.
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, productID string, limit int) ([]domain.StockAdjustment, error) {
	query := s.db.WithContext(ctx).Where("product_id = ?", productID).Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []adjustmentRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]domain.StockAdjustment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	query := s.db.WithContext(ctx).Where("product_id = ?", productID).Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []priceHistoryRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]domain.PriceHistoryEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(s.db.WithContext(ctx), id)
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	var rows []saleRow
	err := s.db.WithContext(ctx).
		Preload("Items", orderByLine).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at").Order("receipt_number").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, row.toDomain())
	}
	return sales, nil
}

func (s *Store) ListReturns(ctx context.Context, filter store.ReturnFilter) ([]domain.ReturnRecord, error) {
	query := s.db.WithContext(ctx).Preload("Items", orderByLine).Order("created_at").Order("id")
	if filter.SaleID != "" {
		query = query.Where("original_sale_id = ?", filter.SaleID)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	var rows []returnRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]domain.ReturnRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

type gormTx struct {
	db *gorm.DB
}

// GetProductForUpdate relies on the transaction owning the only connection;
// SQLite has no row locks.
func (t *gormTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	return getProduct(t.db, id)
}

func (t *gormTx) CreateProduct(_ context.Context, product domain.Product) error {
	row := newProductRow(product)
	return mapWriteError(t.db.Create(&row).Error, store.ErrDuplicateBarcode)
}

func (t *gormTx) UpdateProduct(_ context.Context, product domain.Product) error {
	row := newProductRow(product)
	res := t.db.Model(&productRow{}).Where("id = ?", product.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if res.Error != nil {
		return mapWriteError(res.Error, store.ErrDuplicateBarcode)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gormTx) InsertStockAdjustment(_ context.Context, adjustment domain.StockAdjustment) error {
	row := newAdjustmentRow(adjustment)
	return t.db.Create(&row).Error
}

func (t *gormTx) InsertPriceHistory(_ context.Context, entry domain.PriceHistoryEntry) error {
	row := newPriceHistoryRow(entry)
	return t.db.Create(&row).Error
}

func (t *gormTx) ReceiptNumberExists(_ context.Context, receiptNumber string) (bool, error) {
	var count int64
	if err := t.db.Model(&saleRow{}).Where("receipt_number = ?", receiptNumber).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *gormTx) InsertSale(_ context.Context, sale domain.Sale) error {
	row := newSaleRow(sale)
	return mapWriteError(t.db.Create(&row).Error, store.ErrDuplicateReceipt)
}

func (t *gormTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	return getSale(t.db, id)
}

func (t *gormTx) ReturnedQuantities(_ context.Context, saleID string) (map[string]decimal.Decimal, error) {
	var rows []returnItemRow
	err := t.db.
		Joins("JOIN returns ON returns.id = return_items.return_id").
		Where("returns.original_sale_id = ?", saleID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, row := range rows {
		totals[row.SaleItemID] = totals[row.SaleItemID].Add(row.Quantity)
	}
	return totals, nil
}

func (t *gormTx) InsertReturn(_ context.Context, record domain.ReturnRecord) error {
	row := newReturnRow(record)
	return t.db.Create(&row).Error
}

func (t *gormTx) MarkSaleReturned(_ context.Context, saleID string) error {
	res := t.db.Model(&saleRow{}).Where("id = ?", saleID).Update("is_returned", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getProduct(db *gorm.DB, id string) (*domain.Product, error) {
	var row productRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func getSale(db *gorm.DB, id string) (*domain.Sale, error) {
	var row saleRow
	if err := db.Preload("Items", orderByLine).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()
	return &sale, nil
}

func orderByLine(db *gorm.DB) *gorm.DB {
	return db.Order("line_no")
}

func mapWriteError(err error, duplicate error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return duplicate
	}
	return err
}
