package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, barcode, category_id, unit, selling_price, cost_price,
	stock_quantity, min_stock_threshold, is_deleted, deleted_at, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p          domain.Product
		barcode    sql.NullString
		categoryID sql.NullString
		deletedAt  sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &barcode, &categoryID, &p.Unit, &p.SellingPrice, &p.CostPrice,
		&p.StockQuantity, &p.MinStockThreshold, &p.IsDeleted, &deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.Barcode = barcode.String
	p.CategoryID = categoryID.String
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		p.DeletedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 OR is_deleted = false)
		  AND (NOT $2 OR stock_quantity <= min_stock_threshold)
		ORDER BY name, id
	`, filter.IncludeDeleted, filter.LowStockOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, productID string, limit int) ([]domain.StockAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, delta, type, COALESCE(reason, ''), COALESCE(reference, ''),
			resulting_stock, resulting_cost_price, created_at
		FROM stock_adjustments
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StockAdjustment, 0, 32)
	for rows.Next() {
		var a domain.StockAdjustment
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Delta, &a.Type, &a.Reason, &a.Reference,
			&a.ResultingStock, &a.ResultingCostPrice, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, selling_price, cost_price, change_type, COALESCE(reason, ''), created_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PriceHistoryEntry, 0, 16)
	for rows.Next() {
		var e domain.PriceHistoryEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.SellingPrice, &e.CostPrice, &e.ChangeType, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const saleColumns = `id, receipt_number, subtotal, discount_type, discount_value, discount_amount,
	tax_rate, tax_amount, total_amount, payment_method, amount_paid, change_amount,
	cash_amount, card_amount, is_returned, created_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.ReceiptNumber, &sale.Subtotal, &sale.DiscountType, &sale.DiscountValue,
		&sale.DiscountAmount, &sale.TaxRate, &sale.TaxAmount, &sale.TotalAmount, &sale.PaymentMethod,
		&sale.AmountPaid, &sale.ChangeAmount, &sale.CashAmount, &sale.CardAmount, &sale.IsReturned, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q querier, saleIDs []string) (map[string][]domain.SaleItem, error) {
	out := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price,
			discount_amount, total_price, historical_cost_price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPrice, &item.DiscountAmount, &item.TotalPrice, &item.HistoricalCostPrice); err != nil {
			return nil, err
		}
		out[item.SaleID] = append(out[item.SaleID], item)
	}
	return out, rows.Err()
}

func getSale(ctx context.Context, q querier, query string, id string) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	items, err := loadSaleItems(ctx, q, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, receipt_number
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) ListReturns(ctx context.Context, filter store.ReturnFilter) ([]domain.ReturnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_sale_id, refund_amount, COALESCE(reason, ''), created_at
		FROM returns
		WHERE ($1 = '' OR original_sale_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at, id
	`, filter.SaleID, nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ReturnRecord, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var r domain.ReturnRecord
		if err := rows.Scan(&r.ID, &r.OriginalSaleID, &r.RefundAmount, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return records, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT return_id, sale_item_id, product_id, quantity, unit_price, refund_amount
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY return_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	byReturn := make(map[string][]domain.ReturnedItem, len(ids))
	for itemRows.Next() {
		var (
			returnID string
			item     domain.ReturnedItem
		)
		if err := itemRows.Scan(&returnID, &item.SaleItemID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.RefundAmount); err != nil {
			return nil, err
		}
		byReturn[returnID] = append(byReturn[returnID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Items = byReturn[records[i].ID]
	}
	return records, nil
}

// pgTx implements store.Tx. Row reads take FOR UPDATE locks held until
// commit or rollback.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, category_id, unit, selling_price, cost_price,
			stock_quantity, min_stock_threshold, is_deleted, deleted_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, p.ID, p.Name, nullIfEmpty(p.Barcode), nullIfEmpty(p.CategoryID), p.Unit, p.SellingPrice, p.CostPrice,
		p.StockQuantity, p.MinStockThreshold, p.IsDeleted, nullTime(derefTime(p.DeletedAt)), p.CreatedAt, p.UpdatedAt)
	return mapWriteError(err)
}

func (t *pgTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, barcode = $3, category_id = $4, unit = $5, selling_price = $6, cost_price = $7,
			stock_quantity = $8, min_stock_threshold = $9, is_deleted = $10, deleted_at = $11, updated_at = $12
		WHERE id = $1
	`, p.ID, p.Name, nullIfEmpty(p.Barcode), nullIfEmpty(p.CategoryID), p.Unit, p.SellingPrice, p.CostPrice,
		p.StockQuantity, p.MinStockThreshold, p.IsDeleted, nullTime(derefTime(p.DeletedAt)), p.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertStockAdjustment(ctx context.Context, a domain.StockAdjustment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, product_id, delta, type, reason, reference,
			resulting_stock, resulting_cost_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.ProductID, a.Delta, a.Type, nullIfEmpty(a.Reason), nullIfEmpty(a.Reference),
		a.ResultingStock, a.ResultingCostPrice, a.CreatedAt)
	return mapWriteError(err)
}

func (t *pgTx) InsertPriceHistory(ctx context.Context, e domain.PriceHistoryEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO price_history (id, product_id, selling_price, cost_price, change_type, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.ProductID, e.SellingPrice, e.CostPrice, e.ChangeType, nullIfEmpty(e.Reason), e.CreatedAt)
	return mapWriteError(err)
}

func (t *pgTx) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE receipt_number = $1)`, receiptNumber).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, receipt_number, subtotal, discount_type, discount_value, discount_amount,
			tax_rate, tax_amount, total_amount, payment_method, amount_paid, change_amount,
			cash_amount, card_amount, is_returned, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.ReceiptNumber, sale.Subtotal, sale.DiscountType, sale.DiscountValue, sale.DiscountAmount,
		sale.TaxRate, sale.TaxAmount, sale.TotalAmount, sale.PaymentMethod, sale.AmountPaid, sale.ChangeAmount,
		sale.CashAmount, sale.CardAmount, sale.IsReturned, sale.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}

	for i, item := range sale.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, line_no, product_id, product_name, quantity, unit_price,
				discount_amount, total_price, historical_cost_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice,
			item.DiscountAmount, item.TotalPrice, item.HistoricalCostPrice); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) ReturnedQuantities(ctx context.Context, saleID string) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ri.sale_item_id, SUM(ri.quantity)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.original_sale_id = $1
		GROUP BY ri.sale_item_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			itemID string
			qty    decimal.Decimal
		)
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		totals[itemID] = qty
	}
	return totals, rows.Err()
}

func (t *pgTx) InsertReturn(ctx context.Context, record domain.ReturnRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (id, original_sale_id, refund_amount, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, record.ID, record.OriginalSaleID, record.RefundAmount, nullIfEmpty(record.Reason), record.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	for i, item := range record.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, line_no, sale_item_id, product_id, quantity, unit_price, refund_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, record.ID, i+1, item.SaleItemID, item.ProductID, item.Quantity, item.UnitPrice, item.RefundAmount); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) MarkSaleReturned(ctx context.Context, saleID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sales SET is_returned = true WHERE id = $1`, saleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "sales_receipt_number_key":
			return store.ErrDuplicateReceipt
		case "products_barcode_key":
			return store.ErrDuplicateBarcode
		}
	}
	return err
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func derefTime(val *time.Time) time.Time {
	if val == nil {
		return time.Time{}
	}
	return *val
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
