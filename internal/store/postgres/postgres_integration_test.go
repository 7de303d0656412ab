package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestSaleAndReturnRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	itemID := fmt.Sprintf("si-it-%d", stamp)
	returnID := fmt.Sprintf("ret-it-%d", stamp)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_adjustments WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, domain.Product{
			ID:            productID,
			Name:          "Integration Product",
			Unit:          domain.UnitPiece,
			SellingPrice:  decimal.RequireFromString("12.50"),
			StockQuantity: decimal.NewFromInt(10),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	receipt := fmt.Sprintf("RCP-IT-%d", stamp)
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		product.StockQuantity = product.StockQuantity.Sub(decimal.NewFromInt(2))
		if err := tx.UpdateProduct(ctx, *product); err != nil {
			return err
		}
		if err := tx.InsertStockAdjustment(ctx, domain.StockAdjustment{
			ID:             fmt.Sprintf("adj-it-%d", stamp),
			ProductID:      productID,
			Delta:          decimal.NewFromInt(-2),
			Type:           domain.AdjustmentSale,
			Reference:      saleID,
			ResultingStock: product.StockQuantity,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{
			ID:            saleID,
			ReceiptNumber: receipt,
			Subtotal:      decimal.RequireFromString("25.00"),
			DiscountType:  domain.DiscountNone,
			TotalAmount:   decimal.RequireFromString("25.00"),
			PaymentMethod: domain.PaymentCash,
			AmountPaid:    decimal.RequireFromString("25.00"),
			CashAmount:    decimal.RequireFromString("25.00"),
			CreatedAt:     now,
			Items: []domain.SaleItem{{
				ID:          itemID,
				ProductID:   productID,
				ProductName: "Integration Product",
				Quantity:    decimal.NewFromInt(2),
				UnitPrice:   decimal.RequireFromString("12.50"),
				TotalPrice:  decimal.RequireFromString("25.00"),
			}},
		})
	})
	if err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: saleID + "-dup", ReceiptNumber: receipt, CreatedAt: now})
	})
	if err != store.ErrDuplicateReceipt {
		t.Fatalf("expected duplicate receipt error, got %v", err)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertReturn(ctx, domain.ReturnRecord{
			ID:             returnID,
			OriginalSaleID: saleID,
			RefundAmount:   decimal.RequireFromString("12.50"),
			CreatedAt:      now,
			Items: []domain.ReturnedItem{{
				SaleItemID:   itemID,
				ProductID:    productID,
				Quantity:     decimal.NewFromInt(1),
				UnitPrice:    decimal.RequireFromString("12.50"),
				RefundAmount: decimal.RequireFromString("12.50"),
			}},
		}); err != nil {
			return err
		}
		returned, err := tx.ReturnedQuantities(ctx, saleID)
		if err != nil {
			return err
		}
		if !returned[itemID].Equal(decimal.NewFromInt(1)) {
			return fmt.Errorf("expected returned quantity 1, got %s", returned[itemID])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert return: %v", err)
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(sale.Items) != 1 || !sale.Items[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected sale items: %+v", sale.Items)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.StockQuantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected stock 8, got %s", product.StockQuantity)
	}

	records, err := s.ListReturns(ctx, store.ReturnFilter{SaleID: saleID})
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(records) != 1 || len(records[0].Items) != 1 {
		t.Fatalf("unexpected returns: %+v", records)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := fmt.Sprintf("prd-rb-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateProduct(ctx, domain.Product{
			ID:        productID,
			Name:      "Rolled Back",
			Unit:      domain.UnitPiece,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, err := s.GetProduct(ctx, productID); err != store.ErrNotFound {
		t.Fatalf("expected product to be rolled back, got %v", err)
	}
}
