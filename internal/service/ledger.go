package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// Ledger is the only component allowed to change stock quantities and
// prices. Every mutation writes a StockAdjustment in the same transaction.
type Ledger struct {
	repo    store.Repository
	locker  lock.Locker
	history *PriceHistoryRecorder
	notify  *notifier
	clock   Clock
}

type applyResult struct {
	adjustment domain.StockAdjustment
	product    domain.Product
}

// ApplyStockAdjustment validates and commits a single manual adjustment.
func (l *Ledger) ApplyStockAdjustment(ctx context.Context, in domain.AdjustmentInput) (domain.StockAdjustment, error) {
	in, err := normalizeAdjustment(in)
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	unlock, err := acquire(ctx, l.locker, lock.ProductKey(in.ProductID))
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	defer unlock()

	var result applyResult
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var applyErr error
		result, applyErr = l.apply(ctx, tx, in, in.Type == domain.AdjustmentReturn)
		return applyErr
	})
	if err != nil {
		return domain.StockAdjustment{}, classify("apply stock adjustment", err)
	}

	l.notify.committed(ctx, []domain.Product{result.product}, in.Reference, in.Delta.IsNegative())
	return result.adjustment, nil
}

// UpdateSellingPrice changes the selling price and records the change. An
// unchanged price is a no-op.
func (l *Ledger) UpdateSellingPrice(ctx context.Context, productID string, price decimal.Decimal, reason string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, invalidInput("product id is required")
	}
	price = roundMoney(price)
	if price.IsNegative() {
		return domain.Product{}, invalidInput("selling price must not be negative")
	}

	unlock, err := acquire(ctx, l.locker, lock.ProductKey(productID))
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	var updated domain.Product
	changed := false
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := l.loadForUpdate(ctx, tx, productID, false)
		if err != nil {
			return err
		}
		if product.SellingPrice.Equal(price) {
			updated = *product
			return nil
		}
		product.SellingPrice = price
		product.UpdatedAt = l.clock.Now()
		if err := tx.UpdateProduct(ctx, *product); err != nil {
			return err
		}
		if _, err := l.history.Record(ctx, tx, product.ID, product.SellingPrice, product.CostPrice, domain.PriceChangeSelling, defaultReason(reason, "selling price update")); err != nil {
			return err
		}
		updated = *product
		changed = true
		return nil
	})
	if err != nil {
		return domain.Product{}, classify("update selling price", err)
	}
	if changed {
		l.notify.committed(ctx, []domain.Product{updated}, "", false)
	}
	return updated, nil
}

// apply is the transactional core shared by manual adjustments, sales and
// returns. Callers hold the product lock.
func (l *Ledger) apply(ctx context.Context, tx store.Tx, in domain.AdjustmentInput, allowDeleted bool) (applyResult, error) {
	product, err := l.loadForUpdate(ctx, tx, in.ProductID, allowDeleted)
	if err != nil {
		return applyResult{}, err
	}
	if product.Unit.Countable() && !isWhole(in.Delta) {
		return applyResult{}, invalidInput("product %s is sold in whole %s units", product.ID, product.Unit)
	}

	current := product.StockQuantity
	resulting := roundQty(current.Add(in.Delta))
	if resulting.IsNegative() {
		return applyResult{}, &InsufficientStockError{
			ProductID: product.ID,
			Requested: in.Delta.Neg(),
			Available: current,
		}
	}

	prevSelling, prevCost := product.SellingPrice, product.CostPrice
	if in.Type == domain.AdjustmentAdd {
		if in.NewCostPrice != nil {
			product.CostPrice = WeightedAverageCost(current, prevCost, in.Delta, *in.NewCostPrice)
		}
		if in.NewSellingPrice != nil {
			product.SellingPrice = roundMoney(*in.NewSellingPrice)
		}
	}

	now := l.clock.Now()
	product.StockQuantity = resulting
	product.UpdatedAt = now
	if err := tx.UpdateProduct(ctx, *product); err != nil {
		return applyResult{}, err
	}

	adjustment := domain.StockAdjustment{
		ID:                 xid.New("adj"),
		ProductID:          product.ID,
		Delta:              in.Delta,
		Type:               in.Type,
		Reason:             in.Reason,
		Reference:          in.Reference,
		ResultingStock:     resulting,
		ResultingCostPrice: product.CostPrice,
		CreatedAt:          now,
	}
	if err := tx.InsertStockAdjustment(ctx, adjustment); err != nil {
		return applyResult{}, err
	}

	if changeType, changed := priceChange(prevSelling, product.SellingPrice, prevCost, product.CostPrice); changed {
		if _, err := l.history.Record(ctx, tx, product.ID, product.SellingPrice, product.CostPrice, changeType, defaultReason(in.Reason, "stock adjustment")); err != nil {
			return applyResult{}, err
		}
	}

	return applyResult{adjustment: adjustment, product: *product}, nil
}

func (l *Ledger) loadForUpdate(ctx context.Context, tx store.Tx, productID string, allowDeleted bool) (*domain.Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Entity: "product", ID: productID}
		}
		return nil, err
	}
	if product.IsDeleted && !allowDeleted {
		return nil, ErrProductDeleted
	}
	return product, nil
}

func normalizeAdjustment(in domain.AdjustmentInput) (domain.AdjustmentInput, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.Reason = strings.TrimSpace(in.Reason)
	in.Reference = strings.TrimSpace(in.Reference)
	if in.ProductID == "" {
		return in, invalidInput("product id is required")
	}
	if !in.Type.Valid() {
		return in, invalidInput("unknown adjustment type %q", in.Type)
	}
	in.Delta = roundQty(in.Delta)
	if in.Delta.IsZero() {
		return in, invalidInput("delta must not be zero")
	}
	if in.Type.Inbound() != in.Delta.IsPositive() {
		return in, invalidInput("delta sign does not match adjustment type %s", in.Type)
	}
	if in.Type != domain.AdjustmentAdd && (in.NewCostPrice != nil || in.NewSellingPrice != nil) {
		return in, invalidInput("prices can only change on add adjustments")
	}
	if in.NewCostPrice != nil && in.NewCostPrice.IsNegative() {
		return in, invalidInput("cost price must not be negative")
	}
	if in.NewSellingPrice != nil && in.NewSellingPrice.IsNegative() {
		return in, invalidInput("selling price must not be negative")
	}
	return in, nil
}

func defaultReason(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}
