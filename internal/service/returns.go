package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// ReturnProcessor reverses all or part of a committed Sale.
type ReturnProcessor struct {
	repo   store.Repository
	locker lock.Locker
	ledger *Ledger
	notify *notifier
	clock  Clock
	logger *logrus.Logger
}

// ProcessReturn restocks the requested quantities and records a refund at the
// original unit prices. Zero-quantity lines are ignored.
func (p *ReturnProcessor) ProcessReturn(ctx context.Context, saleID string, lines []domain.LineReturn, reason string) (domain.ReturnRecord, error) {
	requested, order, err := normalizeReturnLines(lines)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	if len(order) == 0 {
		return domain.ReturnRecord{}, ErrNoItemsSelected
	}
	return p.run(ctx, saleID, reason, func(_ *domain.Sale, _ map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
		return requested, nil
	})
}

// CancelSale returns every remaining quantity of the sale.
func (p *ReturnProcessor) CancelSale(ctx context.Context, saleID string, reason string) (domain.ReturnRecord, error) {
	return p.run(ctx, saleID, defaultReason(reason, "sale cancelled"), func(sale *domain.Sale, returned map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
		remaining := make(map[string]decimal.Decimal, len(sale.Items))
		for _, item := range sale.Items {
			left := item.Quantity.Sub(returned[item.ID])
			if left.IsPositive() {
				remaining[item.ID] = left
			}
		}
		if len(remaining) == 0 {
			return nil, ErrSaleAlreadyReturned
		}
		return remaining, nil
	})
}

type returnSelector func(sale *domain.Sale, returned map[string]decimal.Decimal) (map[string]decimal.Decimal, error)

func (p *ReturnProcessor) run(ctx context.Context, saleID string, reason string, selectLines returnSelector) (domain.ReturnRecord, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ReturnRecord{}, invalidInput("sale id is required")
	}

	// Product ids come from the sale; read it once to know what to lock.
	snapshot, err := p.repo.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReturnRecord{}, &NotFoundError{Entity: "sale", ID: saleID}
		}
		return domain.ReturnRecord{}, classify("load sale", err)
	}
	keys := []string{lock.SaleKey(saleID)}
	for _, item := range snapshot.Items {
		keys = append(keys, lock.ProductKey(item.ProductID))
	}
	unlock, err := acquire(ctx, p.locker, keys...)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	defer unlock()

	var (
		record  domain.ReturnRecord
		touched []domain.Product
	)
	err = p.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		touched = touched[:0]

		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Entity: "sale", ID: saleID}
			}
			return err
		}
		if sale.IsReturned {
			return ErrSaleAlreadyReturned
		}
		returned, err := tx.ReturnedQuantities(ctx, saleID)
		if err != nil {
			return err
		}
		requested, err := selectLines(sale, returned)
		if err != nil {
			return err
		}

		itemsByID := make(map[string]domain.SaleItem, len(sale.Items))
		for _, item := range sale.Items {
			itemsByID[item.ID] = item
		}
		for id := range requested {
			if _, ok := itemsByID[id]; !ok {
				return &NotFoundError{Entity: "sale item", ID: id}
			}
		}

		record = domain.ReturnRecord{
			ID:             xid.New("ret"),
			OriginalSaleID: sale.ID,
			RefundAmount:   decimal.Zero,
			Reason:         reason,
			CreatedAt:      p.clock.Now(),
		}

		// Validate every line before the first write.
		for _, item := range sale.Items {
			qty, ok := requested[item.ID]
			if !ok {
				continue
			}
			remaining := item.Quantity.Sub(returned[item.ID])
			if qty.GreaterThan(remaining) {
				return &ExcessiveReturnError{SaleItemID: item.ID, Requested: qty, Remaining: remaining}
			}
		}

		fully := true
		for _, item := range sale.Items {
			qty, ok := requested[item.ID]
			if !ok {
				if item.Quantity.GreaterThan(returned[item.ID]) {
					fully = false
				}
				continue
			}
			refund := roundMoney(item.UnitPrice.Mul(qty))
			record.Items = append(record.Items, domain.ReturnedItem{
				SaleItemID:   item.ID,
				ProductID:    item.ProductID,
				Quantity:     qty,
				UnitPrice:    item.UnitPrice,
				RefundAmount: refund,
			})
			record.RefundAmount = record.RefundAmount.Add(refund)
			if item.Quantity.GreaterThan(returned[item.ID].Add(qty)) {
				fully = false
			}

			result, err := p.ledger.apply(ctx, tx, domain.AdjustmentInput{
				ProductID: item.ProductID,
				Delta:     qty,
				Type:      domain.AdjustmentReturn,
				Reason:    defaultReason(reason, "return"),
				Reference: sale.ID,
			}, true)
			if err != nil {
				return err
			}
			touched = append(touched, result.product)
		}

		if err := tx.InsertReturn(ctx, record); err != nil {
			return err
		}
		if fully {
			return tx.MarkSaleReturned(ctx, sale.ID)
		}
		return nil
	})
	if err != nil {
		return domain.ReturnRecord{}, classify("process return", err)
	}

	p.notify.committed(ctx, touched, saleID, false)
	p.logger.WithFields(logrus.Fields{
		"module":    "service",
		"sale_id":   saleID,
		"return_id": record.ID,
		"refund":    record.RefundAmount.StringFixed(2),
	}).Info("return processed")
	return record, nil
}

// normalizeReturnLines merges duplicate sale item ids and drops zero lines.
func normalizeReturnLines(lines []domain.LineReturn) (map[string]decimal.Decimal, []string, error) {
	requested := make(map[string]decimal.Decimal, len(lines))
	order := make([]string, 0, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.SaleItemID)
		if id == "" {
			return nil, nil, invalidInput("line %d: sale item id is required", i+1)
		}
		qty := roundQty(line.Quantity)
		if qty.IsNegative() {
			return nil, nil, invalidInput("line %d: quantity must not be negative", i+1)
		}
		if qty.IsZero() {
			continue
		}
		if _, seen := requested[id]; !seen {
			order = append(order, id)
		}
		requested[id] = requested[id].Add(qty)
	}
	return requested, order, nil
}
