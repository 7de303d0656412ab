package service

import (
	"context"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// PriceHistoryRecorder appends audit entries for price mutations. It is only
// called by the Ledger, inside the Ledger's transaction.
type PriceHistoryRecorder struct {
	clock Clock
}

func NewPriceHistoryRecorder(clock Clock) *PriceHistoryRecorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PriceHistoryRecorder{clock: clock}
}

func (r *PriceHistoryRecorder) Record(ctx context.Context, tx store.Tx, productID string, sellingPrice, costPrice decimal.Decimal, changeType domain.PriceChangeType, reason string) (domain.PriceHistoryEntry, error) {
	if productID == "" || changeType == "" {
		return domain.PriceHistoryEntry{}, invalidInput("price history requires product and change type")
	}
	entry := domain.PriceHistoryEntry{
		ID:           xid.New("ph"),
		ProductID:    productID,
		SellingPrice: sellingPrice,
		CostPrice:    costPrice,
		ChangeType:   changeType,
		Reason:       reason,
		CreatedAt:    r.clock.Now(),
	}
	if err := tx.InsertPriceHistory(ctx, entry); err != nil {
		return domain.PriceHistoryEntry{}, err
	}
	return entry, nil
}

// priceChange derives the history change type between two price pairs.
func priceChange(oldSelling, newSelling, oldCost, newCost decimal.Decimal) (domain.PriceChangeType, bool) {
	sellingChanged := !oldSelling.Equal(newSelling)
	costChanged := !oldCost.Equal(newCost)
	switch {
	case sellingChanged && costChanged:
		return domain.PriceChangeBoth, true
	case sellingChanged:
		return domain.PriceChangeSelling, true
	case costChanged:
		return domain.PriceChangeCost, true
	default:
		return "", false
	}
}
