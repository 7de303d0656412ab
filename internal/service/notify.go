package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/events"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// notifier runs the side effects that follow a committed ledger transaction.
// Failures are logged and never undo the commit.
type notifier struct {
	cache  cache.ProductCache
	sink   events.Sink
	logger *logrus.Logger
	clock  Clock
}

func (n *notifier) committed(ctx context.Context, products []domain.Product, reference string, decremented bool) {
	if len(products) == 0 {
		return
	}
	ids := make([]string, 0, len(products))
	for _, product := range products {
		ids = append(ids, product.ID)
	}
	if err := n.cache.Delete(ctx, ids...); err != nil {
		n.logger.WithFields(logrus.Fields{
			"module":      "service",
			"product_ids": ids,
		}).Warnf("invalidate product cache: %v", err)
	}
	if !decremented {
		return
	}
	for _, product := range products {
		if !product.IsLowStock() {
			continue
		}
		event := domain.LowStockEvent{
			ProductID:    product.ID,
			ProductName:  product.Name,
			CurrentStock: product.StockQuantity,
			Threshold:    product.MinStockThreshold,
			Reference:    reference,
			OccurredAt:   n.clock.Now(),
		}
		if err := n.sink.PublishLowStock(ctx, event); err != nil {
			n.logger.WithFields(logrus.Fields{
				"module":     "service",
				"product_id": product.ID,
			}).Warnf("publish low stock: %v", err)
		}
	}
}
