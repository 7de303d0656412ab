package events

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
)

// Sink receives low-stock notifications after a ledger commit. Delivery is
// best effort; the ledger never rolls back because a sink failed.
type Sink interface {
	PublishLowStock(ctx context.Context, event domain.LowStockEvent) error
}

type NoopSink struct{}

func (NoopSink) PublishLowStock(_ context.Context, _ domain.LowStockEvent) error {
	return nil
}

type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) PublishLowStock(_ context.Context, event domain.LowStockEvent) error {
	s.logger.WithFields(logrus.Fields{
		"module":        "events",
		"product_id":    event.ProductID,
		"product_name":  event.ProductName,
		"current_stock": event.CurrentStock.String(),
		"threshold":     event.Threshold.String(),
		"reference":     event.Reference,
	}).Warn("low stock")
	return nil
}

// Fanout delivers every event to all sinks and joins their errors.
type Fanout []Sink

func (f Fanout) PublishLowStock(ctx context.Context, event domain.LowStockEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.PublishLowStock(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
