package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
)

const (
	// QueueDefault is the queue low-stock tasks are enqueued on unless configured.
	QueueDefault = "inventory"
	// TaskTypeLowStock is the asynq task type carrying a LowStockEvent.
	TaskTypeLowStock = "inventory:low_stock"
)

func NewLowStockTask(event domain.LowStockEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStock, payload), nil
}

// AsynqSink hands low-stock events to a background worker.
type AsynqSink struct {
	client *asynq.Client
	queue  string
}

func NewAsynqSink(redisOpts asynq.RedisClientOpt, queue string) *AsynqSink {
	if queue == "" {
		queue = QueueDefault
	}
	return &AsynqSink{client: asynq.NewClient(redisOpts), queue: queue}
}

func (s *AsynqSink) PublishLowStock(ctx context.Context, event domain.LowStockEvent) error {
	task, err := NewLowStockTask(event)
	if err != nil {
		return err
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue low stock task: %w", err)
	}
	return nil
}

func (s *AsynqSink) Close() error {
	return s.client.Close()
}

// LowStockHandler consumes TaskTypeLowStock tasks and forwards them to a
// local sink, typically a LogSink on the worker side.
type LowStockHandler struct {
	next   Sink
	logger *logrus.Logger
}

func NewLowStockHandler(next Sink, logger *logrus.Logger) *LowStockHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if next == nil {
		next = NewLogSink(logger)
	}
	return &LowStockHandler{next: next, logger: logger}
}

func (h *LowStockHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var event domain.LowStockEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		h.logger.WithFields(logrus.Fields{"module": "events", "task": t.Type()}).Errorf("decode payload: %v", err)
		return fmt.Errorf("decode low stock payload: %v: %w", err, asynq.SkipRetry)
	}
	return h.next.PublishLowStock(ctx, event)
}
