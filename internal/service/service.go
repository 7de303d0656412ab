package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/events"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	defaultListLimit = 50
	maxListLimit     = 500
)

type Options struct {
	Locker        lock.Locker
	Cache         cache.ProductCache
	CacheTTL      time.Duration
	Sink          events.Sink
	Clock         Clock
	Logger        *logrus.Logger
	ReceiptPrefix string
}

type Service struct {
	repo     store.Repository
	locker   lock.Locker
	cache    cache.ProductCache
	cacheTTL time.Duration
	clock    Clock
	logger   *logrus.Logger
	group    singleflight.Group

	ledger  *Ledger
	history *PriceHistoryRecorder
	sales   *SaleProcessor
	returns *ReturnProcessor
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex(lock.DefaultTimeout)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProductCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Sink == nil {
		opts.Sink = events.NoopSink{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ReceiptPrefix == "" {
		opts.ReceiptPrefix = xid.DefaultReceiptPrefix
	}

	notify := &notifier{cache: opts.Cache, sink: opts.Sink, logger: opts.Logger, clock: opts.Clock}
	history := NewPriceHistoryRecorder(opts.Clock)
	ledger := &Ledger{
		repo:    repo,
		locker:  opts.Locker,
		history: history,
		notify:  notify,
		clock:   opts.Clock,
	}

	return &Service{
		repo:     repo,
		locker:   opts.Locker,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		clock:    opts.Clock,
		logger:   opts.Logger,
		ledger:   ledger,
		history:  history,
		sales: &SaleProcessor{
			repo:          repo,
			locker:        opts.Locker,
			ledger:        ledger,
			notify:        notify,
			clock:         opts.Clock,
			logger:        opts.Logger,
			receiptPrefix: opts.ReceiptPrefix,
		},
		returns: &ReturnProcessor{
			repo:   repo,
			locker: opts.Locker,
			ledger: ledger,
			notify: notify,
			clock:  opts.Clock,
			logger: opts.Logger,
		},
	}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

func (s *Service) Sales() *SaleProcessor { return s.sales }

func (s *Service) Returns() *ReturnProcessor { return s.returns }

// GetProduct reads through the product cache. Concurrent misses for the same
// id share one repository read. A miss holds the product lock across the read
// and the cache write so a committing ledger change invalidates after it.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, invalidInput("product id is required")
	}

	if cached, ok, err := s.cache.Get(ctx, id); err != nil {
		s.logger.WithFields(logrus.Fields{"module": "service", "product_id": id}).Warnf("product cache read: %v", err)
	} else if ok {
		return *cached, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		// Shared by every coalesced caller, so one caller's cancellation
		// must not fail the rest.
		return s.loadProduct(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, &NotFoundError{Entity: "product", ID: id}
		}
		return domain.Product{}, classify("get product", err)
	}
	return v.(domain.Product), nil
}

func (s *Service) loadProduct(ctx context.Context, id string) (domain.Product, error) {
	log := s.logger.WithFields(logrus.Fields{"module": "service", "product_id": id})

	unlock, err := s.locker.Lock(ctx, lock.ProductKey(id))
	if err != nil {
		// Ledger busy past the lock timeout: serve the row without caching it.
		log.Debugf("product lock for cache fill: %v", err)
		product, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			return domain.Product{}, err
		}
		return *product, nil
	}
	defer unlock()

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.cache.Set(ctx, product, s.cacheTTL); err != nil {
		log.Warnf("product cache write: %v", err)
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

func (s *Service) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return s.ListProducts(ctx, domain.ProductFilter{LowStockOnly: true})
}

// CreateProduct registers a product. Initial stock is booked through the
// ledger so the product's history starts with an add adjustment.
func (s *Service) CreateProduct(ctx context.Context, in domain.ProductInput) (domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Barcode = strings.TrimSpace(in.Barcode)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	if in.Unit == "" {
		in.Unit = domain.UnitPiece
	}
	if in.Name == "" {
		return domain.Product{}, invalidInput("name is required")
	}
	if !in.Unit.Valid() {
		return domain.Product{}, invalidInput("unknown unit %q", in.Unit)
	}
	if in.SellingPrice.IsNegative() || in.CostPrice.IsNegative() {
		return domain.Product{}, invalidInput("prices must not be negative")
	}
	if in.InitialStock.IsNegative() || in.MinStockThreshold.IsNegative() {
		return domain.Product{}, invalidInput("stock quantities must not be negative")
	}
	initial := roundQty(in.InitialStock)
	if in.Unit.Countable() && !isWhole(initial) {
		return domain.Product{}, invalidInput("%s products take whole quantities", in.Unit)
	}

	now := s.clock.Now()
	product := domain.Product{
		ID:                xid.New("prd"),
		Name:              in.Name,
		Barcode:           in.Barcode,
		CategoryID:        in.CategoryID,
		Unit:              in.Unit,
		SellingPrice:      roundMoney(in.SellingPrice),
		CostPrice:         roundMoney(in.CostPrice),
		StockQuantity:     decimal.Zero,
		MinStockThreshold: roundQty(in.MinStockThreshold),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	unlock, err := acquire(ctx, s.locker, lock.ProductKey(product.ID))
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		if !initial.IsPositive() {
			return nil
		}
		cost := product.CostPrice
		result, err := s.ledger.apply(ctx, tx, domain.AdjustmentInput{
			ProductID:    product.ID,
			Delta:        initial,
			Type:         domain.AdjustmentAdd,
			NewCostPrice: &cost,
			Reason:       "initial stock",
		}, false)
		if err != nil {
			return err
		}
		product = result.product
		return nil
	})
	if err != nil {
		return domain.Product{}, classify("create product", err)
	}

	s.logger.WithFields(logrus.Fields{
		"module":     "service",
		"product_id": product.ID,
		"stock":      product.StockQuantity.String(),
	}).Info("product created")
	return product, nil
}

func (s *Service) UpdateSellingPrice(ctx context.Context, productID string, price decimal.Decimal, reason string) (domain.Product, error) {
	return s.ledger.UpdateSellingPrice(ctx, productID, price, reason)
}

func (s *Service) SoftDeleteProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.setDeleted(ctx, productID, true)
}

func (s *Service) RestoreProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.setDeleted(ctx, productID, false)
}

func (s *Service) setDeleted(ctx context.Context, productID string, deleted bool) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, invalidInput("product id is required")
	}

	unlock, err := acquire(ctx, s.locker, lock.ProductKey(productID))
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	var product domain.Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := s.ledger.loadForUpdate(ctx, tx, productID, true)
		if err != nil {
			return err
		}
		product = *current
		if product.IsDeleted == deleted {
			return nil
		}
		now := s.clock.Now()
		product.IsDeleted = deleted
		product.DeletedAt = nil
		if deleted {
			product.DeletedAt = &now
		}
		product.UpdatedAt = now
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, classify("set product deleted", err)
	}

	if err := s.cache.Delete(ctx, productID); err != nil {
		s.logger.WithFields(logrus.Fields{"module": "service", "product_id": productID}).Warnf("invalidate product cache: %v", err)
	}
	return product, nil
}

func (s *Service) ApplyStockAdjustment(ctx context.Context, in domain.AdjustmentInput) (domain.StockAdjustment, error) {
	return s.ledger.ApplyStockAdjustment(ctx, in)
}

func (s *Service) ListStockAdjustments(ctx context.Context, productID string, limit int) ([]domain.StockAdjustment, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, invalidInput("product id is required")
	}
	items, err := s.repo.ListStockAdjustments(ctx, productID, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list stock adjustments", err)
	}
	return items, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, invalidInput("product id is required")
	}
	items, err := s.repo.ListPriceHistory(ctx, productID, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list price history", err)
	}
	return items, nil
}

func (s *Service) FinalizeSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	return s.sales.FinalizeSale(ctx, req)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, &NotFoundError{Entity: "sale", ID: id}
		}
		return domain.Sale{}, classify("get sale", err)
	}
	return *sale, nil
}

func (s *Service) ProcessReturn(ctx context.Context, saleID string, lines []domain.LineReturn, reason string) (domain.ReturnRecord, error) {
	return s.returns.ProcessReturn(ctx, saleID, lines, reason)
}

func (s *Service) CancelSale(ctx context.Context, saleID string, reason string) (domain.ReturnRecord, error) {
	return s.returns.CancelSale(ctx, saleID, reason)
}

func (s *Service) ListReturns(ctx context.Context, filter store.ReturnFilter) ([]domain.ReturnRecord, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, invalidInput("from must be before to")
	}
	records, err := s.repo.ListReturns(ctx, filter)
	if err != nil {
		return nil, classify("list returns", err)
	}
	return records, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
