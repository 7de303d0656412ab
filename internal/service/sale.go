package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const (
	maxReceiptAttempts = 100
	maxSaleRetries     = 3
)

// SaleProcessor turns a cart into a committed Sale, decrementing stock through
// the Ledger in the same transaction.
type SaleProcessor struct {
	repo          store.Repository
	locker        lock.Locker
	ledger        *Ledger
	notify        *notifier
	clock         Clock
	logger        *logrus.Logger
	receiptPrefix string
}

func (p *SaleProcessor) FinalizeSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	req, err := normalizeSaleRequest(req)
	if err != nil {
		return domain.Sale{}, err
	}

	keys := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		keys = append(keys, lock.ProductKey(line.ProductID))
	}
	unlock, err := acquire(ctx, p.locker, keys...)
	if err != nil {
		return domain.Sale{}, err
	}
	defer unlock()

	var (
		sale    domain.Sale
		touched []domain.Product
	)
	for attempt := 1; ; attempt++ {
		sale, touched, err = p.commit(ctx, req)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrDuplicateReceipt) && attempt < maxSaleRetries {
			p.logger.WithFields(logrus.Fields{
				"module":  "service",
				"attempt": attempt,
			}).Warn("receipt number collision, retrying sale")
			continue
		}
		return domain.Sale{}, classify("finalize sale", err)
	}

	p.notify.committed(ctx, touched, sale.ID, true)
	p.logger.WithFields(logrus.Fields{
		"module":         "service",
		"sale_id":        sale.ID,
		"receipt_number": sale.ReceiptNumber,
		"total":          sale.TotalAmount.StringFixed(2),
		"payment_method": sale.PaymentMethod,
		"items":          len(sale.Items),
	}).Info("sale finalized")
	return sale, nil
}

func (p *SaleProcessor) commit(ctx context.Context, req domain.SaleRequest) (domain.Sale, []domain.Product, error) {
	var (
		sale    domain.Sale
		touched []domain.Product
	)
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		touched = touched[:0]

		products, err := p.loadCart(ctx, tx, req.Lines)
		if err != nil {
			return err
		}

		now := p.clock.Now()
		sale = domain.Sale{
			ID:            xid.New("sale"),
			DiscountType:  req.Discount.Type,
			DiscountValue: roundMoney(req.Discount.Value),
			PaymentMethod: req.PaymentMethod,
			CreatedAt:     now,
		}

		subtotal := decimal.Zero
		items := make([]domain.SaleItem, 0, len(req.Lines))
		for _, line := range req.Lines {
			product := products[line.ProductID]
			unitPrice := product.SellingPrice
			if line.UnitPrice != nil {
				unitPrice = roundMoney(*line.UnitPrice)
			}
			gross := roundMoney(unitPrice.Mul(line.Quantity))
			lineDiscount := decimal.Min(roundMoney(line.Discount), gross)
			total := gross.Sub(lineDiscount)
			subtotal = subtotal.Add(total)
			items = append(items, domain.SaleItem{
				ID:                  xid.New("si"),
				SaleID:              sale.ID,
				ProductID:           product.ID,
				ProductName:         product.Name,
				Quantity:            line.Quantity,
				UnitPrice:           unitPrice,
				DiscountAmount:      lineDiscount,
				TotalPrice:          total,
				HistoricalCostPrice: product.CostPrice,
			})
		}

		discount := DiscountAmount(subtotal, req.Discount)
		taxBase := subtotal.Sub(discount)
		tax := TaxAmount(taxBase, req.Tax)
		total := taxBase.Add(tax)

		paid, err := settlePayment(req.PaymentMethod, req.Payment, total)
		if err != nil {
			return err
		}

		sale.Subtotal = subtotal
		sale.DiscountAmount = discount
		sale.TaxAmount = tax
		if req.Tax.Enabled {
			sale.TaxRate = req.Tax.RatePercent
		}
		sale.TotalAmount = total
		sale.AmountPaid = paid.AmountPaid
		sale.ChangeAmount = paid.ChangeAmount
		sale.CashAmount = paid.CashAmount
		sale.CardAmount = paid.CardAmount
		sale.Items = items

		latest := make(map[string]domain.Product, len(products))
		for _, item := range items {
			result, err := p.ledger.apply(ctx, tx, domain.AdjustmentInput{
				ProductID: item.ProductID,
				Delta:     item.Quantity.Neg(),
				Type:      domain.AdjustmentSale,
				Reason:    "sale",
				Reference: sale.ID,
			}, false)
			if err != nil {
				return err
			}
			latest[item.ProductID] = result.product
		}
		for _, product := range latest {
			touched = append(touched, product)
		}
		sort.Slice(touched, func(i, j int) bool { return touched[i].ID < touched[j].ID })

		receipt, err := p.nextReceiptNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		sale.ReceiptNumber = receipt

		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return domain.Sale{}, nil, err
	}
	return sale, touched, nil
}

// loadCart locks every product in the cart and checks aggregated quantities
// against stock before anything is written.
func (p *SaleProcessor) loadCart(ctx context.Context, tx store.Tx, lines []domain.CartLine) (map[string]*domain.Product, error) {
	requested := make(map[string]decimal.Decimal, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] = requested[line.ProductID].Add(line.Quantity)
	}
	sort.Strings(order)

	products := make(map[string]*domain.Product, len(order))
	for _, id := range order {
		product, err := p.ledger.loadForUpdate(ctx, tx, id, false)
		if err != nil {
			return nil, err
		}
		products[id] = product
	}

	for _, line := range lines {
		product := products[line.ProductID]
		if product.Unit.Countable() && !isWhole(line.Quantity) {
			return nil, invalidInput("product %s is sold in whole %s units", product.ID, product.Unit)
		}
	}
	for _, id := range order {
		product := products[id]
		if requested[id].GreaterThan(product.StockQuantity) {
			return nil, &InsufficientStockError{
				ProductID: id,
				Requested: requested[id],
				Available: product.StockQuantity,
			}
		}
	}
	return products, nil
}

func (p *SaleProcessor) nextReceiptNumber(ctx context.Context, tx store.Tx, at time.Time) (string, error) {
	for attempt := 1; attempt <= maxReceiptAttempts; attempt++ {
		candidate := xid.Receipt(p.receiptPrefix, at, attempt)
		exists, err := tx.ReceiptNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", store.ErrDuplicateReceipt
}

func normalizeSaleRequest(req domain.SaleRequest) (domain.SaleRequest, error) {
	if len(req.Lines) == 0 {
		return req, ErrNoItemsSelected
	}
	lines := make([]domain.CartLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return req, invalidInput("line %d: product id is required", i+1)
		}
		line.Quantity = roundQty(line.Quantity)
		if !line.Quantity.IsPositive() {
			return req, invalidInput("line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return req, invalidInput("line %d: unit price must not be negative", i+1)
		}
		if line.Discount.IsNegative() {
			return req, invalidInput("line %d: discount must not be negative", i+1)
		}
		lines = append(lines, line)
	}
	req.Lines = lines

	if req.Discount.Type == "" {
		req.Discount.Type = domain.DiscountNone
	}
	switch req.Discount.Type {
	case domain.DiscountNone, domain.DiscountFixed, domain.DiscountPercentage, domain.DiscountTotal:
	default:
		return req, invalidInput("unknown discount type %q", req.Discount.Type)
	}
	if req.Discount.Value.IsNegative() {
		return req, invalidInput("discount value must not be negative")
	}
	if req.Discount.Type == domain.DiscountNone {
		req.Discount.Value = decimal.Zero
	}

	if req.Tax.RatePercent.IsNegative() || req.Tax.RatePercent.GreaterThan(hundred) {
		return req, invalidInput("tax rate must be between 0 and 100")
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentSplit:
	default:
		return req, invalidInput("unsupported payment method %q", req.PaymentMethod)
	}
	if req.Payment.AmountPaid.IsNegative() || req.Payment.CashAmount.IsNegative() || req.Payment.CardAmount.IsNegative() {
		return req, invalidInput("payment amounts must not be negative")
	}
	return req, nil
}
