package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// SalesSummary aggregates sales and returns created in [from, to). Margin is
// computed from the historical cost captured on each sale item.
func (s *Service) SalesSummary(ctx context.Context, from, to time.Time) (domain.SalesSummary, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return domain.SalesSummary{}, invalidInput("from must be before to")
	}

	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.SalesSummary{}, classify("list sales", err)
	}
	returns, err := s.repo.ListReturns(ctx, store.ReturnFilter{From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, classify("list returns", err)
	}

	summary := domain.SalesSummary{
		From:         from,
		To:           to,
		GrossSales:   decimal.Zero,
		Discounts:    decimal.Zero,
		Tax:          decimal.Zero,
		NetSales:     decimal.Zero,
		CostOfGoods:  decimal.Zero,
		Refunds:      decimal.Zero,
		ReturnedCost: decimal.Zero,
	}
	byPayment := make(map[domain.PaymentMethod]*domain.PaymentTotal)
	for _, sale := range sales {
		summary.Sales++
		summary.GrossSales = summary.GrossSales.Add(sale.Subtotal)
		summary.Discounts = summary.Discounts.Add(sale.DiscountAmount)
		summary.Tax = summary.Tax.Add(sale.TaxAmount)
		summary.NetSales = summary.NetSales.Add(sale.TotalAmount)
		for _, item := range sale.Items {
			summary.CostOfGoods = summary.CostOfGoods.Add(roundMoney(item.HistoricalCostPrice.Mul(item.Quantity)))
		}
		total, ok := byPayment[sale.PaymentMethod]
		if !ok {
			total = &domain.PaymentTotal{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = total
		}
		total.Sales++
		total.Total = total.Total.Add(sale.TotalAmount)
	}

	costs := make(map[string]decimal.Decimal)
	loaded := make(map[string]bool)
	for _, record := range returns {
		summary.Returns++
		summary.Refunds = summary.Refunds.Add(record.RefundAmount)
		if !loaded[record.OriginalSaleID] {
			loaded[record.OriginalSaleID] = true
			sale, err := s.repo.GetSale(ctx, record.OriginalSaleID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.SalesSummary{}, classify("get sale", err)
			}
			if sale != nil {
				for _, item := range sale.Items {
					costs[item.ID] = item.HistoricalCostPrice
				}
			}
		}
		for _, item := range record.Items {
			summary.ReturnedCost = summary.ReturnedCost.Add(roundMoney(costs[item.SaleItemID].Mul(item.Quantity)))
		}
	}

	// Margin excludes tax and nets out returned goods.
	summary.GrossMargin = summary.NetSales.Sub(summary.Tax).Sub(summary.CostOfGoods).
		Sub(summary.Refunds).Add(summary.ReturnedCost)

	summary.ByPayment = make([]domain.PaymentTotal, 0, len(byPayment))
	for _, total := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *total)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})
	return summary, nil
}
