package service

import (
	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

const (
	moneyPlaces    = 2
	quantityPlaces = 3
)

var hundred = decimal.NewFromInt(100)

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func roundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(quantityPlaces)
}

func isWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// WeightedAverageCost recomputes unit cost after receiving delta units at
// incomingCost. When the resulting stock is not positive the current cost is
// kept.
func WeightedAverageCost(currentStock, currentCost, delta, incomingCost decimal.Decimal) decimal.Decimal {
	resulting := currentStock.Add(delta)
	if !resulting.IsPositive() {
		return currentCost
	}
	value := currentStock.Mul(currentCost).Add(delta.Mul(incomingCost))
	return roundMoney(value.Div(resulting))
}

// DiscountAmount applies the cart-level discount policy to subtotal.
func DiscountAmount(subtotal decimal.Decimal, discount domain.Discount) decimal.Decimal {
	value := roundMoney(discount.Value)
	switch discount.Type {
	case domain.DiscountFixed:
		return decimal.Min(value, subtotal)
	case domain.DiscountPercentage:
		percent := decimal.Min(discount.Value, hundred)
		return roundMoney(subtotal.Mul(percent).Div(hundred))
	case domain.DiscountTotal:
		if value.GreaterThanOrEqual(subtotal) {
			return decimal.Zero
		}
		return subtotal.Sub(value)
	default:
		return decimal.Zero
	}
}

// TaxAmount is (subtotal after discount) × rate / 100, when enabled.
func TaxAmount(base decimal.Decimal, tax domain.TaxConfig) decimal.Decimal {
	if !tax.Enabled || !tax.RatePercent.IsPositive() {
		return decimal.Zero
	}
	return roundMoney(base.Mul(tax.RatePercent).Div(hundred))
}

type settlement struct {
	AmountPaid   decimal.Decimal
	ChangeAmount decimal.Decimal
	CashAmount   decimal.Decimal
	CardAmount   decimal.Decimal
}

// settlePayment validates the tendered amounts for method against total.
func settlePayment(method domain.PaymentMethod, in domain.PaymentInput, total decimal.Decimal) (settlement, error) {
	switch method {
	case domain.PaymentCash:
		paid := roundMoney(in.AmountPaid)
		if paid.IsZero() {
			paid = roundMoney(in.CashAmount)
		}
		if paid.LessThan(total) {
			return settlement{}, &InsufficientPaymentError{Required: total, Provided: paid}
		}
		return settlement{
			AmountPaid:   paid,
			ChangeAmount: paid.Sub(total),
			CashAmount:   paid,
			CardAmount:   decimal.Zero,
		}, nil
	case domain.PaymentCard:
		paid := roundMoney(in.AmountPaid)
		if paid.IsZero() {
			paid = roundMoney(in.CardAmount)
		}
		if paid.IsZero() {
			paid = total
		}
		if paid.LessThan(total) {
			return settlement{}, &InsufficientPaymentError{Required: total, Provided: paid}
		}
		if paid.GreaterThan(total) {
			return settlement{}, invalidInput("card payment %s must equal total %s", paid.StringFixed(2), total.StringFixed(2))
		}
		return settlement{AmountPaid: total, ChangeAmount: decimal.Zero, CashAmount: decimal.Zero, CardAmount: total}, nil
	case domain.PaymentSplit:
		cash := roundMoney(in.CashAmount)
		card := roundMoney(in.CardAmount)
		if card.GreaterThan(total) {
			return settlement{}, invalidInput("card portion %s exceeds total %s", card.StringFixed(2), total.StringFixed(2))
		}
		paid := cash.Add(card)
		if paid.LessThan(total) {
			return settlement{}, &InsufficientPaymentError{Required: total, Provided: paid}
		}
		change := decimal.Max(decimal.Zero, cash.Sub(total.Sub(card)))
		return settlement{AmountPaid: paid, ChangeAmount: change, CashAmount: cash, CardAmount: card}, nil
	default:
		return settlement{}, invalidInput("unsupported payment method %q", method)
	}
}
