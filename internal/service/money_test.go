package service

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

func TestWeightedAverageCost(t *testing.T) {
	cases := []struct {
		name                         string
		stock, cost, delta, incoming string
		want                         string
	}{
		{name: "blend", stock: "10", cost: "5.00", delta: "10", incoming: "7.00", want: "6"},
		{name: "empty stock", stock: "0", cost: "0", delta: "50", incoming: "10.00", want: "10"},
		{name: "rounds to cents", stock: "3", cost: "1.00", delta: "1", incoming: "2.00", want: "1.25"},
		{name: "third", stock: "2", cost: "1.00", delta: "1", incoming: "2.00", want: "1.33"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverageCost(dec(tc.stock), dec(tc.cost), dec(tc.delta), dec(tc.incoming))
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDiscountAmount(t *testing.T) {
	subtotal := dec("60.00")
	cases := []struct {
		name     string
		discount domain.Discount
		want     string
	}{
		{name: "none", discount: domain.Discount{Type: domain.DiscountNone, Value: dec("5")}, want: "0"},
		{name: "fixed", discount: domain.Discount{Type: domain.DiscountFixed, Value: dec("5")}, want: "5"},
		{name: "fixed clamps to subtotal", discount: domain.Discount{Type: domain.DiscountFixed, Value: dec("75")}, want: "60"},
		{name: "percentage", discount: domain.Discount{Type: domain.DiscountPercentage, Value: dec("10")}, want: "6"},
		{name: "percentage caps at 100", discount: domain.Discount{Type: domain.DiscountPercentage, Value: dec("150")}, want: "60"},
		{name: "total override", discount: domain.Discount{Type: domain.DiscountTotal, Value: dec("50")}, want: "10"},
		{name: "total above subtotal", discount: domain.Discount{Type: domain.DiscountTotal, Value: dec("65")}, want: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DiscountAmount(subtotal, tc.discount)
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if subtotal.Sub(got).IsNegative() {
				t.Fatalf("discount produced a negative total")
			}
		})
	}
}

func TestTaxAmount(t *testing.T) {
	if got := TaxAmount(dec("54.00"), domain.TaxConfig{Enabled: true, RatePercent: dec("11")}); !got.Equal(dec("5.94")) {
		t.Fatalf("expected 5.94, got %s", got)
	}
	if got := TaxAmount(dec("54.00"), domain.TaxConfig{Enabled: false, RatePercent: dec("11")}); !got.IsZero() {
		t.Fatalf("expected no tax when disabled, got %s", got)
	}
}

func TestSettlePayment(t *testing.T) {
	total := dec("100.00")

	t.Run("split exact", func(t *testing.T) {
		got, err := settlePayment(domain.PaymentSplit, domain.PaymentInput{CashAmount: dec("40"), CardAmount: dec("60")}, total)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.ChangeAmount.IsZero() {
			t.Fatalf("expected no change, got %s", got.ChangeAmount)
		}
	})

	t.Run("split cash only gives change", func(t *testing.T) {
		got, err := settlePayment(domain.PaymentSplit, domain.PaymentInput{CashAmount: dec("110"), CardAmount: decimal.Zero}, total)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.ChangeAmount.Equal(dec("10")) {
			t.Fatalf("expected change 10, got %s", got.ChangeAmount)
		}
	})

	t.Run("split card above total", func(t *testing.T) {
		_, err := settlePayment(domain.PaymentSplit, domain.PaymentInput{CashAmount: dec("0"), CardAmount: dec("120")}, total)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("split short", func(t *testing.T) {
		_, err := settlePayment(domain.PaymentSplit, domain.PaymentInput{CashAmount: dec("30"), CardAmount: dec("60")}, total)
		var paymentErr *InsufficientPaymentError
		if !errors.As(err, &paymentErr) {
			t.Fatalf("expected insufficient payment, got %v", err)
		}
		if !paymentErr.Provided.Equal(dec("90")) {
			t.Fatalf("expected provided 90, got %s", paymentErr.Provided)
		}
	})

	t.Run("cash short", func(t *testing.T) {
		_, err := settlePayment(domain.PaymentCash, domain.PaymentInput{AmountPaid: dec("99.99")}, total)
		if !errors.Is(err, ErrInsufficientPayment) {
			t.Fatalf("expected insufficient payment, got %v", err)
		}
	})

	t.Run("card defaults to total", func(t *testing.T) {
		got, err := settlePayment(domain.PaymentCard, domain.PaymentInput{}, total)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.CardAmount.Equal(total) || !got.ChangeAmount.IsZero() {
			t.Fatalf("unexpected card settlement: %+v", got)
		}
	})

	t.Run("card overpay", func(t *testing.T) {
		_, err := settlePayment(domain.PaymentCard, domain.PaymentInput{AmountPaid: dec("120")}, total)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}
