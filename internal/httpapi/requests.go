package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/service"
)

type createProductRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Barcode           string          `json:"barcode" validate:"omitempty,max=64"`
	CategoryID        string          `json:"category_id" validate:"omitempty,max=64"`
	Unit              string          `json:"unit" validate:"required,oneof=piece kg g l ml m box"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	InitialStock      decimal.Decimal `json:"initial_stock"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
}

func (req createProductRequest) toInput() domain.ProductInput {
	return domain.ProductInput{
		Name:              strings.TrimSpace(req.Name),
		Barcode:           strings.TrimSpace(req.Barcode),
		CategoryID:        strings.TrimSpace(req.CategoryID),
		Unit:              domain.Unit(req.Unit),
		SellingPrice:      req.SellingPrice,
		CostPrice:         req.CostPrice,
		InitialStock:      req.InitialStock,
		MinStockThreshold: req.MinStockThreshold,
	}
}

type sellingPriceRequest struct {
	SellingPrice *decimal.Decimal `json:"selling_price" validate:"required"`
	Reason       string           `json:"reason" validate:"max=500"`
}

type adjustmentRequest struct {
	Delta           decimal.Decimal  `json:"delta"`
	Type            string           `json:"type" validate:"required,oneof=add remove"`
	NewCostPrice    *decimal.Decimal `json:"new_cost_price"`
	NewSellingPrice *decimal.Decimal `json:"new_selling_price"`
	Reason          string           `json:"reason" validate:"max=500"`
	Reference       string           `json:"reference" validate:"max=128"`
}

func (req adjustmentRequest) toInput(productID string) domain.AdjustmentInput {
	return domain.AdjustmentInput{
		ProductID:       productID,
		Delta:           req.Delta,
		Type:            domain.AdjustmentType(req.Type),
		NewCostPrice:    req.NewCostPrice,
		NewSellingPrice: req.NewSellingPrice,
		Reason:          req.Reason,
		Reference:       req.Reference,
	}
}

type cartLineRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal  `json:"discount"`
}

type discountRequest struct {
	Type  string          `json:"type" validate:"omitempty,oneof=none fixed percentage total"`
	Value decimal.Decimal `json:"value"`
}

type taxRequest struct {
	Enabled     bool            `json:"enabled"`
	RatePercent decimal.Decimal `json:"rate_percent"`
}

type paymentRequest struct {
	AmountPaid decimal.Decimal `json:"amount_paid"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	CardAmount decimal.Decimal `json:"card_amount"`
}

type saleRequest struct {
	Lines         []cartLineRequest `json:"lines" validate:"dive"`
	Discount      *discountRequest  `json:"discount"`
	Tax           *taxRequest       `json:"tax"`
	PaymentMethod string            `json:"payment_method" validate:"omitempty,oneof=cash card split"`
	Payment       paymentRequest    `json:"payment"`
}

// toDomain fills in the register's configured tax when the request carries none.
func (req saleRequest) toDomain(defaultTax domain.TaxConfig) domain.SaleRequest {
	out := domain.SaleRequest{
		Lines:         make([]domain.CartLine, 0, len(req.Lines)),
		Tax:           defaultTax,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Payment: domain.PaymentInput{
			AmountPaid: req.Payment.AmountPaid,
			CashAmount: req.Payment.CashAmount,
			CardAmount: req.Payment.CardAmount,
		},
	}
	for _, line := range req.Lines {
		out.Lines = append(out.Lines, domain.CartLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.Discount,
		})
	}
	if req.Discount != nil {
		out.Discount = domain.Discount{Type: domain.DiscountType(req.Discount.Type), Value: req.Discount.Value}
	}
	if req.Tax != nil {
		out.Tax = domain.TaxConfig{Enabled: req.Tax.Enabled, RatePercent: req.Tax.RatePercent}
	}
	return out
}

type returnLineRequest struct {
	SaleItemID string          `json:"sale_item_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type returnRequest struct {
	Items  []returnLineRequest `json:"items" validate:"required,min=1,dive"`
	Reason string              `json:"reason" validate:"max=500"`
}

func (req returnRequest) lines() []domain.LineReturn {
	lines := make([]domain.LineReturn, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.LineReturn{SaleItemID: strings.TrimSpace(item.SaleItemID), Quantity: item.Quantity})
	}
	return lines
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// bind decodes the JSON body into dest and runs struct validation. Both
// failures come back wrapped in service.ErrInvalidInput.
func (a *API) bind(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	if err := a.validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

// bindOptional is bind for endpoints whose body may be empty.
func (a *API) bindOptional(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		if err := a.validate.Struct(dest); err != nil {
			return validationError(err)
		}
		return nil
	}
	return a.bind(r, dest)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		if fieldErr.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, strings.Join(msgs, "; "))
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseBool(raw string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && parsed
}

// parseRange reads from/to as RFC 3339 timestamps or YYYY-MM-DD dates. A
// missing to covers one day from from.
func parseRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	from, err := parseInstant(rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", service.ErrInvalidInput, err)
	}
	if strings.TrimSpace(rawTo) == "" {
		return from, from.AddDate(0, 0, 1), nil
	}
	to, err := parseInstant(rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", service.ErrInvalidInput, err)
	}
	return from, to, nil
}

func parseInstant(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errors.New("value required")
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", trimmed)
	}
	return t.UTC(), nil
}
