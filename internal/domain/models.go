package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitPiece Unit = "piece"
	UnitKg    Unit = "kg"
	UnitGram  Unit = "g"
	UnitLiter Unit = "l"
	UnitMl    Unit = "ml"
	UnitMeter Unit = "m"
	UnitBox   Unit = "box"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitPiece, UnitKg, UnitGram, UnitLiter, UnitMl, UnitMeter, UnitBox:
		return true
	default:
		return false
	}
}

// Countable reports whether the unit is sold in whole quantities only.
func (u Unit) Countable() bool {
	return u == UnitPiece || u == UnitBox
}

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Barcode           string          `json:"barcode,omitempty"`
	CategoryID        string          `json:"category_id,omitempty"`
	Unit              Unit            `json:"unit"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	StockQuantity     decimal.Decimal `json:"stock_quantity"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
	IsDeleted         bool            `json:"is_deleted"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLowStock reports whether stock has reached the reorder threshold.
func (p Product) IsLowStock() bool {
	return p.StockQuantity.LessThanOrEqual(p.MinStockThreshold)
}

type ProductInput struct {
	Name              string          `json:"name"`
	Barcode           string          `json:"barcode,omitempty"`
	CategoryID        string          `json:"category_id,omitempty"`
	Unit              Unit            `json:"unit"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	InitialStock      decimal.Decimal `json:"initial_stock"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
}

type ProductFilter struct {
	IncludeDeleted bool
	LowStockOnly   bool
}

type AdjustmentType string

const (
	AdjustmentAdd    AdjustmentType = "add"
	AdjustmentRemove AdjustmentType = "remove"
	AdjustmentSale   AdjustmentType = "sale"
	AdjustmentReturn AdjustmentType = "return"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentAdd, AdjustmentRemove, AdjustmentSale, AdjustmentReturn:
		return true
	default:
		return false
	}
}

// Inbound reports whether the adjustment type must carry a positive delta.
func (t AdjustmentType) Inbound() bool {
	return t == AdjustmentAdd || t == AdjustmentReturn
}

type StockAdjustment struct {
	ID                 string          `json:"id"`
	ProductID          string          `json:"product_id"`
	Delta              decimal.Decimal `json:"delta"`
	Type               AdjustmentType  `json:"type"`
	Reason             string          `json:"reason,omitempty"`
	Reference          string          `json:"reference,omitempty"`
	ResultingStock     decimal.Decimal `json:"resulting_stock"`
	ResultingCostPrice decimal.Decimal `json:"resulting_cost_price"`
	CreatedAt          time.Time       `json:"created_at"`
}

type AdjustmentInput struct {
	ProductID       string           `json:"product_id"`
	Delta           decimal.Decimal  `json:"delta"`
	Type            AdjustmentType   `json:"type"`
	NewCostPrice    *decimal.Decimal `json:"new_cost_price,omitempty"`
	NewSellingPrice *decimal.Decimal `json:"new_selling_price,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Reference       string           `json:"reference,omitempty"`
}

type PriceChangeType string

const (
	PriceChangeSelling PriceChangeType = "selling_price"
	PriceChangeCost    PriceChangeType = "cost_price"
	PriceChangeBoth    PriceChangeType = "both"
)

type PriceHistoryEntry struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	ChangeType   PriceChangeType `json:"change_type"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentSplit PaymentMethod = "split"
)

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
	DiscountTotal      DiscountType = "total"
)

type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type TaxConfig struct {
	Enabled     bool            `json:"enabled"`
	RatePercent decimal.Decimal `json:"rate_percent"`
}

type CartLine struct {
	ProductID string           `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Discount  decimal.Decimal  `json:"discount"`
}

type PaymentInput struct {
	AmountPaid decimal.Decimal `json:"amount_paid"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	CardAmount decimal.Decimal `json:"card_amount"`
}

type SaleRequest struct {
	Lines         []CartLine    `json:"lines"`
	Discount      Discount      `json:"discount"`
	Tax           TaxConfig     `json:"tax"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Payment       PaymentInput  `json:"payment"`
}

type Sale struct {
	ID             string          `json:"id"`
	ReceiptNumber  string          `json:"receipt_number"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountType   DiscountType    `json:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ChangeAmount   decimal.Decimal `json:"change_amount"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
	CardAmount     decimal.Decimal `json:"card_amount"`
	IsReturned     bool            `json:"is_returned"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []SaleItem      `json:"items"`
}

type SaleItem struct {
	ID                  string          `json:"id"`
	SaleID              string          `json:"sale_id"`
	ProductID           string          `json:"product_id"`
	ProductName         string          `json:"product_name"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	HistoricalCostPrice decimal.Decimal `json:"historical_cost_price"`
}

type LineReturn struct {
	SaleItemID string          `json:"sale_item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type ReturnedItem struct {
	SaleItemID   string          `json:"sale_item_id"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type ReturnRecord struct {
	ID             string          `json:"id"`
	OriginalSaleID string          `json:"original_sale_id"`
	Items          []ReturnedItem  `json:"items"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type LowStockEvent struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	Threshold    decimal.Decimal `json:"threshold"`
	Reference    string          `json:"reference,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

type SalesSummary struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Sales        int64           `json:"sales"`
	GrossSales   decimal.Decimal `json:"gross_sales"`
	Discounts    decimal.Decimal `json:"discounts"`
	Tax          decimal.Decimal `json:"tax"`
	NetSales     decimal.Decimal `json:"net_sales"`
	CostOfGoods  decimal.Decimal `json:"cost_of_goods"`
	GrossMargin  decimal.Decimal `json:"gross_margin"`
	Returns      int64           `json:"returns"`
	Refunds      decimal.Decimal `json:"refunds"`
	ReturnedCost decimal.Decimal `json:"returned_cost"`
	ByPayment    []PaymentTotal  `json:"by_payment"`
}

type PaymentTotal struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Sales         int64           `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}
