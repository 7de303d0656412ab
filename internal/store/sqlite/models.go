package sqlite

import (
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

// Decimals are stored as text so that amounts keep their exact scale.

type productRow struct {
	ID                string          `gorm:"primaryKey"`
	Name              string          `gorm:"not null;index"`
	Barcode           *string         `gorm:"uniqueIndex"`
	CategoryID        string          `gorm:"index"`
	Unit              string          `gorm:"not null"`
	SellingPrice      decimal.Decimal `gorm:"type:text;not null"`
	CostPrice         decimal.Decimal `gorm:"type:text;not null"`
	StockQuantity     decimal.Decimal `gorm:"type:text;not null"`
	MinStockThreshold decimal.Decimal `gorm:"type:text;not null"`
	IsDeleted         bool            `gorm:"not null;index"`
	DeletedAt         *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false"`
}

func (productRow) TableName() string { return "products" }

func newProductRow(p domain.Product) productRow {
	var barcode *string
	if p.Barcode != "" {
		b := p.Barcode
		barcode = &b
	}
	return productRow{
		ID:                p.ID,
		Name:              p.Name,
		Barcode:           barcode,
		CategoryID:        p.CategoryID,
		Unit:              string(p.Unit),
		SellingPrice:      p.SellingPrice,
		CostPrice:         p.CostPrice,
		StockQuantity:     p.StockQuantity,
		MinStockThreshold: p.MinStockThreshold,
		IsDeleted:         p.IsDeleted,
		DeletedAt:         utcPtr(p.DeletedAt),
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (r productRow) toDomain() domain.Product {
	p := domain.Product{
		ID:                r.ID,
		Name:              r.Name,
		CategoryID:        r.CategoryID,
		Unit:              domain.Unit(r.Unit),
		SellingPrice:      r.SellingPrice,
		CostPrice:         r.CostPrice,
		StockQuantity:     r.StockQuantity,
		MinStockThreshold: r.MinStockThreshold,
		IsDeleted:         r.IsDeleted,
		DeletedAt:         utcPtr(r.DeletedAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.Barcode != nil {
		p.Barcode = *r.Barcode
	}
	return p
}

type adjustmentRow struct {
	Seq                uint64          `gorm:"primaryKey;autoIncrement"`
	ID                 string          `gorm:"uniqueIndex;not null"`
	ProductID          string          `gorm:"index;not null"`
	Delta              decimal.Decimal `gorm:"type:text;not null"`
	Type               string          `gorm:"not null"`
	Reason             string
	Reference          string          `gorm:"index"`
	ResultingStock     decimal.Decimal `gorm:"type:text;not null"`
	ResultingCostPrice decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt          time.Time       `gorm:"autoCreateTime:false"`
}

func (adjustmentRow) TableName() string { return "stock_adjustments" }

func newAdjustmentRow(a domain.StockAdjustment) adjustmentRow {
	return adjustmentRow{
		ID:                 a.ID,
		ProductID:          a.ProductID,
		Delta:              a.Delta,
		Type:               string(a.Type),
		Reason:             a.Reason,
		Reference:          a.Reference,
		ResultingStock:     a.ResultingStock,
		ResultingCostPrice: a.ResultingCostPrice,
		CreatedAt:          a.CreatedAt.UTC(),
	}
}

func (r adjustmentRow) toDomain() domain.StockAdjustment {
	return domain.StockAdjustment{
		ID:                 r.ID,
		ProductID:          r.ProductID,
		Delta:              r.Delta,
		Type:               domain.AdjustmentType(r.Type),
		Reason:             r.Reason,
		Reference:          r.Reference,
		ResultingStock:     r.ResultingStock,
		ResultingCostPrice: r.ResultingCostPrice,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

type priceHistoryRow struct {
	Seq          uint64          `gorm:"primaryKey;autoIncrement"`
	ID           string          `gorm:"uniqueIndex;not null"`
	ProductID    string          `gorm:"index;not null"`
	SellingPrice decimal.Decimal `gorm:"type:text;not null"`
	CostPrice    decimal.Decimal `gorm:"type:text;not null"`
	ChangeType   string          `gorm:"not null"`
	Reason       string
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (priceHistoryRow) TableName() string { return "price_history" }

func newPriceHistoryRow(e domain.PriceHistoryEntry) priceHistoryRow {
	return priceHistoryRow{
		ID:           e.ID,
		ProductID:    e.ProductID,
		SellingPrice: e.SellingPrice,
		CostPrice:    e.CostPrice,
		ChangeType:   string(e.ChangeType),
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt.UTC(),
	}
}

func (r priceHistoryRow) toDomain() domain.PriceHistoryEntry {
	return domain.PriceHistoryEntry{
		ID:           r.ID,
		ProductID:    r.ProductID,
		SellingPrice: r.SellingPrice,
		CostPrice:    r.CostPrice,
		ChangeType:   domain.PriceChangeType(r.ChangeType),
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

type saleRow struct {
	ID             string          `gorm:"primaryKey"`
	ReceiptNumber  string          `gorm:"uniqueIndex;not null"`
	Subtotal       decimal.Decimal `gorm:"type:text;not null"`
	DiscountType   string          `gorm:"not null"`
	DiscountValue  decimal.Decimal `gorm:"type:text;not null"`
	DiscountAmount decimal.Decimal `gorm:"type:text;not null"`
	TaxRate        decimal.Decimal `gorm:"type:text;not null"`
	TaxAmount      decimal.Decimal `gorm:"type:text;not null"`
	TotalAmount    decimal.Decimal `gorm:"type:text;not null"`
	PaymentMethod  string          `gorm:"not null"`
	AmountPaid     decimal.Decimal `gorm:"type:text;not null"`
	ChangeAmount   decimal.Decimal `gorm:"type:text;not null"`
	CashAmount     decimal.Decimal `gorm:"type:text;not null"`
	CardAmount     decimal.Decimal `gorm:"type:text;not null"`
	IsReturned     bool            `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"autoCreateTime:false;index"`
	Items          []saleItemRow   `gorm:"foreignKey:SaleID"`
}

func (saleRow) TableName() string { return "sales" }

type saleItemRow struct {
	ID                  string          `gorm:"primaryKey"`
	SaleID              string          `gorm:"index;not null"`
	LineNo              int             `gorm:"not null"`
	ProductID           string          `gorm:"index;not null"`
	ProductName         string          `gorm:"not null"`
	Quantity            decimal.Decimal `gorm:"type:text;not null"`
	UnitPrice           decimal.Decimal `gorm:"type:text;not null"`
	DiscountAmount      decimal.Decimal `gorm:"type:text;not null"`
	TotalPrice          decimal.Decimal `gorm:"type:text;not null"`
	HistoricalCostPrice decimal.Decimal `gorm:"type:text;not null"`
}

func (saleItemRow) TableName() string { return "sale_items" }

func newSaleRow(s domain.Sale) saleRow {
	row := saleRow{
		ID:             s.ID,
		ReceiptNumber:  s.ReceiptNumber,
		Subtotal:       s.Subtotal,
		DiscountType:   string(s.DiscountType),
		DiscountValue:  s.DiscountValue,
		DiscountAmount: s.DiscountAmount,
		TaxRate:        s.TaxRate,
		TaxAmount:      s.TaxAmount,
		TotalAmount:    s.TotalAmount,
		PaymentMethod:  string(s.PaymentMethod),
		AmountPaid:     s.AmountPaid,
		ChangeAmount:   s.ChangeAmount,
		CashAmount:     s.CashAmount,
		CardAmount:     s.CardAmount,
		IsReturned:     s.IsReturned,
		CreatedAt:      s.CreatedAt.UTC(),
		Items:          make([]saleItemRow, 0, len(s.Items)),
	}
	for i, item := range s.Items {
		row.Items = append(row.Items, saleItemRow{
			ID:                  item.ID,
			SaleID:              s.ID,
			LineNo:              i + 1,
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			DiscountAmount:      item.DiscountAmount,
			TotalPrice:          item.TotalPrice,
			HistoricalCostPrice: item.HistoricalCostPrice,
		})
	}
	return row
}

func (r saleRow) toDomain() domain.Sale {
	sale := domain.Sale{
		ID:             r.ID,
		ReceiptNumber:  r.ReceiptNumber,
		Subtotal:       r.Subtotal,
		DiscountType:   domain.DiscountType(r.DiscountType),
		DiscountValue:  r.DiscountValue,
		DiscountAmount: r.DiscountAmount,
		TaxRate:        r.TaxRate,
		TaxAmount:      r.TaxAmount,
		TotalAmount:    r.TotalAmount,
		PaymentMethod:  domain.PaymentMethod(r.PaymentMethod),
		AmountPaid:     r.AmountPaid,
		ChangeAmount:   r.ChangeAmount,
		CashAmount:     r.CashAmount,
		CardAmount:     r.CardAmount,
		IsReturned:     r.IsReturned,
		CreatedAt:      r.CreatedAt.UTC(),
		Items:          make([]domain.SaleItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:                  item.ID,
			SaleID:              item.SaleID,
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			DiscountAmount:      item.DiscountAmount,
			TotalPrice:          item.TotalPrice,
			HistoricalCostPrice: item.HistoricalCostPrice,
		})
	}
	return sale
}

type returnRow struct {
	ID             string          `gorm:"primaryKey"`
	OriginalSaleID string          `gorm:"index;not null"`
	RefundAmount   decimal.Decimal `gorm:"type:text;not null"`
	Reason         string
	CreatedAt      time.Time       `gorm:"autoCreateTime:false;index"`
	Items          []returnItemRow `gorm:"foreignKey:ReturnID"`
}

func (returnRow) TableName() string { return "returns" }

type returnItemRow struct {
	ReturnID     string          `gorm:"primaryKey"`
	LineNo       int             `gorm:"primaryKey"`
	SaleItemID   string          `gorm:"index;not null"`
	ProductID    string          `gorm:"not null"`
	Quantity     decimal.Decimal `gorm:"type:text;not null"`
	UnitPrice    decimal.Decimal `gorm:"type:text;not null"`
	RefundAmount decimal.Decimal `gorm:"type:text;not null"`
}

func (returnItemRow) TableName() string { return "return_items" }

func newReturnRow(r domain.ReturnRecord) returnRow {
	row := returnRow{
		ID:             r.ID,
		OriginalSaleID: r.OriginalSaleID,
		RefundAmount:   r.RefundAmount,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt.UTC(),
		Items:          make([]returnItemRow, 0, len(r.Items)),
	}
	for i, item := range r.Items {
		row.Items = append(row.Items, returnItemRow{
			ReturnID:     r.ID,
			LineNo:       i + 1,
			SaleItemID:   item.SaleItemID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			RefundAmount: item.RefundAmount,
		})
	}
	return row
}

func (r returnRow) toDomain() domain.ReturnRecord {
	record := domain.ReturnRecord{
		ID:             r.ID,
		OriginalSaleID: r.OriginalSaleID,
		RefundAmount:   r.RefundAmount,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt.UTC(),
		Items:          make([]domain.ReturnedItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		record.Items = append(record.Items, domain.ReturnedItem{
			SaleItemID:   item.SaleItemID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			RefundAmount: item.RefundAmount,
		})
	}
	return record
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
