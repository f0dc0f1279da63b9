package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryItem is one row of the remote inventory table, keyed by SKU.
// Rows are overwritten wholesale on each ingest; the derived fields are
// always recomputed by the ingestor, never trusted from the source file.
type InventoryItem struct {
	SKU         string          `gorm:"column:sku;primaryKey" json:"sku"`
	ProductName string          `gorm:"not null" json:"product_name"`
	Vendor      string          `json:"vendor"`
	Brand       string          `json:"brand"`
	Price       decimal.Decimal `gorm:"type:numeric" json:"price"`
	Cost        decimal.Decimal `gorm:"type:numeric" json:"cost"`
	TotalStock  int             `json:"total_stock"`
	Committed   int             `json:"committed"`
	OpenStock   int             `json:"open_stock"`
	QtyOnOrder  int             `gorm:"column:qty_on_order" json:"qty_on_order"`
	GrossMargin decimal.Decimal `gorm:"type:numeric" json:"gross_margin"`
	TotalRetail decimal.Decimal `gorm:"type:numeric" json:"total_retail"`
	TotalCost   decimal.Decimal `gorm:"type:numeric" json:"total_cost"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name for InventoryItem
func (InventoryItem) TableName() string {
	return "inventory"
}

// Fulfillment methods for order items.
const (
	FulfillmentPickup   = "pickup"
	FulfillmentDelivery = "delivery"
	FulfillmentShipping = "shipping"
)

// Address is a postal address embedded in orders and fulfillment choices.
type Address struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
}

// Fulfillment is a tagged choice: exactly one of the variant fields is
// meaningful, selected by Method. Pickup carries a location id, delivery and
// shipping carry an address, shipping additionally carries a cost.
type Fulfillment struct {
	Method       string          `json:"method"`
	LocationID   int             `json:"location,omitempty"`
	Address      *Address        `json:"address,omitempty"`
	ShippingCost decimal.Decimal `json:"shippingCost,omitempty"`
}

// Validate checks that the fulfillment descriptor names a known method and
// carries the fields that method requires.
func (f Fulfillment) Validate() error {
	switch f.Method {
	case FulfillmentPickup:
		if f.LocationID == 0 {
			return errors.New("pickup fulfillment missing location id")
		}
	case FulfillmentDelivery, FulfillmentShipping:
		if f.Address == nil {
			return errors.Errorf("%s fulfillment missing address", f.Method)
		}
	default:
		return errors.Errorf("unknown fulfillment method %q", f.Method)
	}
	return nil
}

// OrderItem is one line of an order, stored inside the order's items JSON.
type OrderItem struct {
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	ShippingCost decimal.Decimal `json:"shippingCost,omitempty"`
	Fulfillment  Fulfillment     `json:"fulfillment"`
}

// Subtotal returns price multiplied by quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is one row of the remote orders table. Orders are created by the
// ordering system; this daemon only ever flips printed from false to true,
// together with printed_at and pdf_path. All other fields are read-only here.
type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber     string          `gorm:"not null;uniqueIndex" json:"order_number"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	FirstName       string          `gorm:"column:customer_first_name" json:"customer_first_name"`
	LastName        string          `gorm:"column:customer_last_name" json:"customer_last_name"`
	Email           string          `gorm:"column:customer_email" json:"customer_email"`
	Phone           string          `gorm:"column:customer_phone" json:"customer_phone"`
	ShippingAddress *Address        `gorm:"column:customer_shipping_address;type:jsonb;serializer:json" json:"customer_shipping_address,omitempty"`
	Items           []OrderItem     `gorm:"type:jsonb;serializer:json" json:"items"`
	Subtotal        decimal.Decimal `gorm:"type:numeric" json:"subtotal"`
	ShippingCost    decimal.Decimal `gorm:"type:numeric" json:"shipping_cost"`
	TaxAmount       decimal.Decimal `gorm:"type:numeric" json:"tax_amount"`
	Total           decimal.Decimal `gorm:"type:numeric" json:"total"`
	PaymentStatus   string          `json:"payment_status"`
	Printed         bool            `gorm:"not null;default:false" json:"printed"`
	PrintedAt       *time.Time      `json:"printed_at,omitempty"`
	PDFPath         *string         `gorm:"column:pdf_path" json:"pdf_path,omitempty"`
}

// TableName overrides the table name for Order
func (Order) TableName() string {
	return "orders"
}

// HasShippingItems reports whether any item of the order ships by carrier.
func (o *Order) HasShippingItems() bool {
	for _, item := range o.Items {
		if item.Fulfillment.Method == FulfillmentShipping {
			return true
		}
	}
	return false
}

// DailySales is one summarized sales report row, keyed by store and date.
type DailySales struct {
	StoreName         string          `gorm:"primaryKey" json:"store_name"`
	ReportDate        time.Time       `gorm:"primaryKey;type:date" json:"report_date"`
	TotalTransactions int             `json:"total_transactions"`
	TotalQtySold      int             `json:"total_qty_sold"`
	TotalSales        decimal.Decimal `gorm:"type:numeric" json:"total_sales"`
	TotalCOGS         decimal.Decimal `gorm:"column:total_cogs;type:numeric" json:"total_cogs"`
	TotalGrossProfit  decimal.Decimal `gorm:"type:numeric" json:"total_gross_profit"`
	AvgGrossMargin    decimal.Decimal `gorm:"type:numeric" json:"avg_gross_margin"`
	TotalDiscounts    decimal.Decimal `gorm:"type:numeric" json:"total_discounts"`
	TotalTax          decimal.Decimal `gorm:"type:numeric" json:"total_tax"`
	TotalReceipts     decimal.Decimal `gorm:"type:numeric" json:"total_receipts"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name for DailySales
func (DailySales) TableName() string {
	return "daily_sales"
}

// SetupModels runs migrations for all models
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&InventoryItem{},
		&Order{},
		&DailySales{},
	); err != nil {
		return errors.Wrap(err, "failed to migrate models")
	}
	return nil
}
