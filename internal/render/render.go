// Package render turns an order into a printable fulfillment PDF. Rendering
// is a pure function of the order and the injected clock: rendering the same
// order twice with the same clock yields byte-identical output, which is what
// makes overwriting a leftover document on retry safe.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"example.com/storesync/internal/models"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// RenderError reports a malformed order that cannot be rendered until the
// upstream data is fixed. Zero quantities and totals are not malformed; they
// render as-is.
type RenderError struct {
	OrderNumber string
	Reason      string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("cannot render order %s: %s", e.OrderNumber, e.Reason)
}

// pickupLocations resolves fulfillment location ids to store names.
var pickupLocations = map[int]string{
	1: "Yakima",
	2: "Toppenish",
}

// LocationName returns the store name for a pickup location id.
func LocationName(id int) string {
	if name, ok := pickupLocations[id]; ok {
		return name
	}
	return fmt.Sprintf("Location %d", id)
}

const (
	inch       = 72.0
	pageBottom = 2 * inch
)

// Renderer produces fulfillment documents. Now supplies the render
// timestamp; it defaults to time.Now and is pinned in tests and retries.
type Renderer struct {
	Now func() time.Time
}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{Now: time.Now}
}

// FileName returns the deterministic document name for an order. Deriving it
// from the order number alone is deliberate: a retry lands on the same path
// and overwrites the reproducible document instead of piling up copies.
func FileName(orderNumber string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, orderNumber)
	return fmt.Sprintf("order_%s.pdf", safe)
}

// Render produces the fulfillment document and its suggested file name.
func (r *Renderer) Render(order *models.Order) ([]byte, string, error) {
	if err := validate(order); err != nil {
		return nil, "", err
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	renderedAt := now()

	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetCreationDate(renderedAt)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	width, height := pdf.GetPageSize()

	y := 0.75 * inch

	// Header
	setColor(pdf, colorPrimary)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.Text(0.75*inch, y, fmt.Sprintf("ORDER #%s", order.OrderNumber))

	y += 0.4 * inch
	setColor(pdf, colorText)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(0.75*inch, y, "Received: "+order.CreatedAt.UTC().Format("January 2, 2006 at 3:04 PM"))

	// Payment status badge
	if strings.EqualFold(order.PaymentStatus, "paid") {
		setColor(pdf, colorSuccess)
	} else {
		setColor(pdf, colorAlert)
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Text(width-1.5*inch, y, strings.ToUpper(order.PaymentStatus))

	y += 0.6 * inch
	y = r.customerSection(pdf, order, width, y)

	y += 0.5 * inch
	y = sectionHeader(pdf, "ORDER ITEMS - FULFILLMENT INSTRUCTIONS", width, y)

	y += 0.4 * inch
	for idx, item := range order.Items {
		if y > height-pageBottom {
			pdf.AddPage()
			y = inch
		}
		y = r.itemBlock(pdf, item, idx, width, y)
	}

	y = r.totalsSection(pdf, order, width, y)

	// Footer carries the render time, not the order time
	pdf.SetFont("Helvetica", "", 8)
	setColor(pdf, colorGray)
	footer := "Generated on " + renderedAt.UTC().Format("2006-01-02 15:04:05")
	pdf.Text(width/2-pdf.GetStringWidth(footer)/2, height-0.5*inch, footer)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", &RenderError{OrderNumber: order.OrderNumber, Reason: err.Error()}
	}
	return buf.Bytes(), FileName(order.OrderNumber), nil
}

// validate rejects orders with missing required customer or item fields.
func validate(order *models.Order) error {
	if order.OrderNumber == "" {
		return &RenderError{OrderNumber: "?", Reason: "missing order number"}
	}
	if order.FirstName == "" && order.LastName == "" {
		return &RenderError{OrderNumber: order.OrderNumber, Reason: "missing customer name"}
	}
	if order.Email == "" {
		return &RenderError{OrderNumber: order.OrderNumber, Reason: "missing customer email"}
	}
	if len(order.Items) == 0 {
		return &RenderError{OrderNumber: order.OrderNumber, Reason: "order has no items"}
	}
	for i, item := range order.Items {
		if item.Name == "" {
			return &RenderError{OrderNumber: order.OrderNumber, Reason: fmt.Sprintf("item %d missing name", i)}
		}
		if err := item.Fulfillment.Validate(); err != nil {
			return &RenderError{OrderNumber: order.OrderNumber, Reason: fmt.Sprintf("item %d: %v", i, err)}
		}
	}
	return nil
}

func (r *Renderer) customerSection(pdf *gofpdf.Fpdf, order *models.Order, width, y float64) float64 {
	y = sectionHeader(pdf, "CUSTOMER INFORMATION", width, y)

	y += 0.35 * inch
	y = labeledLine(pdf, "Name:", strings.TrimSpace(order.FirstName+" "+order.LastName), y)
	y = labeledLine(pdf, "Email:", order.Email, y)
	phone := order.Phone
	if phone == "" {
		phone = "N/A"
	}
	y = labeledLine(pdf, "Phone:", phone, y)

	if addr := order.ShippingAddress; addr != nil {
		pdf.SetFont("Helvetica", "B", 11)
		setColor(pdf, colorText)
		pdf.Text(0.85*inch, y, "Shipping Address:")
		y += 0.2 * inch
		pdf.SetFont("Helvetica", "", 10)
		for _, line := range addressLines(addr) {
			pdf.Text(1.5*inch, y, line)
			y += 0.15 * inch
		}
	}
	return y
}

func (r *Renderer) itemBlock(pdf *gofpdf.Fpdf, item models.OrderItem, idx int, width, y float64) float64 {
	// Alternating row background
	if idx%2 == 0 {
		pdf.SetFillColor(245, 245, 245)
		pdf.Rect(0.75*inch, y-0.15*inch, width-1.5*inch, 1.05*inch, "F")
	}

	setColor(pdf, colorText)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(0.85*inch, y, fmt.Sprintf("%dx %s", item.Quantity, item.Name))

	y += 0.25 * inch
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(0.95*inch, y, fmt.Sprintf("Price: $%s each  |  Subtotal: $%s",
		item.Price.StringFixed(2), item.Subtotal().StringFixed(2)))

	y += 0.3 * inch
	setColor(pdf, colorPrimary)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(0.95*inch, y, "ACTION REQUIRED: "+fulfillmentSummary(item.Fulfillment))

	y += 0.2 * inch
	setColor(pdf, colorGray)
	pdf.SetFont("Helvetica", "", 9)
	for _, line := range fulfillmentDetail(item) {
		pdf.Text(0.95*inch, y, line)
		y += 0.15 * inch
	}

	return y + 0.35*inch
}

func (r *Renderer) totalsSection(pdf *gofpdf.Fpdf, order *models.Order, width, y float64) float64 {
	y += 0.2 * inch
	pdf.SetDrawColor(102, 102, 102)
	pdf.SetLineWidth(1)
	pdf.Line(0.75*inch, y, width-0.75*inch, y)

	setColor(pdf, colorText)
	pdf.SetFont("Helvetica", "", 11)
	y += 0.3 * inch
	y = totalLine(pdf, "Subtotal:", order.Subtotal, width, y)
	y = totalLine(pdf, "Shipping:", order.ShippingCost, width, y)
	y = totalLine(pdf, "Tax:", order.TaxAmount, width, y)

	y += 0.1 * inch
	pdf.SetFont("Helvetica", "B", 13)
	y = totalLine(pdf, "TOTAL:", order.Total, width, y)
	return y
}

// fulfillmentSummary is the bold one-line instruction for the floor worker.
func fulfillmentSummary(f models.Fulfillment) string {
	switch f.Method {
	case models.FulfillmentPickup:
		return "PICKUP at " + LocationName(f.LocationID)
	case models.FulfillmentDelivery:
		return "DELIVERY to " + f.Address.City
	case models.FulfillmentShipping:
		return fmt.Sprintf("SHIPPING to %s, %s", f.Address.City, f.Address.State)
	default:
		return strings.ToUpper(f.Method)
	}
}

// fulfillmentDetail is the small-print follow-up under the summary.
func fulfillmentDetail(item models.OrderItem) []string {
	f := item.Fulfillment
	switch f.Method {
	case models.FulfillmentPickup:
		return []string{fmt.Sprintf("- Prepare for customer pickup at %s location", LocationName(f.LocationID))}
	case models.FulfillmentDelivery:
		return []string{fmt.Sprintf("- Deliver to: %s, %s", firstAddressLine(f.Address), f.Address.City)}
	case models.FulfillmentShipping:
		lines := []string{fmt.Sprintf("- Ship to: %s, %s %s", f.Address.City, f.Address.State, f.Address.ZipCode)}
		cost := f.ShippingCost
		if cost.IsZero() {
			cost = item.ShippingCost
		}
		if !cost.IsZero() {
			lines = append(lines, fmt.Sprintf("  Shipping cost: $%s", cost.StringFixed(2)))
		}
		return lines
	}
	return nil
}

func addressLines(addr *models.Address) []string {
	var lines []string
	if first := firstAddressLine(addr); first != "" {
		lines = append(lines, first)
	}
	if addr.Address2 != "" {
		lines = append(lines, addr.Address2)
	}
	lines = append(lines, fmt.Sprintf("%s, %s %s", addr.City, addr.State, addr.ZipCode))
	return lines
}

func firstAddressLine(addr *models.Address) string {
	if addr.Address1 != "" {
		return addr.Address1
	}
	return addr.Street
}

func labeledLine(pdf *gofpdf.Fpdf, label, value string, y float64) float64 {
	setColor(pdf, colorText)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Text(0.85*inch, y, label)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(1.5*inch, y, value)
	return y + 0.25*inch
}

func totalLine(pdf *gofpdf.Fpdf, label string, amount decimal.Decimal, width, y float64) float64 {
	value := "$" + amount.StringFixed(2)
	pdf.Text(width-1.5*inch-pdf.GetStringWidth(label), y, label)
	pdf.Text(width-0.75*inch-pdf.GetStringWidth(value), y, value)
	return y + 0.2*inch
}

func sectionHeader(pdf *gofpdf.Fpdf, title string, width, y float64) float64 {
	pdf.SetFillColor(15, 52, 96)
	pdf.Rect(0.75*inch, y-0.15*inch, width-1.5*inch, 0.3*inch, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(0.85*inch, y+0.05*inch, title)
	return y + 0.15*inch
}

type rgb struct{ r, g, b int }

var (
	colorPrimary = rgb{233, 69, 96}
	colorText    = rgb{0, 0, 0}
	colorGray    = rgb{102, 102, 102}
	colorSuccess = rgb{78, 204, 163}
	colorAlert   = rgb{255, 107, 107}
)

func setColor(pdf *gofpdf.Fpdf, c rgb) {
	pdf.SetTextColor(c.r, c.g, c.b)
}
