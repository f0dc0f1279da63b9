package render

import (
	"testing"
	"time"

	"example.com/storesync/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func pickupOrder() *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: "WEB-1001",
		CreatedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		FirstName:   "Maria",
		LastName:    "Lopez",
		Email:       "maria@example.com",
		Phone:       "509-555-0101",
		Items: []models.OrderItem{
			{
				Name:     "Garden Hose",
				Quantity: 3,
				Price:    decimal.RequireFromString("10.00"),
				Fulfillment: models.Fulfillment{
					Method:     models.FulfillmentPickup,
					LocationID: 2,
				},
			},
		},
		Subtotal:      decimal.RequireFromString("30.00"),
		ShippingCost:  decimal.Zero,
		TaxAmount:     decimal.Zero,
		Total:         decimal.RequireFromString("30.00"),
		PaymentStatus: "paid",
	}
}

func TestRenderDeterministic(t *testing.T) {
	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Renderer{Now: func() time.Time { return pinned }}

	order := pickupOrder()
	first, name, err := r.Render(order)
	require.NoError(t, err)
	require.Equal(t, "order_WEB-1001.pdf", name)
	require.NotEmpty(t, first)

	// Same order, same clock: the retry overwrite must be byte-identical
	second, _, err := r.Render(order)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRenderAllFulfillmentMethods(t *testing.T) {
	order := pickupOrder()
	order.Items = append(order.Items,
		models.OrderItem{
			Name:     "Patio Chair",
			Quantity: 1,
			Price:    decimal.RequireFromString("45.00"),
			Fulfillment: models.Fulfillment{
				Method:  models.FulfillmentDelivery,
				Address: &models.Address{Address1: "12 Main St", City: "Yakima", State: "WA", ZipCode: "98901"},
			},
		},
		models.OrderItem{
			Name:         "Replacement Blade",
			Quantity:     2,
			Price:        decimal.RequireFromString("7.50"),
			ShippingCost: decimal.RequireFromString("6.99"),
			Fulfillment: models.Fulfillment{
				Method:  models.FulfillmentShipping,
				Address: &models.Address{Street: "400 Oak Ave", City: "Seattle", State: "WA", ZipCode: "98101"},
			},
		},
	)

	r := NewRenderer()
	data, _, err := r.Render(order)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.True(t, order.HasShippingItems())
}

func TestRenderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Order)
		reason string
	}{
		{"missing order number", func(o *models.Order) { o.OrderNumber = "" }, "missing order number"},
		{"missing customer name", func(o *models.Order) { o.FirstName, o.LastName = "", "" }, "missing customer name"},
		{"missing email", func(o *models.Order) { o.Email = "" }, "missing customer email"},
		{"no items", func(o *models.Order) { o.Items = nil }, "no items"},
		{"item missing name", func(o *models.Order) { o.Items[0].Name = "" }, "missing name"},
		{"pickup without location", func(o *models.Order) { o.Items[0].Fulfillment.LocationID = 0 }, "missing location"},
		{"unknown method", func(o *models.Order) { o.Items[0].Fulfillment.Method = "teleport" }, "unknown fulfillment method"},
	}

	r := NewRenderer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := pickupOrder()
			tc.mutate(order)

			_, _, err := r.Render(order)
			var renderErr *RenderError
			require.ErrorAs(t, err, &renderErr)
			require.Contains(t, renderErr.Reason, tc.reason)
		})
	}
}

func TestFileName(t *testing.T) {
	require.Equal(t, "order_WEB-1001.pdf", FileName("WEB-1001"))
	require.Equal(t, "order_WEB_10_01.pdf", FileName("WEB 10/01"))
}

func TestLocationName(t *testing.T) {
	require.Equal(t, "Yakima", LocationName(1))
	require.Equal(t, "Toppenish", LocationName(2))
	require.Equal(t, "Location 9", LocationName(9))
}
