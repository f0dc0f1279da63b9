package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func salesHeader() []interface{} {
	return []interface{}{"Trans ID", "Date", "Qty Sold", "Sales", "COGS", "Gross Profit", "Disc&MKD", "Tax", "Receipt Total"}
}

func TestParseSalesFileTotalRowWins(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Sales by Transaction.xlsx", [][]interface{}{
		salesHeader(),
		{"1001", "08/30/2026", "2", "20.00", "12.00", "8.00", "0.00", "1.60", "21.60"},
		{"1002", "08/30/2026", "1", "10.00", "6.00", "4.00", "0.00", "0.80", "10.80"},
		{"Total", "", "5", "50.00", "30.00", "20.00", "0.00", "4.00", "54.00"},
	})

	g := NewIngestor(0)
	rec, err := g.ParseSalesFile(path, "Toppenish")
	require.NoError(t, err)

	require.Equal(t, "Toppenish", rec.StoreName)
	require.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), rec.ReportDate)
	require.Equal(t, 2, rec.TotalTransactions)

	// The report's own Total row overrides the per-transaction sums
	require.Equal(t, 5, rec.TotalQtySold)
	require.True(t, rec.TotalSales.Equal(decimal.RequireFromString("50.00")))
	require.True(t, rec.TotalCOGS.Equal(decimal.RequireFromString("30.00")))
	require.True(t, rec.TotalGrossProfit.Equal(decimal.RequireFromString("20.00")))
	require.True(t, rec.TotalReceipts.Equal(decimal.RequireFromString("54.00")))
	require.True(t, rec.AvgGrossMargin.Equal(decimal.RequireFromString("40.00")), rec.AvgGrossMargin.String())
}

func TestParseSalesFileSumsTransactions(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Sales by Transaction.xlsx", [][]interface{}{
		salesHeader(),
		{"1001", "08/30/2026", "2", "20.00", "12.00", "8.00", "0.00", "1.60", "21.60"},
		{"1002", "08/30/2026", "1", "10.00", "6.00", "4.00", "0.00", "0.80", "10.80"},
	})

	g := NewIngestor(0)
	rec, err := g.ParseSalesFile(path, "Yakima")
	require.NoError(t, err)

	require.Equal(t, 2, rec.TotalTransactions)
	require.Equal(t, 3, rec.TotalQtySold)
	require.True(t, rec.TotalSales.Equal(decimal.RequireFromString("30.00")))
	require.True(t, rec.TotalGrossProfit.Equal(decimal.RequireFromString("12.00")))
	require.True(t, rec.TotalTax.Equal(decimal.RequireFromString("2.40")))
	require.True(t, rec.AvgGrossMargin.Equal(decimal.RequireFromString("40.00")), rec.AvgGrossMargin.String())
}

func TestParseSalesFileMissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Sales by Transaction.xlsx", [][]interface{}{
		{"Trans ID", "Date", "Qty Sold"},
		{"1001", "08/30/2026", "2"},
	})

	g := NewIngestor(0)
	_, err := g.ParseSalesFile(path, "Toppenish")

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Contains(t, schemaErr.Missing, "sales")
}

func TestParseSalesFileNoTransactions(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Sales by Transaction.xlsx", [][]interface{}{
		salesHeader(),
		{"Total", "", "0", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00"},
	})

	g := NewIngestor(0)
	_, err := g.ParseSalesFile(path, "Toppenish")

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}
