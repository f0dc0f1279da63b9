package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeWorkbook writes rows into a fresh xlsx file and backdates its mtime so
// the settle window does not reject it.
func writeWorkbook(t *testing.T, dir, name string, rows [][]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func inventoryHeader() []interface{} {
	return []interface{}{"SKU", "Product Name", "Vendor", "Brand", "Price", "Cost", "Total Stock", "Committed", "Qty On Order"}
}

func TestParseInventoryFile(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Inventory_Export.xlsx", [][]interface{}{
		inventoryHeader(),
		{"ABC-1", "Widget", "Acme", "BrandX", "$1,250.00", "800.00", "10", "3", "5"},
		{"DEF-2", "Gadget", "Acme", "", "20.00", "8.00", "4.0", "0", ""},
	})

	g := NewIngestor(0)
	result, err := g.ParseInventoryFile(path)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Zero(t, result.SkippedRows)

	item := result.Rows[0]
	require.Equal(t, "ABC-1", item.SKU)
	require.Equal(t, "Widget", item.ProductName)
	require.Equal(t, "Acme", item.Vendor)
	require.Equal(t, 10, item.TotalStock)
	require.Equal(t, 3, item.Committed)
	require.Equal(t, 5, item.QtyOnOrder)

	// Derived fields come from price/cost/stock, never from the sheet
	require.Equal(t, 7, item.OpenStock)
	require.True(t, item.TotalRetail.Equal(decimal.RequireFromString("12500.00")), item.TotalRetail.String())
	require.True(t, item.TotalCost.Equal(decimal.RequireFromString("8000.00")), item.TotalCost.String())
	require.True(t, item.GrossMargin.Equal(decimal.RequireFromString("0.36")), item.GrossMargin.String())

	second := result.Rows[1]
	require.Equal(t, 4, second.TotalStock)
	require.Equal(t, 4, second.OpenStock)
	require.True(t, second.GrossMargin.Equal(decimal.RequireFromString("0.6")), second.GrossMargin.String())
}

func TestParseInventoryFileSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Inventory_Export.xlsx", [][]interface{}{
		inventoryHeader(),
		{"", "No SKU", "Acme", "", "10.00", "5.00", "1", "0", ""},
		{"BAD-MONEY", "Widget", "Acme", "", "ten dollars", "5.00", "1", "0", ""},
		{"NEG-STOCK", "Widget", "Acme", "", "10.00", "5.00", "-2", "0", ""},
		{"GOOD-1", "Widget", "Acme", "", "10.00", "5.00", "2", "1", ""},
	})

	g := NewIngestor(0)
	result, err := g.ParseInventoryFile(path)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, 3, result.SkippedRows)
	require.Equal(t, "GOOD-1", result.Rows[0].SKU)
}

func TestParseInventoryFileMissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Inventory_Export.xlsx", [][]interface{}{
		{"SKU", "Product Name", "Vendor", "Price", "Cost", "Total Stock"},
		{"ABC-1", "Widget", "Acme", "10.00", "5.00", "1"},
	})

	g := NewIngestor(0)
	_, err := g.ParseInventoryFile(path)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Contains(t, schemaErr.Missing, "committed")
}

func TestParseInventoryFileInsideSettleWindow(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkbook(t, dir, "Inventory_Export.xlsx", [][]interface{}{
		inventoryHeader(),
		{"ABC-1", "Widget", "Acme", "", "10.00", "5.00", "1", "0", ""},
	})
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))

	g := NewIngestor(time.Minute)
	_, err := g.ParseInventoryFile(path)

	var busyErr *FileBusyError
	require.ErrorAs(t, err, &busyErr)
}

func TestParseInventoryFileNotAWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Inventory_Export.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	g := NewIngestor(0)
	_, err := g.ParseInventoryFile(path)

	// A half-written workbook looks corrupt until the writer finishes
	var busyErr *FileBusyError
	require.ErrorAs(t, err, &busyErr)
}

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"$1,234.56", "1234.56", false},
		{"19.99", "19.99", false},
		{"", "0", false},
		{"-5.00", "", true},
		{"ten", "", true},
	}
	for _, tc := range cases {
		got, err := parseMoney(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), tc.in)
	}
}

func TestParseCount(t *testing.T) {
	got, err := parseCount("3.0")
	require.NoError(t, err)
	require.Equal(t, 3, got)

	got, err = parseCount("")
	require.NoError(t, err)
	require.Zero(t, got)

	_, err = parseCount("3.5")
	require.Error(t, err)

	_, err = parseCount("many")
	require.Error(t, err)
}
