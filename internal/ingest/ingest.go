// Package ingest parses spreadsheet exports dropped into the watch folder
// into remote store records. A file either fails as a whole (schema) or is
// ingested with individual bad rows skipped; derived inventory fields are
// always recomputed here so stale values in the sheet never propagate.
package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"example.com/storesync/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// FileBusyError reports a file that is still being written or is locked by
// another process. It is retryable: the next cycle will try again.
type FileBusyError struct {
	Path   string
	Reason string
}

func (e *FileBusyError) Error() string {
	return fmt.Sprintf("file %s is busy: %s", e.Path, e.Reason)
}

// SchemaError reports a file whose header row is missing required columns.
// The whole file is rejected, kept in place, and needs manual attention.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("file %s is missing required columns: %s", e.Path, strings.Join(e.Missing, ", "))
}

// Inventory columns the export must contain. Brand and Qty On Order are
// optional; everything derived is recomputed regardless of the sheet.
var requiredInventoryColumns = []string{
	"sku", "product name", "vendor", "price", "cost", "total stock", "committed",
}

// InventoryResult is the outcome of parsing one inventory export.
type InventoryResult struct {
	Rows        []models.InventoryItem
	SkippedRows int
}

// Ingestor parses spreadsheet exports. SettleWindow guards against reading a
// file the exporter is still writing: a file modified more recently than the
// window is reported busy.
type Ingestor struct {
	SettleWindow time.Duration
}

// NewIngestor creates a new ingestor
func NewIngestor(settleWindow time.Duration) *Ingestor {
	return &Ingestor{SettleWindow: settleWindow}
}

// ParseInventoryFile parses one inventory export into upsert-ready rows.
func (g *Ingestor) ParseInventoryFile(path string) (*InventoryResult, error) {
	rows, err := g.readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &SchemaError{Path: path, Missing: requiredInventoryColumns}
	}

	cols := indexHeader(rows[0])
	if missing := missingColumns(cols, requiredInventoryColumns); len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}

	result := &InventoryResult{}
	for _, row := range rows[1:] {
		item, ok := coerceInventoryRow(row, cols)
		if !ok {
			result.SkippedRows++
			continue
		}
		result.Rows = append(result.Rows, item)
	}
	return result, nil
}

// readSheet opens the workbook and returns all rows of its first sheet.
// Settle-window violations and open failures both surface as FileBusyError
// since a partially written workbook is indistinguishable from a corrupt one
// until the writer finishes.
func (g *Ingestor) readSheet(path string) ([][]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	if g.SettleWindow > 0 && time.Since(info.ModTime()) < g.SettleWindow {
		return nil, &FileBusyError{Path: path, Reason: "modified inside settle window"}
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &FileBusyError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FileBusyError{Path: path, Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rows from %s", path)
	}
	return rows, nil
}

// coerceInventoryRow converts one sheet row into an InventoryItem. A row
// with no SKU, an unparseable money field, or negative stock is rejected.
func coerceInventoryRow(row []string, cols map[string]int) (models.InventoryItem, bool) {
	sku := strings.TrimSpace(cell(row, cols, "sku"))
	if sku == "" {
		return models.InventoryItem{}, false
	}

	price, err := parseMoney(cell(row, cols, "price"))
	if err != nil {
		return models.InventoryItem{}, false
	}
	cost, err := parseMoney(cell(row, cols, "cost"))
	if err != nil {
		return models.InventoryItem{}, false
	}

	totalStock, err := parseCount(cell(row, cols, "total stock"))
	if err != nil || totalStock < 0 {
		return models.InventoryItem{}, false
	}
	committed, err := parseCount(cell(row, cols, "committed"))
	if err != nil || committed < 0 {
		return models.InventoryItem{}, false
	}
	qtyOnOrder, err := parseCount(cell(row, cols, "qty on order"))
	if err != nil || qtyOnOrder < 0 {
		qtyOnOrder = 0
	}

	item := models.InventoryItem{
		SKU:         sku,
		ProductName: strings.TrimSpace(cell(row, cols, "product name")),
		Vendor:      strings.TrimSpace(cell(row, cols, "vendor")),
		Brand:       strings.TrimSpace(cell(row, cols, "brand")),
		Price:       price,
		Cost:        cost,
		TotalStock:  totalStock,
		Committed:   committed,
		QtyOnOrder:  qtyOnOrder,
	}

	// Derived fields: never taken from the sheet
	stock := decimal.NewFromInt(int64(totalStock))
	item.OpenStock = totalStock - committed
	item.TotalRetail = price.Mul(stock)
	item.TotalCost = cost.Mul(stock)
	if price.IsPositive() {
		item.GrossMargin = price.Sub(cost).Div(price).Round(4)
	} else {
		item.GrossMargin = decimal.Zero
	}

	return item, true
}

// indexHeader maps normalized column names to their index in the header row.
func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	return cols
}

func missingColumns(cols map[string]int, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// parseMoney coerces a price cell, tolerating currency symbols and thousands
// separators. Empty cells are zero, not errors.
func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "bad money value %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative money value %q", s)
	}
	return d, nil
}

// parseCount coerces a quantity cell. Exports sometimes format counts as
// floats ("3.0"), so parse through float and require an integral value.
func parseCount(s string) (int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad count value %q", s)
	}
	n := int(f)
	if float64(n) != f {
		return 0, errors.Errorf("non-integral count value %q", s)
	}
	return n, nil
}
