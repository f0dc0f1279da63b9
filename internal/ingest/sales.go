package ingest

import (
	"strings"
	"time"

	"example.com/storesync/internal/models"

	"github.com/shopspring/decimal"
)

var requiredSalesColumns = []string{
	"trans id", "date", "qty sold", "sales", "cogs", "gross profit", "tax", "receipt total",
}

// ParseSalesFile reads a "Sales by Transaction" report and reduces it to one
// DailySales summary row. The report may carry its own Total row (Trans ID =
// "Total"); when present it wins, otherwise totals are summed from the
// transaction rows. The report date comes from the first transaction row.
func (g *Ingestor) ParseSalesFile(path, storeName string) (*models.DailySales, error) {
	rows, err := g.readSheet(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &SchemaError{Path: path, Missing: requiredSalesColumns}
	}

	cols := indexHeader(rows[0])
	if missing := missingColumns(cols, requiredSalesColumns); len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}

	var (
		totalRow     []string
		transactions [][]string
	)
	for _, row := range rows[1:] {
		id := strings.TrimSpace(cell(row, cols, "trans id"))
		if id == "" {
			continue
		}
		if strings.EqualFold(id, "Total") {
			totalRow = row
			continue
		}
		transactions = append(transactions, row)
	}
	if len(transactions) == 0 {
		return nil, &SchemaError{Path: path, Missing: []string{"transaction rows"}}
	}

	reportDate := parseReportDate(cell(transactions[0], cols, "date"))

	rec := &models.DailySales{
		StoreName:         storeName,
		ReportDate:        reportDate,
		TotalTransactions: len(transactions),
	}

	sum := func(name string) decimal.Decimal {
		total := decimal.Zero
		for _, row := range transactions {
			if v, err := parseMoney(cell(row, cols, name)); err == nil {
				total = total.Add(v)
			}
		}
		return total
	}

	if totalRow != nil {
		rec.TotalQtySold, _ = parseCount(cell(totalRow, cols, "qty sold"))
		rec.TotalSales, _ = parseMoney(cell(totalRow, cols, "sales"))
		rec.TotalCOGS, _ = parseMoney(cell(totalRow, cols, "cogs"))
		rec.TotalGrossProfit, _ = parseMoney(cell(totalRow, cols, "gross profit"))
		rec.TotalDiscounts, _ = parseMoney(cell(totalRow, cols, "disc&mkd"))
		rec.TotalTax, _ = parseMoney(cell(totalRow, cols, "tax"))
		rec.TotalReceipts, _ = parseMoney(cell(totalRow, cols, "receipt total"))
	} else {
		qty := 0
		for _, row := range transactions {
			if n, err := parseCount(cell(row, cols, "qty sold")); err == nil {
				qty += n
			}
		}
		rec.TotalQtySold = qty
		rec.TotalSales = sum("sales")
		rec.TotalCOGS = sum("cogs")
		rec.TotalGrossProfit = sum("gross profit")
		rec.TotalDiscounts = sum("disc&mkd")
		rec.TotalTax = sum("tax")
		rec.TotalReceipts = sum("receipt total")
	}

	if rec.TotalSales.IsPositive() {
		rec.AvgGrossMargin = rec.TotalGrossProfit.Div(rec.TotalSales).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return rec, nil
}

// parseReportDate tries the export's MM/DD/YYYY format first, then a few
// fallbacks, before giving up and using today.
func parseReportDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"01/02/2006", "1/2/2006", "2006-01-02", "01-02-06"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
