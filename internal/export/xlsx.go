package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "Summary"
	maxSheetName   = 31
	invalidInSheet = `[]:*?/\`
)

var summaryHeader = []any{
	"product_name", "original_price", "reseller_count", "min_price", "max_price",
	"min_price_mall", "min_price_discount", "status",
}

// WriteXLSX writes a summary sheet followed by one sheet of listings per product.
func WriteXLSX(w io.Writer, run *models.MonitoringRun) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		return err
	}

	used := map[string]bool{summarySheet: true}
	for i, res := range run.Results() {
		status := "ok"
		if res.Failed {
			status = "failed: " + res.Error
		}
		row := []any{
			res.Name, res.OriginalPrice, res.Summary.ResellerCount, res.Summary.MinPrice,
			res.Summary.MaxPrice, res.Summary.MinPriceMall, res.Summary.MinPriceDiscount, status,
		}
		if err := f.SetSheetRow(summarySheet, cell(1, i+2), &row); err != nil {
			return err
		}

		name := sheetName(res.Name, used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", name, err)
		}
		if err := writeListingSheet(f, name, res); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeListingSheet(f *excelize.File, sheet string, res models.ProductResult) error {
	header := make([]any, 0, len(listingHeader)-2)
	for _, h := range listingHeader[2:] {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, rec := range res.Records {
		row := []any{
			rec.Title, rec.Price, rec.MallName, rec.ProductURL, rec.SellerLabel,
			rec.IsReseller, rec.ReferencePrice, rec.DisplayDiscount(), rec.DiscountAmount,
		}
		if err := f.SetSheetRow(sheet, cell(1, i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

// sheetName makes a product name usable as a unique worksheet title.
func sheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidInSheet, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	clean = strings.Trim(clean, "'")
	if clean == "" {
		clean = "product"
	}
	clean = truncateRunes(clean, maxSheetName)

	candidate := clean
	for n := 2; used[candidate]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate = truncateRunes(clean, maxSheetName-len(suffix)) + suffix
	}
	used[candidate] = true
	return candidate
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
