package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// utf8BOM lets spreadsheet tools detect the encoding of Korean titles.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var listingHeader = []string{
	"product_name", "keyword", "title", "price", "mall_name", "url",
	"seller_label", "is_reseller", "original_price", "discount_percent", "discount_amount",
}

// WriteCSV writes one row per listing across all products, in run order.
func WriteCSV(w io.Writer, run *models.MonitoringRun) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(listingHeader); err != nil {
		return err
	}

	for _, res := range run.Results() {
		for _, rec := range res.Records {
			if err := cw.Write(listingRow(res, rec)); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func listingRow(res models.ProductResult, rec models.DiscountRecord) []string {
	return []string{
		res.Name,
		res.Keyword,
		rec.Title,
		formatNumber(rec.Price),
		rec.MallName,
		rec.ProductURL,
		rec.SellerLabel,
		strconv.FormatBool(rec.IsReseller),
		formatNumber(rec.ReferencePrice),
		strconv.FormatFloat(rec.DisplayDiscount(), 'f', 1, 64),
		formatNumber(rec.DiscountAmount),
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
