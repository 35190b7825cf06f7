package discount

import (
	"cmp"
	"slices"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// Percent is (ref - price) / ref * 100, positive when price is below ref.
// It is zero when ref is not positive.
func Percent(price, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	return (ref - price) / ref * 100
}

// Annotate prices listings against ref and returns the records sorted by
// ascending price. Ties keep their input order. The input is not modified.
func Annotate(listings []models.Listing, ref float64) []models.DiscountRecord {
	records := make([]models.DiscountRecord, 0, len(listings))
	for _, l := range listings {
		rec := models.DiscountRecord{
			Listing:         l,
			ReferencePrice:  ref,
			DiscountPercent: Percent(l.Price, ref),
		}
		if ref > 0 {
			rec.DiscountAmount = ref - l.Price
		}
		records = append(records, rec)
	}

	slices.SortStableFunc(records, func(a, b models.DiscountRecord) int {
		return cmp.Compare(a.Price, b.Price)
	})
	return records
}

// Summarize builds the cached summary from records already sorted by Annotate.
func Summarize(records []models.DiscountRecord) models.Summary {
	if len(records) == 0 {
		return models.Summary{}
	}

	cheapest, dearest := records[0], records[len(records)-1]
	return models.Summary{
		ResellerCount:    len(records),
		MinPrice:         cheapest.Price,
		MaxPrice:         dearest.Price,
		MinPriceMall:     cheapest.MallName,
		MinPriceDiscount: cheapest.DisplayDiscount(),
	}
}
