package scraper

import (
	"github.com/maltedev/reseller-monitor/internal/discount"
	"github.com/maltedev/reseller-monitor/internal/models"
)

// Comparison ranks scraped pages of the same product.
type Comparison struct {
	Count           int                   `json:"count"`
	BestPrice       *models.ScrapedRecord `json:"best_price,omitempty"`
	HighestDiscount *models.ScrapedRecord `json:"highest_discount,omitempty"`
	Savings         []Saving              `json:"savings,omitempty"`
}

// Saving is one page's price measured against a target price.
type Saving struct {
	URL     string  `json:"url"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`
	Better  bool    `json:"better"`
}

// Compare picks the cheapest record and the one with the highest discount.
// The first record wins ties. Records without a discount count as zero.
// A positive target adds per-page savings against it.
func Compare(records []models.ScrapedRecord, target float64) Comparison {
	c := Comparison{Count: len(records)}
	if len(records) == 0 {
		return c
	}

	best, top := 0, 0
	for i := range records {
		if records[i].Price < records[best].Price {
			best = i
		}
		if discountOf(records[i]) > discountOf(records[top]) {
			top = i
		}
	}

	bestRec, topRec := records[best], records[top]
	c.BestPrice = &bestRec
	c.HighestDiscount = &topRec

	if target > 0 {
		for _, r := range records {
			c.Savings = append(c.Savings, Saving{
				URL:     r.URL,
				Price:   r.Price,
				Amount:  target - r.Price,
				Percent: models.RoundTo(discount.Percent(r.Price, target), 2),
				Better:  r.Price < target,
			})
		}
	}

	return c
}

func discountOf(r models.ScrapedRecord) float64 {
	if r.DiscountPercent == nil {
		return 0
	}
	return *r.DiscountPercent
}
