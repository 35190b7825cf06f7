package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// Document is the JSON form of a monitoring run.
type Document struct {
	RunID          string                     `json:"run_id"`
	Timestamp      time.Time                  `json:"timestamp"`
	Partial        bool                       `json:"partial"`
	TotalProducts  int                        `json:"total_products"`
	TotalResellers int                        `json:"total_resellers"`
	Order          []string                   `json:"order"`
	Products       map[string]ProductDocument `json:"products"`
}

type ProductDocument struct {
	Keyword          string            `json:"keyword"`
	OriginalPrice    float64           `json:"original_price"`
	ResellerCount    int               `json:"reseller_count"`
	MinPrice         float64           `json:"min_price"`
	MaxPrice         float64           `json:"max_price"`
	MinPriceMall     string            `json:"min_price_mall"`
	MinPriceDiscount float64           `json:"min_price_discount"`
	TotalHits        int               `json:"total_hits"`
	FilteredCount    int               `json:"filtered_count"`
	Failed           bool              `json:"failed,omitempty"`
	Error            string            `json:"error,omitempty"`
	Listings         []ListingDocument `json:"listings"`
}

// ListingDocument carries the discount rounded for display.
type ListingDocument struct {
	Title           string  `json:"title"`
	Price           float64 `json:"price"`
	MallName        string  `json:"mall_name"`
	URL             string  `json:"url"`
	SellerLabel     string  `json:"seller_label"`
	IsReseller      bool    `json:"is_reseller"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
}

// NewDocument converts run into its output document.
func NewDocument(run *models.MonitoringRun) Document {
	doc := Document{
		RunID:          run.ID,
		Timestamp:      run.Timestamp,
		Partial:        run.Partial,
		TotalProducts:  run.TotalProducts,
		TotalResellers: run.TotalResellers,
		Order:          append([]string{}, run.Order...),
		Products:       make(map[string]ProductDocument, len(run.Products)),
	}

	for _, res := range run.Results() {
		listings := make([]ListingDocument, 0, len(res.Records))
		for _, rec := range res.Records {
			listings = append(listings, ListingDocument{
				Title:           rec.Title,
				Price:           rec.Price,
				MallName:        rec.MallName,
				URL:             rec.ProductURL,
				SellerLabel:     rec.SellerLabel,
				IsReseller:      rec.IsReseller,
				DiscountPercent: rec.DisplayDiscount(),
				DiscountAmount:  rec.DiscountAmount,
			})
		}

		doc.Products[res.Name] = ProductDocument{
			Keyword:          res.Keyword,
			OriginalPrice:    res.OriginalPrice,
			ResellerCount:    res.Summary.ResellerCount,
			MinPrice:         res.Summary.MinPrice,
			MaxPrice:         res.Summary.MaxPrice,
			MinPriceMall:     res.Summary.MinPriceMall,
			MinPriceDiscount: res.Summary.MinPriceDiscount,
			TotalHits:        res.TotalHits,
			FilteredCount:    res.FilteredCount,
			Failed:           res.Failed,
			Error:            res.Error,
			Listings:         listings,
		}
	}

	return doc
}

// WriteJSON writes run as indented JSON with non-ASCII text left unescaped.
func WriteJSON(w io.Writer, run *models.MonitoringRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(NewDocument(run))
}
