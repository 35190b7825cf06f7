package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ProductConfig is one tracked product. It is immutable for the duration of a run.
type ProductConfig struct {
	Name          string  `json:"name" yaml:"name"`
	Keyword       string  `json:"keyword" yaml:"keyword"`
	OriginalPrice float64 `json:"original_price" yaml:"original_price"`
}

// Validate returns the problems with the entry, empty when it is usable.
func (p *ProductConfig) Validate() []string {
	var errors []string

	if strings.TrimSpace(p.Name) == "" {
		errors = append(errors, "name is required")
	}

	if strings.TrimSpace(p.Keyword) == "" {
		errors = append(errors, "keyword is required")
	}

	if p.OriginalPrice <= 0 || math.IsNaN(p.OriginalPrice) || math.IsInf(p.OriginalPrice, 0) {
		errors = append(errors, fmt.Sprintf("original_price must be > 0, got %v", p.OriginalPrice))
	}

	return errors
}

// MonitoringSettings are the run-wide knobs from the product config file.
type MonitoringSettings struct {
	MaxResultsPerProduct int      `json:"max_results_per_product" yaml:"max_results_per_product"`
	ExcludeKeywords      []string `json:"exclude_keywords" yaml:"exclude_keywords"`
	MinPriceThreshold    float64  `json:"min_price_threshold" yaml:"min_price_threshold"`
	MaxPriceThreshold    float64  `json:"max_price_threshold,omitempty" yaml:"max_price_threshold,omitempty"`
}

// Rules extracts the listing filter rules from the settings.
func (s MonitoringSettings) Rules() FilterRules {
	return FilterRules{
		ExcludeKeywords:   append([]string(nil), s.ExcludeKeywords...),
		MinPriceThreshold: s.MinPriceThreshold,
		MaxPriceThreshold: s.MaxPriceThreshold,
	}
}

// FilterRules drive ListingFilter. A zero MaxPriceThreshold disables the upper bound.
type FilterRules struct {
	ExcludeKeywords   []string
	MinPriceThreshold float64
	MaxPriceThreshold float64
}

// RawHit is a single search result as returned by the search service.
// Price is kept as the raw string so the filter can reject unparsable values.
type RawHit struct {
	ProductID  string
	Title      string
	Price      string
	MallName   string
	ProductURL string
	ImageURL   string
	Brand      string
	Category   string
}

// Seller labels assigned by the seller rules.
const (
	SellerOfficial = "official"
	SellerReseller = "reseller"
	SellerSuspect  = "suspect"
	SellerUnknown  = "unknown"
)

// Listing is a hit that survived filtering.
type Listing struct {
	ProductID   string  `json:"product_id,omitempty"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	MallName    string  `json:"mall_name"`
	ProductURL  string  `json:"url"`
	ImageURL    string  `json:"image_url,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	Category    string  `json:"category,omitempty"`
	SellerLabel string  `json:"seller_label"`
	IsReseller  bool    `json:"is_reseller"`
}

// DiscountRecord is a listing priced against the product's reference price.
// DiscountPercent keeps full precision; use DisplayDiscount for presentation.
type DiscountRecord struct {
	Listing
	ReferencePrice  float64 `json:"reference_price"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
}

// DisplayDiscount is DiscountPercent rounded to one decimal place.
func (d DiscountRecord) DisplayDiscount() float64 {
	return RoundTo(d.DiscountPercent, 1)
}

// RoundTo rounds v half away from zero to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

// Summary is the cached per-product aggregate.
type Summary struct {
	ResellerCount int     `json:"reseller_count"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	MinPriceMall  string  `json:"min_price_mall"`
	// MinPriceDiscount is the display-rounded discount of the cheapest record.
	MinPriceDiscount float64 `json:"min_price_discount"`
}

// ProductResult is everything a run learned about one product.
type ProductResult struct {
	Name          string           `json:"name"`
	Keyword       string           `json:"keyword"`
	OriginalPrice float64          `json:"original_price"`
	Records       []DiscountRecord `json:"records"`
	Summary       Summary          `json:"summary"`
	TotalHits     int              `json:"total_hits"`
	FilteredCount int              `json:"filtered_count"`
	Failed        bool             `json:"failed"`
	Error         string           `json:"error,omitempty"`
}

// MonitoringRun is the result of one monitoring cycle. It is built once by the
// monitor and must not be mutated afterwards.
type MonitoringRun struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Order lists product names in config order; Products is keyed by name.
	Order          []string                 `json:"order"`
	Products       map[string]ProductResult `json:"products"`
	Partial        bool                     `json:"partial"`
	TotalProducts  int                      `json:"total_products"`
	TotalResellers int                      `json:"total_resellers"`
}

// Results returns the product results in config order.
func (r *MonitoringRun) Results() []ProductResult {
	out := make([]ProductResult, 0, len(r.Order))
	for _, name := range r.Order {
		if res, ok := r.Products[name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// FailedProducts lists names of products whose search failed.
func (r *MonitoringRun) FailedProducts() []string {
	var failed []string
	for _, name := range r.Order {
		if r.Products[name].Failed {
			failed = append(failed, name)
		}
	}
	return failed
}

// ScrapedRecord is the output of a single page scrape.
type ScrapedRecord struct {
	URL   string  `json:"url,omitempty"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
	// OriginalPrice and DiscountPercent are set when the selector set can find a list price.
	OriginalPrice   *float64  `json:"original_price,omitempty"`
	DiscountPercent *float64  `json:"discount_percent,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
