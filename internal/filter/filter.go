package filter

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// Drop reasons, reported in debug logs and Stats.
const (
	ReasonExcludedKeyword = "excluded_keyword"
	ReasonInvalidPrice    = "invalid_price"
	ReasonBelowMinimum    = "below_min_price"
	ReasonAboveMaximum    = "above_max_price"
	ReasonDuplicate       = "duplicate"
)

// Stats counts what a Filter call kept and why hits were dropped.
type Stats struct {
	Input   int
	Kept    int
	Dropped map[string]int
}

// ListingFilter turns raw search hits into reseller listings. It is a keyword
// and price heuristic, not a classifier.
type ListingFilter struct {
	sellers *SellerRules
	logger  *slog.Logger
}

// New creates a filter. sellers may be nil, in which case every listing is
// labeled unknown and treated as a reseller.
func New(sellers *SellerRules, logger *slog.Logger) *ListingFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingFilter{
		sellers: sellers,
		logger:  logger.With("component", "listing_filter"),
	}
}

// Filter drops excluded, mispriced and duplicate hits. Surviving listings keep
// their input order; the first of several duplicates wins.
func (f *ListingFilter) Filter(hits []models.RawHit, rules models.FilterRules) []models.Listing {
	listings, _ := f.FilterWithStats(hits, rules)
	return listings
}

func (f *ListingFilter) FilterWithStats(hits []models.RawHit, rules models.FilterRules) ([]models.Listing, Stats) {
	stats := Stats{Input: len(hits), Dropped: make(map[string]int)}
	excludes := normalizeKeywords(rules.ExcludeKeywords)
	seen := make(map[string]struct{}, len(hits))
	listings := make([]models.Listing, 0, len(hits))

	drop := func(hit models.RawHit, reason string) {
		stats.Dropped[reason]++
		f.logger.Debug("hit dropped",
			"title", hit.Title,
			"mall", hit.MallName,
			"price", hit.Price,
			"reason", reason)
	}

	for _, hit := range hits {
		if containsAny(hit.Title, excludes) {
			drop(hit, ReasonExcludedKeyword)
			continue
		}

		price, ok := ParsePrice(hit.Price)
		if !ok || price <= 0 {
			drop(hit, ReasonInvalidPrice)
			continue
		}
		if price < rules.MinPriceThreshold {
			drop(hit, ReasonBelowMinimum)
			continue
		}
		if rules.MaxPriceThreshold > 0 && price > rules.MaxPriceThreshold {
			drop(hit, ReasonAboveMaximum)
			continue
		}

		key := DedupKey(hit)
		if _, dup := seen[key]; dup {
			drop(hit, ReasonDuplicate)
			continue
		}
		seen[key] = struct{}{}

		label := models.SellerUnknown
		if f.sellers != nil {
			label = f.sellers.Label(hit.MallName)
		}

		listings = append(listings, models.Listing{
			ProductID:   hit.ProductID,
			Title:       hit.Title,
			Price:       price,
			MallName:    hit.MallName,
			ProductURL:  hit.ProductURL,
			ImageURL:    hit.ImageURL,
			Brand:       hit.Brand,
			Category:    hit.Category,
			SellerLabel: label,
			IsReseller:  label != models.SellerOfficial,
		})
	}

	stats.Kept = len(listings)
	return listings, stats
}

// DedupKey identifies a listing: its URL when present, otherwise the
// normalized title and mall name.
func DedupKey(hit models.RawHit) string {
	if u := strings.TrimSpace(hit.ProductURL); u != "" {
		return "url:" + u
	}
	return "tm:" + normalize(hit.Title) + "|" + normalize(hit.MallName)
}

// ParsePrice reads a price such as "65000", "65,000" or "₩65,000원".
// Currency symbols, whitespace and thousands separators are ignored.
func ParsePrice(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == ' ':
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
