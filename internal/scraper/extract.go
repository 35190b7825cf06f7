package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/discount"
	"github.com/maltedev/reseller-monitor/internal/models"
)

var numberPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

var outOfStockPatterns = []string{
	"out of stock",
	"sold out",
	"soldout",
	"outofstock",
	"unavailable",
	"품절",
	"재고 없음",
	"재고없음",
	"판매종료",
	"판매 종료",
}

// AvailableStock is reported for pages that say an item is in stock without
// giving a count, e.g. schema.org InStock or a buy button.
const AvailableStock = 1

var inStockPatterns = []string{
	"instock",
	"in stock",
	"limitedavailability",
	"재고 있음",
	"재고있음",
	"구매하기",
	"바로구매",
	"장바구니",
	"buy now",
	"add to cart",
}

// extraction is what a selector set yields from a document, before the
// record is stamped.
type extraction struct {
	title         string
	price         float64
	stock         int
	originalPrice *float64
}

// extract runs title, price and stock extraction in that order and stops at
// the first failure.
func extract(url string, doc *Document, set SelectorSet) (*extraction, error) {
	title, _, ok := doc.FirstText(set.Title)
	if !ok {
		return nil, apperr.Scrape(url, apperr.StageExtractTitle,
			fmt.Errorf("%w: %v", apperr.ErrSelectorNotFound, set.Title))
	}

	priceText, _, ok := doc.FirstText(set.Price)
	if !ok {
		return nil, apperr.Scrape(url, apperr.StageExtractPrice,
			fmt.Errorf("%w: %v", apperr.ErrSelectorNotFound, set.Price))
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, apperr.Scrape(url, apperr.StageExtractPrice, err)
	}

	stockText, _, ok := doc.FirstText(set.Stock)
	if !ok {
		return nil, apperr.Scrape(url, apperr.StageExtractStock,
			fmt.Errorf("%w: %v", apperr.ErrSelectorNotFound, set.Stock))
	}
	stock, err := ParseStock(stockText)
	if err != nil {
		return nil, apperr.Scrape(url, apperr.StageExtractStock, err)
	}

	ex := &extraction{title: title, price: price, stock: stock}

	if text, _, ok := doc.FirstText(set.OriginalPrice); ok {
		if orig, err := ParsePrice(text); err == nil {
			ex.originalPrice = &orig
		}
	}

	return ex, nil
}

func (e *extraction) record(url string, at time.Time) *models.ScrapedRecord {
	rec := &models.ScrapedRecord{
		URL:       url,
		Title:     e.title,
		Price:     e.price,
		Stock:     e.stock,
		Timestamp: at,
	}
	if e.originalPrice != nil {
		orig := *e.originalPrice
		pct := models.RoundTo(discount.Percent(e.price, orig), 2)
		rec.OriginalPrice = &orig
		rec.DiscountPercent = &pct
	}
	return rec
}

// ParsePrice reads the first number in text, ignoring currency symbols and
// thousands separators, e.g. "₩65,000원" or "65,000 KRW".
func ParsePrice(text string) (float64, error) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("%w: no number in %q", apperr.ErrUnparsableValue, text)
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", apperr.ErrUnparsableValue, text, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %q", apperr.ErrUnparsableValue, text)
	}
	return v, nil
}

// ParseStock reads a stock count. Out-of-stock wording yields 0, a number is
// taken as the count, and in-stock wording without a number yields
// AvailableStock. Anything else is an error.
func ParseStock(text string) (int, error) {
	lower := strings.ToLower(text)
	for _, p := range outOfStockPatterns {
		if strings.Contains(lower, p) {
			return 0, nil
		}
	}

	m := numberPattern.FindString(text)
	if m == "" {
		for _, p := range inStockPatterns {
			if strings.Contains(lower, p) {
				return AvailableStock, nil
			}
		}
		return 0, fmt.Errorf("%w: no stock count in %q", apperr.ErrUnparsableValue, text)
	}
	m = strings.ReplaceAll(m, ",", "")
	if i := strings.IndexByte(m, '.'); i >= 0 {
		m = m[:i]
	}

	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", apperr.ErrUnparsableValue, text, err)
	}
	return n, nil
}
