package scraper

import (
	"testing"

	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestCompare(t *testing.T) {
	records := []models.ScrapedRecord{
		{URL: "a", Price: 70000, DiscountPercent: ptr(10)},
		{URL: "b", Price: 65000},
		{URL: "c", Price: 68000, DiscountPercent: ptr(25)},
		{URL: "d", Price: 65000, DiscountPercent: ptr(25)},
	}

	c := Compare(records, 79800)

	assert.Equal(t, 4, c.Count)
	require.NotNil(t, c.BestPrice)
	assert.Equal(t, "b", c.BestPrice.URL)
	require.NotNil(t, c.HighestDiscount)
	assert.Equal(t, "c", c.HighestDiscount.URL)

	require.Len(t, c.Savings, 4)
	assert.Equal(t, 14800.0, c.Savings[1].Amount)
	assert.Equal(t, 18.55, c.Savings[1].Percent)
	assert.True(t, c.Savings[1].Better)
}

func TestCompareEmpty(t *testing.T) {
	c := Compare(nil, 0)
	assert.Zero(t, c.Count)
	assert.Nil(t, c.BestPrice)
	assert.Nil(t, c.HighestDiscount)
}
