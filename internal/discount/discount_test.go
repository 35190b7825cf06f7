package discount

import (
	"testing"

	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateScenario(t *testing.T) {
	listings := []models.Listing{{Title: "오딧세이 블랙 2종", Price: 65000, MallName: "골프샵"}}

	records := Annotate(listings, 79800)
	require.Len(t, records, 1)

	rec := records[0]
	assert.InDelta(t, 18.5463659, rec.DiscountPercent, 1e-6)
	assert.Equal(t, 18.5, rec.DisplayDiscount())
	assert.Equal(t, 79800.0, rec.ReferencePrice)
	assert.Equal(t, 14800.0, rec.DiscountAmount)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		ref      float64
		expected float64
	}{
		{"cheaper", 50, 100, 50},
		{"same", 100, 100, 0},
		{"dearer", 150, 100, -50},
		{"zero reference", 100, 0, 0},
		{"negative reference", 100, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Percent(tt.price, tt.ref))
		})
	}
}

func TestAnnotateSortsStable(t *testing.T) {
	listings := []models.Listing{
		{Title: "c", Price: 30000},
		{Title: "a1", Price: 10000},
		{Title: "b", Price: 20000},
		{Title: "a2", Price: 10000},
		{Title: "a3", Price: 10000},
	}

	records := Annotate(listings, 40000)

	var titles []string
	for _, r := range records {
		titles = append(titles, r.Title)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "b", "c"}, titles)
	assert.Equal(t, "c", listings[0].Title, "input must not be reordered")
}

func TestAnnotateWithoutReference(t *testing.T) {
	records := Annotate([]models.Listing{{Price: 100}}, 0)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].DiscountPercent)
	assert.Zero(t, records[0].DiscountAmount)
}

func TestSummarize(t *testing.T) {
	records := Annotate([]models.Listing{
		{Price: 70000, MallName: "mid"},
		{Price: 65000, MallName: "cheap"},
		{Price: 90000, MallName: "dear"},
	}, 79800)

	s := Summarize(records)
	assert.Equal(t, 3, s.ResellerCount)
	assert.Equal(t, 65000.0, s.MinPrice)
	assert.Equal(t, 90000.0, s.MaxPrice)
	assert.Equal(t, "cheap", s.MinPriceMall)
	assert.Equal(t, 18.5, s.MinPriceDiscount)

	assert.Equal(t, models.Summary{}, Summarize(nil))
}
