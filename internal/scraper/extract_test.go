package scraper

import (
	"strings"
	"testing"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"65,000원", 65000, false},
		{"₩65,000", 65000, false},
		{"$1,234.50", 1234.5, false},
		{"판매가 79,800 원", 79800, false},
		{"  12000  ", 12000, false},
		{"가격문의", 0, true},
		{"", 0, true},
		{"0원", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParsePrice(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrUnparsableValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestParseStock(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{"12", 12, false},
		{"재고 1,024개", 1024, false},
		{"Only 3 left", 3, false},
		{"Out of Stock", 0, false},
		{"SOLD OUT", 0, false},
		{"품절", 0, false},
		{"일시품절 (재입고 5일)", 0, false},
		{"https://schema.org/OutOfStock", 0, false},
		{"https://schema.org/InStock", AvailableStock, false},
		{"In stock", AvailableStock, false},
		{"In stock: 7", 7, false},
		{"재고 있음", AvailableStock, false},
		{"구매하기", AvailableStock, false},
		{"문의", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			n, err := ParseStock(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrUnparsableValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}
}

func TestDocumentFirstText(t *testing.T) {
	doc, err := ParseHTML(`<html><head>
<meta property="og:title" content=" 메타 제목 ">
</head><body>
<span class="empty"> </span><span class="empty">second</span>
<h1>Heading
   text</h1>
</body></html>`)
	require.NoError(t, err)

	text, sel, ok := doc.FirstText([]string{".nope", `meta[property="og:title"]`})
	assert.True(t, ok)
	assert.Equal(t, "메타 제목", text)
	assert.Equal(t, `meta[property="og:title"]`, sel)

	text, _, ok = doc.FirstText([]string{".empty"})
	assert.True(t, ok)
	assert.Equal(t, "second", text)

	text, _, _ = doc.FirstText([]string{"h1"})
	assert.Equal(t, "Heading text", text)

	_, _, ok = doc.FirstText([]string{".nope"})
	assert.False(t, ok)
}

func TestParseDocumentDecodesLegacyCharset(t *testing.T) {
	encoded, err := korean.EUCKR.NewEncoder().String("<html><body><p>가격</p></body></html>")
	require.NoError(t, err)

	doc, err := ParseDocument(strings.NewReader(encoded), "text/html; charset=euc-kr")
	require.NoError(t, err)

	text, _, ok := doc.FirstText([]string{"p"})
	require.True(t, ok)
	assert.Equal(t, "가격", text)
}
