package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// PrintSummary writes a human readable run summary.
func PrintSummary(w io.Writer, run *models.MonitoringRun) {
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Reseller price monitoring summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Products monitored: %d\n", run.TotalProducts)
	fmt.Fprintf(w, "Reseller listings:  %d\n", run.TotalResellers)
	fmt.Fprintf(w, "Run time:           %s\n", run.Timestamp.Format(time.RFC3339))
	if run.Partial {
		fmt.Fprintf(w, "Partial run, failed: %s\n", strings.Join(run.FailedProducts(), ", "))
	}

	for _, res := range run.Results() {
		fmt.Fprintf(w, "\n%s\n", res.Name)
		fmt.Fprintf(w, "   list price: %s KRW\n", groupThousands(res.OriginalPrice))
		if res.Failed {
			fmt.Fprintf(w, "   failed: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(w, "   resellers:  %d\n", res.Summary.ResellerCount)
		if res.Summary.ResellerCount > 0 {
			fmt.Fprintf(w, "   lowest:     %s KRW (%.1f%% off) - %s\n",
				groupThousands(res.Summary.MinPrice), res.Summary.MinPriceDiscount, res.Summary.MinPriceMall)
		}
	}

	fmt.Fprintln(w, "\n"+rule)
}

// groupThousands formats a whole amount with comma separators.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
