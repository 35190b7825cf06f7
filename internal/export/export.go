package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maltedev/reseller-monitor/internal/models"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	timestampLayout = "20060102_150405"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Writer saves monitoring runs into a directory in one or more formats.
type Writer struct {
	dir     string
	formats []string
	logger  *slog.Logger
}

func NewWriter(dir string, formats []string, logger *slog.Logger) (*Writer, error) {
	if dir == "" {
		dir = "data"
	}
	if len(formats) == 0 {
		formats = []string{FormatJSON, FormatCSV}
	}
	if logger == nil {
		logger = slog.Default()
	}

	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case FormatJSON, FormatCSV, FormatXLSX:
			normalized = append(normalized, f)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
	}

	return &Writer{
		dir:     dir,
		formats: normalized,
		logger:  logger.With("component", "export"),
	}, nil
}

// Write stores run in every configured format and returns the created paths.
// File names carry the run timestamp, so two runs never overwrite each other
// unless they start within the same second.
func (w *Writer) Write(run *models.MonitoringRun) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	stamp := fileStamp(run.Timestamp)
	var paths []string

	for _, format := range w.formats {
		var (
			path string
			err  error
		)
		switch format {
		case FormatJSON:
			path = filepath.Join(w.dir, "monitoring_results_"+stamp+".json")
			err = writeFile(path, func(f *os.File) error { return WriteJSON(f, run) })
		case FormatCSV:
			path = filepath.Join(w.dir, "reseller_data_"+stamp+".csv")
			err = writeFile(path, func(f *os.File) error { return WriteCSV(f, run) })
		case FormatXLSX:
			path = filepath.Join(w.dir, "reseller_data_"+stamp+".xlsx")
			err = writeFile(path, func(f *os.File) error { return WriteXLSX(f, run) })
		}
		if err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", format, err)
		}

		w.logger.Info("results saved", "format", format, "path", path)
		paths = append(paths, path)
	}

	return paths, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func fileStamp(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.Format(timestampLayout)
}
