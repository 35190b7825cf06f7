package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxResultsPerProduct = 100
	DefaultMinPriceThreshold    = 10000
	// MaxResultsLimit is the deepest the shop API lets a query page.
	MaxResultsLimit = 1000
)

// ErrNoProducts is returned when a product file has no usable entries.
var ErrNoProducts = errors.New("no valid products configured")

// ProductFile is a loaded product config. Rejected holds one validation
// error per entry that was dropped.
type ProductFile struct {
	Products []models.ProductConfig
	Settings models.MonitoringSettings
	Rejected []error
}

type jsonProductFile struct {
	TargetProducts     []json.RawMessage         `json:"target_products"`
	MonitoringSettings models.MonitoringSettings `json:"monitoring_settings"`
}

type yamlProductFile struct {
	TargetProducts     []yaml.Node               `yaml:"target_products"`
	MonitoringSettings models.MonitoringSettings `yaml:"monitoring_settings"`
}

// LoadProducts reads a product config file, YAML when the extension is .yaml
// or .yml and JSON otherwise. Malformed entries are rejected one by one; an
// unreadable file or one with no valid entries is an error.
func LoadProducts(path string) (*ProductFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseProductsYAML(data)
	default:
		return ParseProductsJSON(data)
	}
}

func ParseProductsJSON(data []byte) (*ProductFile, error) {
	raw := jsonProductFile{MonitoringSettings: defaultSettings()}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse product config: %w", err)
	}

	decoded := make([]decodedEntry, 0, len(raw.TargetProducts))
	for _, msg := range raw.TargetProducts {
		var p models.ProductConfig
		err := json.Unmarshal(msg, &p)
		decoded = append(decoded, decodedEntry{product: p, err: err})
	}

	return buildProductFile(decoded, raw.MonitoringSettings)
}

func ParseProductsYAML(data []byte) (*ProductFile, error) {
	raw := yamlProductFile{MonitoringSettings: defaultSettings()}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse product config: %w", err)
	}

	decoded := make([]decodedEntry, 0, len(raw.TargetProducts))
	for i := range raw.TargetProducts {
		var p models.ProductConfig
		err := raw.TargetProducts[i].Decode(&p)
		decoded = append(decoded, decodedEntry{product: p, err: err})
	}

	return buildProductFile(decoded, raw.MonitoringSettings)
}

type decodedEntry struct {
	product models.ProductConfig
	err     error
}

func buildProductFile(entries []decodedEntry, settings models.MonitoringSettings) (*ProductFile, error) {
	file := &ProductFile{Settings: normalizeSettings(settings)}
	seen := make(map[string]bool, len(entries))

	for i, e := range entries {
		subject := fmt.Sprintf("target_products[%d]", i)
		if e.product.Name != "" {
			subject = e.product.Name
		}

		if e.err != nil {
			file.Rejected = append(file.Rejected, apperr.Validation(subject, e.err))
			continue
		}

		p := e.product
		p.Name = strings.TrimSpace(p.Name)
		p.Keyword = strings.TrimSpace(p.Keyword)

		if problems := p.Validate(); len(problems) > 0 {
			file.Rejected = append(file.Rejected,
				apperr.Validation(subject, errors.New(strings.Join(problems, "; "))))
			continue
		}
		if seen[p.Name] {
			file.Rejected = append(file.Rejected,
				apperr.Validation(subject, errors.New("duplicate product name")))
			continue
		}
		seen[p.Name] = true

		file.Products = append(file.Products, p)
	}

	if len(file.Products) == 0 {
		return nil, errors.Join(append([]error{ErrNoProducts}, file.Rejected...)...)
	}

	return file, nil
}

func defaultSettings() models.MonitoringSettings {
	return models.MonitoringSettings{
		MaxResultsPerProduct: DefaultMaxResultsPerProduct,
		MinPriceThreshold:    DefaultMinPriceThreshold,
	}
}

func normalizeSettings(s models.MonitoringSettings) models.MonitoringSettings {
	if s.MaxResultsPerProduct <= 0 {
		s.MaxResultsPerProduct = DefaultMaxResultsPerProduct
	}
	if s.MaxResultsPerProduct > MaxResultsLimit {
		s.MaxResultsPerProduct = MaxResultsLimit
	}
	if s.MinPriceThreshold < 0 {
		s.MinPriceThreshold = 0
	}
	if s.MaxPriceThreshold < 0 {
		s.MaxPriceThreshold = 0
	}
	return s
}
