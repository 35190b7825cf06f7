package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SelectorSet maps each extracted field to candidate CSS selectors, tried in
// order. Hosts lists the domains the set applies to.
type SelectorSet struct {
	Name          string   `yaml:"-" json:"name,omitempty"`
	Hosts         []string `yaml:"hosts" json:"hosts,omitempty"`
	Title         []string `yaml:"title" json:"title"`
	Price         []string `yaml:"price" json:"price"`
	Stock         []string `yaml:"stock" json:"stock"`
	OriginalPrice []string `yaml:"original_price" json:"original_price,omitempty"`
	WaitSelectors []string `yaml:"wait_selectors" json:"wait_selectors,omitempty"`
}

func (s SelectorSet) Validate() error {
	var missing []string
	if len(s.Title) == 0 {
		missing = append(missing, "title")
	}
	if len(s.Price) == 0 {
		missing = append(missing, "price")
	}
	if len(s.Stock) == 0 {
		missing = append(missing, "stock")
	}
	if len(missing) > 0 {
		return fmt.Errorf("selector set %q has no selectors for %s", s.Name, strings.Join(missing, ", "))
	}
	return nil
}

// DefaultSelectorSet covers pages exposing schema.org or Open Graph product markup.
func DefaultSelectorSet() SelectorSet {
	return SelectorSet{
		Name: "default",
		Title: []string{
			`meta[property="og:title"]`,
			`[itemprop="name"]`,
			"h1",
			"title",
		},
		Price: []string{
			`meta[property="product:price:amount"]`,
			`[itemprop="price"]`,
			".price",
		},
		Stock: []string{
			`[itemprop="availability"]`,
			".stock",
		},
	}
}

// ErrUnknownSelectorSet is returned when a named set does not exist.
var ErrUnknownSelectorSet = errors.New("unknown selector set")

// SelectorRegistry holds named selector sets and picks one per URL.
type SelectorRegistry struct {
	sets     map[string]SelectorSet
	fallback string
}

type registryFile struct {
	Default   string                 `yaml:"default" json:"default"`
	Platforms map[string]SelectorSet `yaml:"platforms" json:"platforms"`
}

// NewSelectorRegistry builds a registry. fallback names the set used for URLs
// no set claims; an empty fallback means the built-in default set.
func NewSelectorRegistry(sets map[string]SelectorSet, fallback string) (*SelectorRegistry, error) {
	r := &SelectorRegistry{sets: make(map[string]SelectorSet, len(sets)+1)}

	def := DefaultSelectorSet()
	r.sets[def.Name] = def

	for name, set := range sets {
		set.Name = name
		if err := set.Validate(); err != nil {
			return nil, err
		}
		r.sets[name] = set
	}

	if fallback == "" {
		fallback = def.Name
	}
	if _, ok := r.sets[fallback]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownSelectorSet, fallback)
	}
	r.fallback = fallback

	return r, nil
}

// LoadSelectorRegistry reads selector sets from a YAML or JSON file. An empty
// path yields a registry with only the built-in default set.
func LoadSelectorRegistry(path string) (*SelectorRegistry, error) {
	if path == "" {
		return NewSelectorRegistry(nil, "")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors: %w", err)
	}

	var file registryFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse selectors: %w", err)
	}

	return NewSelectorRegistry(file.Platforms, file.Default)
}

func (r *SelectorRegistry) Get(name string) (SelectorSet, error) {
	set, ok := r.sets[name]
	if !ok {
		return SelectorSet{}, fmt.Errorf("%w: %q", ErrUnknownSelectorSet, name)
	}
	return set, nil
}

// ForURL returns the set whose hosts match the URL's host or one of its parent
// domains, falling back to the default set.
func (r *SelectorRegistry) ForURL(rawURL string) SelectorSet {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return r.sets[r.fallback]
	}
	host := strings.ToLower(u.Hostname())

	for _, name := range r.Names() {
		set := r.sets[name]
		for _, h := range set.Hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" && (host == h || strings.HasSuffix(host, "."+h)) {
				return set
			}
		}
	}
	return r.sets[r.fallback]
}

// Names lists the registered sets in sorted order.
func (r *SelectorRegistry) Names() []string {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
