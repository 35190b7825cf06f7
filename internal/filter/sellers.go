package filter

import (
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/maltedev/reseller-monitor/internal/models"
	"gopkg.in/yaml.v3"
)

// SellerPatterns matches a mall name exactly or by regular expression.
type SellerPatterns struct {
	Exact []string `yaml:"exact" json:"exact"`
	Regex []string `yaml:"regex" json:"regex"`
}

// SellerRules labels malls. Official patterns are checked first, then
// reseller. Anything else is suspect, so suspect patterns only document
// known suspect malls; they are validated but never change a label.
type SellerRules struct {
	official compiledPatterns
	reseller compiledPatterns
}

type sellerRulesFile struct {
	Official SellerPatterns `yaml:"official"`
	Reseller SellerPatterns `yaml:"reseller"`
	Suspect  SellerPatterns `yaml:"suspect"`
}

type compiledPatterns struct {
	exact []string
	regex []*regexp.Regexp
}

func (c compiledPatterns) match(mall string) bool {
	if slices.Contains(c.exact, mall) {
		return true
	}
	for _, re := range c.regex {
		if re.MatchString(mall) {
			return true
		}
	}
	return false
}

func NewSellerRules(official, reseller, suspect SellerPatterns) (*SellerRules, error) {
	var rules SellerRules
	var err error

	if rules.official, err = compile("official", official); err != nil {
		return nil, err
	}
	if rules.reseller, err = compile("reseller", reseller); err != nil {
		return nil, err
	}
	if _, err = compile("suspect", suspect); err != nil {
		return nil, err
	}
	return &rules, nil
}

// LoadSellerRules reads rules from a YAML file.
func LoadSellerRules(path string) (*SellerRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seller rules: %w", err)
	}
	return ParseSellerRules(data)
}

func ParseSellerRules(data []byte) (*SellerRules, error) {
	var file sellerRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seller rules: %w", err)
	}
	return NewSellerRules(file.Official, file.Reseller, file.Suspect)
}

// Label returns official, reseller or suspect for a mall name.
func (r *SellerRules) Label(mall string) string {
	if mall == "" {
		return models.SellerSuspect
	}
	switch {
	case r.official.match(mall):
		return models.SellerOfficial
	case r.reseller.match(mall):
		return models.SellerReseller
	default:
		return models.SellerSuspect
	}
}

func compile(group string, p SellerPatterns) (compiledPatterns, error) {
	out := compiledPatterns{exact: p.Exact}
	for _, expr := range p.Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiledPatterns{}, fmt.Errorf("invalid %s pattern %q: %w", group, expr, err)
		}
		out.regex = append(out.regex, re)
	}
	return out, nil
}
