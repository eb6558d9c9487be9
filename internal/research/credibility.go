package research

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CredibilityConfig holds domain reputation scoring rules loaded from YAML.
// Scores land in [0,1]; the synthesizer prefers higher-scored evidence when
// sources disagree.
type CredibilityConfig struct {
	Rules struct {
		TLDPatterns []struct {
			Suffix string  `yaml:"suffix"`
			Score  float64 `yaml:"score"`
		} `yaml:"tld_patterns"`

		DomainGroups []struct {
			Category string   `yaml:"category"`
			Score    float64  `yaml:"score"`
			Domains  []string `yaml:"domains"`
		} `yaml:"domain_groups"`

		DefaultScore float64 `yaml:"default_score"`
	} `yaml:"credibility_rules"`
}

// LoadCredibilityConfig reads scoring rules from path. A missing or broken
// file falls back to defaults rather than failing startup.
func LoadCredibilityConfig(path string) (*CredibilityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultCredibilityConfig(), fmt.Errorf("read credibility config: %w", err)
	}
	var cfg CredibilityConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultCredibilityConfig(), fmt.Errorf("parse credibility config: %w", err)
	}
	if cfg.Rules.DefaultScore == 0 {
		cfg.Rules.DefaultScore = 0.60
	}
	return &cfg, nil
}

func defaultCredibilityConfig() *CredibilityConfig {
	cfg := &CredibilityConfig{}
	cfg.Rules.TLDPatterns = []struct {
		Suffix string  `yaml:"suffix"`
		Score  float64 `yaml:"score"`
	}{
		{Suffix: ".gov.my", Score: 0.90},
		{Suffix: ".gov", Score: 0.85},
		{Suffix: ".edu", Score: 0.80},
	}
	cfg.Rules.DomainGroups = []struct {
		Category string   `yaml:"category"`
		Score    float64  `yaml:"score"`
		Domains  []string `yaml:"domains"`
	}{
		{
			Category: "property_portals",
			Score:    0.80,
			Domains:  []string{"propertyguru.com.my", "iproperty.com.my", "edgeprop.my", "brickz.my"},
		},
	}
	cfg.Rules.DefaultScore = 0.60
	return cfg
}

// Score returns the credibility of a source URL by domain reputation.
func (c *CredibilityConfig) Score(rawURL string) float64 {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return c.Rules.DefaultScore
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))

	for _, group := range c.Rules.DomainGroups {
		for _, domain := range group.Domains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return group.Score
			}
		}
	}
	for _, tld := range c.Rules.TLDPatterns {
		if strings.HasSuffix(host, tld.Suffix) {
			return tld.Score
		}
	}
	return c.Rules.DefaultScore
}

// normalizeURL canonicalizes a URL for deduplication: lowercase scheme and
// host, no www prefix, no fragment, tracking parameters stripped.
func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(strings.TrimRight(rawURL, "/"))
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))
	parsed.Fragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"fbclid", "gclid", "ref",
		} {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}
	return strings.TrimRight(parsed.String(), "/")
}
