package research

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayush/factcheck-agent/internal/models"
)

//go:embed domains.yaml
var defaultDomainRules []byte

// DomainRules classifies evidence domains by category, country and credibility.
type DomainRules struct {
	Categories       map[models.ReferenceCategory][]string `yaml:"categories"`
	CategorySuffixes map[models.ReferenceCategory][]string `yaml:"category_suffixes"`
	Countries        map[string]string                     `yaml:"countries"`
	CountrySuffixes  map[string]string                     `yaml:"country_suffixes"`
	TLDOverrides     map[string]string                     `yaml:"tld_overrides"`
	Credibility      struct {
		High         []string `yaml:"high"`
		HighSuffixes []string `yaml:"high_suffixes"`
		Medium       []string `yaml:"medium"`
	} `yaml:"credibility"`
}

// LoadDomainRules parses a rules document.
func LoadDomainRules(data []byte) (*DomainRules, error) {
	var rules DomainRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("domain rules: %w", err)
	}
	return &rules, nil
}

// DefaultDomainRules returns the embedded rule set.
func DefaultDomainRules() *DomainRules {
	rules, err := LoadDomainRules(defaultDomainRules)
	if err != nil {
		panic(err)
	}
	return rules
}

// NormalizeDomain extracts the lowercase host of rawURL without "www." or port.
func NormalizeDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// normalizeURL is the grounding key for comparing cited and examined URLs:
// host and path without scheme, fragment, tracking parameters or trailing slash.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	key := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") + strings.TrimRight(u.EscapedPath(), "/")
	if enc := q.Encode(); enc != "" {
		key += "?" + enc
	}
	return key
}

func matchDomain(domain, entry string) bool {
	return domain == entry || strings.HasSuffix(domain, "."+entry)
}

func matchSuffix(domain, suffix string) bool {
	return strings.HasSuffix(domain, suffix)
}

// Category returns the publisher bucket of domain, defaulting to other.
func (r *DomainRules) Category(domain string) models.ReferenceCategory {
	for _, cat := range []models.ReferenceCategory{models.RefMedical, models.RefGovernance, models.RefAcademic, models.RefMainstream} {
		for _, entry := range r.Categories[cat] {
			if matchDomain(domain, entry) {
				return cat
			}
		}
	}
	for _, cat := range []models.ReferenceCategory{models.RefGovernance, models.RefAcademic} {
		for _, suffix := range r.CategorySuffixes[cat] {
			if matchSuffix(domain, suffix) {
				return cat
			}
		}
	}
	return models.RefOther
}

// Country infers an ISO code from known domains, special suffixes or the
// country-code TLD. It returns "unknown" otherwise.
func (r *DomainRules) Country(domain string) string {
	for entry, code := range r.Countries {
		if matchDomain(domain, entry) {
			return code
		}
	}
	for suffix, code := range r.CountrySuffixes {
		if matchSuffix(domain, suffix) {
			return code
		}
	}
	if i := strings.LastIndex(domain, "."); i >= 0 {
		tld := domain[i+1:]
		if code, ok := r.TLDOverrides[tld]; ok {
			return code
		}
		if len(tld) == 2 && tld != "eu" {
			return tld
		}
	}
	return "unknown"
}

// CredibilityOf tags domain high, medium or low.
func (r *DomainRules) CredibilityOf(domain string) models.Credibility {
	for _, entry := range r.Credibility.High {
		if matchDomain(domain, entry) {
			return models.CredibilityHigh
		}
	}
	for _, suffix := range r.Credibility.HighSuffixes {
		if matchSuffix(domain, suffix) {
			return models.CredibilityHigh
		}
	}
	for _, entry := range r.Credibility.Medium {
		if matchDomain(domain, entry) {
			return models.CredibilityMedium
		}
	}
	return models.CredibilityLow
}

// Classify builds an evidence reference for a cited source.
func (r *DomainRules) Classify(src CitedSource) models.EvidenceReference {
	domain := NormalizeDomain(src.URL)
	return models.EvidenceReference{
		URL:         src.URL,
		Title:       src.Title,
		Domain:      domain,
		Category:    r.Category(domain),
		Country:     r.Country(domain),
		Credibility: r.CredibilityOf(domain),
		Stance:      src.Stance,
		KeyFinding:  src.KeyFinding,
	}
}

func sortedCountries(refs []models.EvidenceReference) []string {
	set := map[string]bool{}
	for _, ref := range refs {
		if ref.Country != "" && ref.Country != "unknown" {
			set[ref.Country] = true
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
