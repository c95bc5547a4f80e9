package research

import (
	"fmt"
	"math"

	"github.com/ayush/factcheck-agent/internal/models"
)

// ResourceReport is the citation-agreement statistics of one result.
type ResourceReport struct {
	Agreed     models.ResourceAnalysis
	Disagreed  models.ResourceAnalysis
	Neutral    int
	Considered int
	Ignored    []string
}

// Findings summarizes the report for resource_findings.
func (r ResourceReport) Findings() []string {
	out := []string{}
	if r.Considered > 0 {
		out = append(out, fmt.Sprintf("%d supporting, %d opposing and %d neutral sources among %d grounded citations",
			r.Agreed.Count, r.Disagreed.Count, r.Neutral, r.Considered))
	} else {
		out = append(out, "No grounded citations were available for resource analysis")
	}
	if len(r.Ignored) > 0 {
		out = append(out, fmt.Sprintf("Ignored %d citations that were not among the extracted sources", len(r.Ignored)))
	}
	return out
}

// ResourceAnalyzer tallies cited sources into agreement statistics.
type ResourceAnalyzer struct {
	rules *DomainRules
}

func NewResourceAnalyzer(rules *DomainRules) *ResourceAnalyzer {
	return &ResourceAnalyzer{rules: rules}
}

// Analyze counts only citations whose URL was examined during extraction.
// SUPPORTING citations are agreed, OPPOSING are disagreed and NEUTRAL only
// count toward the total considered.
func (a *ResourceAnalyzer) Analyze(cited []CitedSource, examined []string) ResourceReport {
	grounded := make(map[string]bool, len(examined))
	for _, u := range examined {
		if key := normalizeURL(u); key != "" {
			grounded[key] = true
		}
	}

	var (
		agreed, disagreed []models.EvidenceReference
		report            ResourceReport
		seen              = map[string]bool{}
	)
	for _, src := range cited {
		key := normalizeURL(src.URL)
		if key == "" || !grounded[key] {
			report.Ignored = append(report.Ignored, src.URL)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		ref := a.rules.Classify(src)
		switch ref.Stance {
		case models.StanceSupporting:
			agreed = append(agreed, ref)
		case models.StanceOpposing:
			disagreed = append(disagreed, ref)
		default:
			report.Neutral++
		}
	}

	report.Considered = len(agreed) + len(disagreed) + report.Neutral
	report.Agreed = aggregate(agreed, report.Considered)
	report.Disagreed = aggregate(disagreed, report.Considered)
	return report
}

func aggregate(refs []models.EvidenceReference, considered int) models.ResourceAnalysis {
	ra := models.EmptyResourceAnalysis()
	if considered == 0 || len(refs) == 0 {
		return ra
	}
	ra.Count = len(refs)
	ra.Total = percent(len(refs), considered)
	ra.References = refs
	ra.MajorCountries = sortedCountries(refs)
	for _, ref := range refs {
		switch ref.Category {
		case models.RefMainstream:
			ra.Mainstream++
		case models.RefGovernance:
			ra.Governance++
		case models.RefAcademic:
			ra.Academic++
		case models.RefMedical:
			ra.Medical++
		default:
			ra.Other++
		}
	}
	return ra
}

// percent formats count/total as a whole percentage, "0%" when total is 0.
func percent(count, total int) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", int(math.Round(100*float64(count)/float64(total))))
}
