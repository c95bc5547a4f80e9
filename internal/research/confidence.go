package research

import (
	"math"

	"github.com/ayush/factcheck-agent/internal/models"
)

// corroborationPrior is how many sources it takes for evidence to carry
// half the weight of the model's own estimate.
const corroborationPrior = 3.0

// AggregateConfidence combines the model's self-reported confidence with
// the agreement of grounded sources. Sources corroborate when their stance
// matches the verdict: SUPPORTING for affirming statuses, OPPOSING for
// denying ones. With no stanced sources the model value is returned as is,
// clamped and rounded.
func AggregateConfidence(llm float64, status models.Status, report ResourceReport) int {
	agreed, disagreed := report.Agreed.Count, report.Disagreed.Count
	n := agreed + disagreed
	if n == 0 {
		return int(math.Round(clamp(llm)))
	}

	corroborating := agreed
	if status.Polarity() < 0 {
		corroborating = disagreed
	}
	ratio := float64(corroborating) / float64(n)
	weight := float64(n) / (float64(n) + corroborationPrior)

	score := clamp(llm) * (1 - weight*(1-ratio))
	return int(math.Round(clamp(score)))
}
