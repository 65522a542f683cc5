package alerts

import "github.com/JakeFAU/storia-seo-ops/internal/seo"

// Rule IDs, in evaluation order.
const (
	RuleClicksDrop       = "clicks_drop"
	RuleImpressionsDrop  = "impressions_drop"
	RulePositionWorsened = "position_worsened"
	RuleClicksSpike      = "clicks_spike"
)

// Evaluation is one rule checked against one dimension value.
type Evaluation struct {
	Observed float64
	Baseline float64
	Fired    bool
}

// Rule compares a day's row to its baselines.
type Rule struct {
	ID       string
	Severity seo.Severity
	Evaluate func(row seo.MetricRow, baselines map[seo.Metric]seo.Baseline) Evaluation
}

// Rules returns the rule set. k scales the standard deviation for the
// drop and spike rules; positionDelta is the allowed worsening in ranks.
func Rules(k, positionDelta float64) []Rule {
	return []Rule{
		{
			ID:       RuleClicksDrop,
			Severity: seo.SeverityHigh,
			Evaluate: func(row seo.MetricRow, b map[seo.Metric]seo.Baseline) Evaluation {
				base := b[seo.MetricClicks]
				observed := seo.MetricClicks.Value(row)
				return Evaluation{observed, base.RollingMean, observed < base.RollingMean-k*base.RollingStdDev}
			},
		},
		{
			ID:       RuleImpressionsDrop,
			Severity: seo.SeverityMedium,
			Evaluate: func(row seo.MetricRow, b map[seo.Metric]seo.Baseline) Evaluation {
				base := b[seo.MetricImpressions]
				observed := seo.MetricImpressions.Value(row)
				return Evaluation{observed, base.RollingMean, observed < base.RollingMean-k*base.RollingStdDev}
			},
		},
		{
			// Higher position numbers are worse.
			ID:       RulePositionWorsened,
			Severity: seo.SeverityMedium,
			Evaluate: func(row seo.MetricRow, b map[seo.Metric]seo.Baseline) Evaluation {
				base := b[seo.MetricPosition]
				observed := seo.MetricPosition.Value(row)
				return Evaluation{observed, base.RollingMean, observed-base.RollingMean > positionDelta}
			},
		},
		{
			ID:       RuleClicksSpike,
			Severity: seo.SeverityLow,
			Evaluate: func(row seo.MetricRow, b map[seo.Metric]seo.Baseline) Evaluation {
				base := b[seo.MetricClicks]
				observed := seo.MetricClicks.Value(row)
				return Evaluation{observed, base.RollingMean, observed > base.RollingMean+k*base.RollingStdDev}
			},
		},
	}
}
