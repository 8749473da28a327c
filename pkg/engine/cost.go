package engine

import (
	"sort"

	"github.com/reelforge/reelforge/pkg/producer"
)

// CostSummary aggregates per-job cost estimates for a plan. Totals sum the
// point estimates; Min and Max sum range bounds where providers report them,
// falling back to the point estimate for jobs without a range.
type CostSummary struct {
	// Total is the summed point estimate.
	Total float64 `json:"total"`

	// Min and Max bound the total when any estimate carries a range.
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// HasPlaceholders reports that at least one figure is a guess rather
	// than a provider-backed estimate.
	HasPlaceholders bool `json:"hasPlaceholders,omitempty"`

	// HasRanges reports that Min and Max are meaningful.
	HasRanges bool `json:"hasRanges,omitempty"`

	// ByProducer breaks the total down per producer alias.
	ByProducer map[string]float64 `json:"byProducer,omitempty"`

	// MissingProviders lists providers with no registered estimator; their
	// jobs contribute a zero placeholder.
	MissingProviders []string `json:"missingProviders,omitempty"`

	// Jobs counts the estimated jobs.
	Jobs int `json:"jobs"`
}

// EstimateCost predicts the cost of executing a plan without invoking any
// handler. Only jobs reachable through the plan's layers are counted, so a
// scoped plan estimates exactly what it would run.
func EstimateCost(plan *ExecutionPlan, registry *producer.Registry) (*CostSummary, error) {
	summary := &CostSummary{ByProducer: make(map[string]float64)}
	missing := make(map[string]bool)

	for _, layer := range plan.Layers {
		for _, idx := range layer {
			job := &plan.Jobs[idx]
			summary.Jobs++

			reg, ok := registry.Lookup(job.Provider)
			if !ok || reg.Estimator == nil {
				if job.Provider != "" {
					missing[job.Provider] = true
				}
				summary.HasPlaceholders = true
				continue
			}

			est, err := reg.Estimator.Estimate(producer.Request{
				JobID:    job.ID,
				Producer: job.Producer,
				Produces: job.Produces,
				Provider: job.Provider,
				Model:    job.Model,
				Indices:  job.Indices,
			})
			if err != nil {
				return nil, NewUserInputError("cost estimation failed", err).
					WithCode(ErrCodeInvalidConfig).WithJob(job.ID).WithProducer(job.Producer)
			}

			summary.Total += est.Cost
			summary.ByProducer[job.Producer] += est.Cost
			if est.IsPlaceholder {
				summary.HasPlaceholders = true
			}
			if est.HasRange {
				summary.HasRanges = true
				summary.Min += est.Min
				summary.Max += est.Max
			} else {
				summary.Min += est.Cost
				summary.Max += est.Cost
			}
		}
	}

	for provider := range missing {
		summary.MissingProviders = append(summary.MissingProviders, provider)
	}
	sort.Strings(summary.MissingProviders)

	if !summary.HasRanges {
		summary.Min = summary.Total
		summary.Max = summary.Total
	}
	return summary, nil
}
