package commands

import (
	"github.com/reelforge/reelforge/pkg/catalog"
	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/producer"
)

// buildRegistry registers the builtin placeholder handler for every provider
// the plan references. Retry policy and cost estimates come from the catalog
// when one is loaded; the first job seen for a provider selects the model the
// policy is read for. Deployments with real integrations register their own
// handlers through the producer SDK instead.
func buildRegistry(plan *engine.ExecutionPlan, cat *catalog.Catalog) (*producer.Registry, error) {
	registry := producer.NewRegistry()
	seen := make(map[string]bool)

	for i := range plan.Jobs {
		job := &plan.Jobs[i]
		if job.Provider == "" || seen[job.Provider] {
			continue
		}
		seen[job.Provider] = true

		var opts []producer.Option
		if cat != nil {
			opts = append(opts,
				producer.WithMetadata(cat.Metadata(job.Provider, job.Model)),
				producer.WithEstimator(&catalogEstimator{catalog: cat}),
			)
		}
		if err := registry.Register(job.Provider, producer.Simulated(), opts...); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// catalogEstimator prices requests from the model catalog. Providers the
// catalog does not know get a zero placeholder.
type catalogEstimator struct {
	catalog *catalog.Catalog
}

func (e *catalogEstimator) Estimate(req producer.Request) (producer.Estimate, error) {
	if est, ok := e.catalog.Estimate(req.Provider, req.Model); ok {
		return est, nil
	}
	return producer.Estimate{IsPlaceholder: true}, nil
}
