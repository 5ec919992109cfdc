package pipeline

import (
	"context"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
)

// Summary returns per-target delivery counts for a document. A document that
// has not reached Silver reports its stored gold status and no chunks.
func Summary(ctx context.Context, repo storage.Repository, id string) (*core.DistributionSummary, error) {
	doc, err := loadDocument(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	dists, err := repo.GetDistributions(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := core.Summarize(id, dists)
	if len(dists) == 0 {
		summary.Status = doc.GoldStatus
	}
	return summary, nil
}
