package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Enrich scores the oldest unscored leads. A failed score is stored as 0
// with an empty insight and the page continues.
func (p *Pipeline) Enrich(ctx context.Context) (StageResult, error) {
	return track(ctx, StageEnrich, p.enrich)
}

func (p *Pipeline) enrich(ctx context.Context) (StageResult, error) {
	var res StageResult

	leads, err := p.leads.FindLeadsNeedingEnrichment(ctx, p.cfg.PageSize)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: find leads needing enrichment")
	}
	res.Selected = len(leads)

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: enrich interrupted")
		}
		lead := &leads[i]
		log := zap.L().With(zap.String("stage", StageEnrich), zap.String("lead_id", lead.ID))

		score, scoreErr := p.gen.ScoreLead(ctx, lead.Profile())
		if scoreErr != nil {
			log.Warn("pipeline: score lead failed", zap.Error(scoreErr))
			lead.SetEnrichment(0, "")
		} else {
			lead.SetEnrichment(score.LeadScore, score.Insight)
		}

		if err := p.leads.SaveLead(ctx, lead); err != nil {
			log.Error("pipeline: save enriched lead failed", zap.Error(err))
			res.Failed++
			continue
		}
		if scoreErr != nil {
			res.Failed++
			continue
		}
		res.Processed++
	}
	return res, nil
}
