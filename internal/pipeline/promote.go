package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/store"
)

// Promote moves the leads of sent messages whose next touch falls within
// the lookahead window into follow-up. Messages are not modified.
func (p *Pipeline) Promote(ctx context.Context) (StageResult, error) {
	return track(ctx, StagePromote, p.promote)
}

func (p *Pipeline) promote(ctx context.Context) (StageResult, error) {
	var res StageResult

	cutoff := p.now().Add(p.cfg.FollowUpLookahead)
	msgs, err := p.messages.FindMessagesDue(ctx, cutoff)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: find messages due")
	}
	res.Selected = len(msgs)

	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: promote interrupted")
		}
		msg := &msgs[i]
		log := zap.L().With(
			zap.String("stage", StagePromote),
			zap.String("message_id", msg.ID),
			zap.String("lead_id", msg.LeadID),
		)

		lead, err := p.leads.GetLead(ctx, msg.LeadID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("pipeline: lead not found for message")
				res.Skipped++
				continue
			}
			log.Error("pipeline: get lead failed", zap.Error(err))
			res.Failed++
			continue
		}
		if lead.Status == model.LeadStatusFollowUp {
			res.Skipped++
			continue
		}

		if err := lead.MarkFollowUp(); err != nil {
			log.Info("pipeline: lead not eligible for follow-up", zap.String("status", string(lead.Status)))
			res.Skipped++
			continue
		}
		if err := p.leads.SaveLead(ctx, lead); err != nil {
			log.Error("pipeline: save follow-up lead failed", zap.Error(err))
			res.Failed++
			continue
		}
		log.Info("pipeline: lead marked for follow-up")
		res.Processed++
	}
	return res, nil
}
