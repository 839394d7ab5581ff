package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/store"
	"github.com/sells-group/sdr-cli/internal/textgen"
)

// FollowUp rewrites the existing message of each follow-up lead and queues
// it for dispatch again. Only leads whose message is sent are selected, so
// leads waiting on dispatch or already answered do not fill the page.
func (p *Pipeline) FollowUp(ctx context.Context) (StageResult, error) {
	return track(ctx, StageFollowUp, p.followUp)
}

func (p *Pipeline) followUp(ctx context.Context) (StageResult, error) {
	var res StageResult

	leads, err := p.leads.FindLeadsByStatus(ctx, model.LeadStatusFollowUp,
		store.LeadFilter{}.WithMessageStatus(model.MessageStatusSent), p.cfg.PageSize)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: find follow-up leads")
	}
	res.Selected = len(leads)

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: follow-up interrupted")
		}
		lead := &leads[i]
		log := zap.L().With(zap.String("stage", StageFollowUp), zap.String("lead_id", lead.ID))

		msg, err := p.messages.FindMessageByLead(ctx, lead.ID)
		if err != nil {
			log.Error("pipeline: lookup message failed", zap.Error(err))
			res.Failed++
			continue
		}
		if msg == nil {
			log.Warn("pipeline: no existing message for follow-up lead")
			res.Skipped++
			continue
		}
		log = log.With(zap.String("message_id", msg.ID))

		// The message may have changed since selection. Only a sent one
		// can be rewritten.
		if msg.Status != model.MessageStatusSent {
			res.Skipped++
			continue
		}

		d, err := p.gen.DraftFollowUp(ctx, lead.Profile())
		if err != nil {
			log.Warn("pipeline: follow-up draft failed, using fallback", zap.Error(err))
			fb := textgen.FollowUpFallback()
			d = &fb
		}

		if err := msg.Rewrite(d.Subject, p.withMeetingLink(d.Body, lead.ID), p.now(), p.cfg.FollowUpInterval); err != nil {
			log.Error("pipeline: rewrite message", zap.Error(err))
			res.Failed++
			continue
		}
		if err := p.messages.SaveMessage(ctx, msg); err != nil {
			log.Error("pipeline: save follow-up message failed", zap.Error(err))
			res.Failed++
			continue
		}
		log.Info("pipeline: drafted follow-up")
		res.Processed++
	}
	return res, nil
}
