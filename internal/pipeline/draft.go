package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/store"
	"github.com/sells-group/sdr-cli/internal/textgen"
)

// Draft creates a pending first-contact message for each approved new lead
// that has no message yet.
func (p *Pipeline) Draft(ctx context.Context) (StageResult, error) {
	return track(ctx, StageDraft, p.draft)
}

func (p *Pipeline) draft(ctx context.Context) (StageResult, error) {
	var res StageResult

	leads, err := p.leads.FindLeadsByStatus(ctx, model.LeadStatusNew, store.Checked(true), p.cfg.PageSize)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: find leads to draft")
	}
	res.Selected = len(leads)

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: draft interrupted")
		}
		lead := &leads[i]
		log := zap.L().With(zap.String("stage", StageDraft), zap.String("lead_id", lead.ID))

		existing, err := p.messages.FindMessageByLead(ctx, lead.ID)
		if err != nil {
			log.Error("pipeline: lookup existing message failed", zap.Error(err))
			res.Failed++
			continue
		}
		if existing != nil {
			res.Skipped++
			continue
		}

		d, err := p.gen.DraftFirstContact(ctx, lead.Profile())
		if err != nil {
			log.Warn("pipeline: first contact draft failed, using fallback", zap.Error(err))
			fb := textgen.FirstContactFallback()
			d = &fb
		}

		msg := model.NewPendingMessage(lead, d.Subject, p.withMeetingLink(d.Body, lead.ID))
		if err := p.messages.CreateMessage(ctx, msg); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				log.Info("pipeline: message already exists")
				res.Skipped++
				continue
			}
			log.Error("pipeline: create message failed", zap.Error(err))
			res.Failed++
			continue
		}
		log.Info("pipeline: drafted first contact", zap.String("message_id", msg.ID))
		res.Processed++
	}
	return res, nil
}
