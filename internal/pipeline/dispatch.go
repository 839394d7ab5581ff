package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/mailer"
	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/store"
)

// Dispatch sends pending messages to the owning lead's current address.
// A failed send leaves the message pending for the next cycle. Both cycle
// kinds end with dispatch; concurrent calls run one after the other.
func (p *Pipeline) Dispatch(ctx context.Context) (StageResult, error) {
	return track(ctx, StageDispatch, p.dispatch)
}

func (p *Pipeline) dispatch(ctx context.Context) (StageResult, error) {
	var res StageResult

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	msgs, err := p.messages.FindMessagesByStatus(ctx, model.MessageStatusPending, p.cfg.PageSize)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: find pending messages")
	}
	res.Selected = len(msgs)

	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: dispatch interrupted")
		}
		msg := &msgs[i]
		log := zap.L().With(
			zap.String("stage", StageDispatch),
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

		if err := p.mail.Send(ctx, lead.Email, msg.Subject, msg.Body); err != nil {
			if errors.Is(err, mailer.ErrAbandoned) {
				log.Warn("pipeline: send timed out, message may have been delivered and stays pending",
					zap.String("to", lead.Email), zap.Error(err))
			} else {
				log.Error("pipeline: send failed", zap.Error(err))
			}
			res.Failed++
			continue
		}

		sentAt := p.now()
		if err := msg.MarkSent(sentAt, p.cfg.FollowUpInterval); err != nil {
			log.Error("pipeline: mark message sent", zap.Error(err))
			res.Failed++
			continue
		}
		if err := p.messages.SaveMessage(ctx, msg); err != nil {
			log.Error("pipeline: save sent message failed", zap.Error(err))
			res.Failed++
			continue
		}

		if err := lead.MarkContacted(); err != nil {
			// meeting and closed leads keep their status.
			log.Info("pipeline: lead status kept after send", zap.String("status", string(lead.Status)))
		} else if err := p.leads.SaveLead(ctx, lead); err != nil {
			log.Error("pipeline: save contacted lead failed", zap.Error(err))
			res.Failed++
			continue
		}

		log.Info("pipeline: message sent", zap.String("to", lead.Email))
		res.Processed++
	}
	return res, nil
}
