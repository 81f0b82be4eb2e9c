package delivery

import (
	"context"

	"botcast/internal/audit"
	kit "botcast/internal/transport"
	logx "botcast/pkg/logx"
)

// Broadcast fans text out to every active subscription: one work item per
// recipient. No snapshot isolation — subscriptions toggled mid-iteration may
// or may not be included. Returns the number of recipients enqueued.
//
// Delivery outcomes are invisible to the caller; only the audit log records
// them.
func (s *Service) Broadcast(ctx context.Context, text string, opt *kit.SendOptions) (int, error) {
	subs, err := s.store.ListSubscriptions(ctx, true)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, sub := range subs {
		if err := s.Enqueue(Item{ChatID: sub.ChatID, Text: text, Opt: opt}); err != nil {
			s.log.Warn("broadcast enqueue dropped",
				logx.Int64("chat_id", sub.ChatID),
				logx.Err(err))
			continue
		}
		enqueued++
	}

	s.rec.Log(ctx, audit.TypeDelivery, audit.ActionBroadcast, 0, "", map[string]any{
		"recipients": enqueued,
		"text":       preview(text),
	})
	s.log.Info("broadcast enqueued",
		logx.Int("recipients", enqueued),
		logx.Int("skipped", len(subs)-enqueued))
	return enqueued, nil
}

// Notify is the single-recipient variant of Broadcast.
func (s *Service) Notify(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if err := s.Enqueue(Item{ChatID: chatID, Text: text, Opt: opt}); err != nil {
		return err
	}
	s.rec.Log(ctx, audit.TypeDelivery, audit.ActionNotify, chatID, "", map[string]any{
		"text": preview(text),
	})
	return nil
}
