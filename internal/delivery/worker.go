package delivery

import (
	"context"
	"errors"
	"time"

	"botcast/internal/audit"
	"botcast/internal/eventbus"
	kit "botcast/internal/transport"
	logx "botcast/pkg/logx"
)

func (s *Service) worker(ctx context.Context, queue <-chan Item, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-queue:
			s.Deliver(ctx, item)
		}
	}
}

// Deliver executes one work item: send, classify, retry.
//
// Outcomes:
//   - success: Event(delivery, delivered) with chat_id and a text preview.
//   - recipient gone: deactivate the subscription (missing row is a no-op),
//     Event(delivery, blocked). Terminal; nothing escapes.
//   - other faults: retried with exponential backoff up to MaxAttempts, then
//     dropped with Event(delivery, failed).
func (s *Service) Deliver(ctx context.Context, item Item) {
	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	cfg := s.cfg
	s.mu.Unlock()

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: item.ChatID}, item.Text, item.Opt)
		if err == nil {
			s.rec.Log(ctx, audit.TypeDelivery, audit.ActionDelivered, item.ChatID, "", map[string]any{
				"text":     preview(item.Text),
				"attempts": attempt,
			})
			s.publish(eventbus.SignalDelivered, item.ChatID, attempt, nil)
			return
		}

		if errors.Is(err, kit.ErrRecipientGone) {
			s.bounce(ctx, item, attempt)
			return
		}

		last = err
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := backoffDelay(cfg.RetryBase, cfg.RetryMaxDelay, attempt)
		s.log.Debug("send retry scheduled",
			logx.Int64("chat_id", item.ChatID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return
		case <-tmr.C:
		}
	}

	// Attempts exhausted: drop the message (at-least-once, not guaranteed).
	s.log.Warn("delivery failed; dropping message",
		logx.Int64("chat_id", item.ChatID),
		logx.Int("attempts", cfg.MaxAttempts),
		logx.Err(last))
	s.rec.Log(ctx, audit.TypeDelivery, audit.ActionFailed, item.ChatID, "", map[string]any{
		"text":     preview(item.Text),
		"attempts": cfg.MaxAttempts,
		"error":    errString(last),
	})
	s.publish(eventbus.SignalFailed, item.ChatID, cfg.MaxAttempts, last)
}

// bounce handles the terminal "recipient unreachable" fault: the chat will
// never accept another message, so its subscription is deactivated.
func (s *Service) bounce(ctx context.Context, item Item, attempt int) {
	matched, err := s.store.SetSubscriptionActive(ctx, item.ChatID, false)
	if err != nil {
		s.log.Warn("deactivate on bounce failed", logx.Int64("chat_id", item.ChatID), logx.Err(err))
	} else if matched {
		s.log.Info("subscription deactivated (recipient unreachable)", logx.Int64("chat_id", item.ChatID))
	}
	s.rec.Log(ctx, audit.TypeDelivery, audit.ActionBlocked, item.ChatID, "", map[string]any{
		"text": preview(item.Text),
	})
	s.publish(eventbus.SignalBounced, item.ChatID, attempt, nil)
}

func (s *Service) publish(name string, chatID int64, attempts int, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Signal{
		Name: name,
		Data: eventbus.DeliverySignal{ChatID: chatID, Attempts: attempts, Error: errString(err)},
	})
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
