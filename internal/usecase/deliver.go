package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// Deliver sends replies in order, waiting each reply's Delay first. Every
// reply the transport accepts is counted as sent. A failed reply does not
// stop the ones after it; cancellation does.
func (e *Engine) Deliver(ctx context.Context, replies []domain.Reply) error {
	if e.sender == nil {
		return newError(ErrorInternal, "sender_not_configured", nil)
	}

	var sendErrs []error
	for _, reply := range replies {
		if reply.Delay > 0 {
			if err := e.wait(ctx, reply.Delay); err != nil {
				slog.Warn("delivery cancelled", "to", reply.To, "err", err)
				return newError(ErrorInternal, "delivery_cancelled", err)
			}
		}

		if err := e.sender.Send(ctx, reply); err != nil {
			slog.Error("failed to send reply", "to", reply.To, "text", reply.Text, "err", err)
			sendErrs = append(sendErrs, err)
			continue
		}
		slog.Info("message sent", "to", reply.To, "text", reply.Text, "mediaUrl", reply.MediaURL)

		if err := e.stats.RecordSent(ctx); err != nil {
			slog.Error("failed to record sent message", "err", err)
		}
	}

	if len(sendErrs) == 0 {
		return nil
	}
	err := errors.Join(sendErrs...)
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "twilio_rate_limited", err)
	}
	return newError(ErrorUpstream, "twilio_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
