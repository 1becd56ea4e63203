// Package job runs the engine's background schedules.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/upshift01/upshift-sub003/service"
)

// StartPaymentSweep schedules the pending-session sweep on the given
// interval. The returned cron is already started; stop it during shutdown.
func StartPaymentSweep(payments *service.PaymentService, intervalMinutes int) (*cron.Cron, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = 5
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(intervalMinutes)*time.Minute)
		defer cancel()

		committed := payments.SweepPending(ctx)
		slog.Debug("payment sweep finished", "committed", committed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule payment sweep: %w", err)
	}

	c.Start()
	slog.Info("payment sweep scheduled", "interval_minutes", intervalMinutes)
	return c, nil
}
