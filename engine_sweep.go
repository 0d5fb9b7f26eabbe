package goAccess

import (
	"context"
	"errors"
	"time"
)

// SweepReport counts what one sweep removed.
type SweepReport struct {
	Codes      int
	Tokens     int
	RateQueues int
}

// Total is the number of records removed.
func (r SweepReport) Total() int {
	return r.Codes + r.Tokens + r.RateQueues
}

// Sweep removes expired authorization codes and access tokens and drops
// idle rate-limit queues. Only records whose expiry has passed are
// removed, so a sweep never races a verification into a wrong answer.
// Pending consents expire through their Redis TTL.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if e == nil || e.codes == nil || e.tokens == nil || e.limiter == nil {
		return report, ErrEngineNotReady
	}
	batch := e.config.Sweep.BatchSize

	var errs []error
	n, err := e.codes.Sweep(ctx, batch)
	report.Codes = n
	errs = append(errs, err)

	n, err = e.tokens.Sweep(ctx, batch)
	report.Tokens = n
	errs = append(errs, err)

	n, err = e.limiter.Sweep(ctx)
	report.RateQueues = n
	errs = append(errs, err)

	if e.metrics != nil {
		e.metrics.Add(MetricSweepRemoved, uint64(report.Total()))
	}
	return report, errors.Join(errs...)
}

// RunSweeper calls Sweep every Sweep.Interval until ctx is done. Sweep
// errors are logged and the loop keeps going.
func (e *Engine) RunSweeper(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ticker := time.NewTicker(e.config.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := e.Sweep(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Msg("sweep incomplete")
			}
			if report.Total() > 0 {
				e.logger.Debug().
					Int("codes", report.Codes).
					Int("tokens", report.Tokens).
					Int("rate_queues", report.RateQueues).
					Msg("sweep removed expired records")
			}
		}
	}
}
