package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Refresher periodically recomputes unrealized P&L and equity for every
// account. Each account is refreshed under its own lock, so a sweep
// never interleaves with an in-flight order on the same account.
type Refresher struct {
	engine   *Engine
	interval time.Duration
}

func NewRefresher(engine *Engine, interval time.Duration) *Refresher {
	return &Refresher{
		engine:   engine,
		interval: interval,
	}
}

// Start begins the refresh loop. It blocks until the context is
// cancelled and is meant to be launched as a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	logger := log.With().Str("component", "equity_refresher").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting equity refresher")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down equity refresher")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep refreshes every account once. A failure on one account is
// logged and does not stop the sweep.
func (r *Refresher) sweep(ctx context.Context) {
	logger := log.With().Str("component", "equity_refresher").Logger()

	accountIDs, err := r.engine.Accounts().ListAccountIDs()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list accounts")
		return
	}

	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			return
		}
		if err := r.engine.RefreshAccountEquity(ctx, accountID); err != nil {
			logger.Error().
				Err(err).
				Str("account_id", accountID).
				Msg("failed to refresh account equity")
		}
	}
}
