package notify

import (
	"github.com/ksred/paper-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives execution and error events from the execution engine.
// Implementations must not block the engine; the ledger is already
// committed when events are emitted, so delivery failures are the
// sink's own problem.
type Sink interface {
	OrderExecuted(event types.ExecutionEvent)
	OrderError(event types.ErrorEvent)
}

// LogSink writes every event to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs events under the given component name.
func NewLogSink() *LogSink {
	return &LogSink{
		logger: log.With().Str("component", "notify").Logger(),
	}
}

func (s *LogSink) OrderExecuted(event types.ExecutionEvent) {
	s.logger.Info().
		Str("account_id", event.AccountID).
		Str("order_id", event.OrderID).
		Str("symbol", event.Symbol).
		Str("side", event.Side).
		Str("quantity", event.Quantity.String()).
		Str("execution_price", event.ExecutionPrice.String()).
		Str("amount", event.Amount.String()).
		Str("commission", event.Commission.String()).
		Bool("real_fill", event.RealFill).
		Msg(event.Summary)
}

func (s *LogSink) OrderError(event types.ErrorEvent) {
	s.logger.Warn().
		Str("account_id", event.AccountID).
		Str("symbol", event.Symbol).
		Str("side", event.Side).
		Msg(event.Message)
}

// Fanout delivers every event to each of its sinks in order.
type Fanout []Sink

func (f Fanout) OrderExecuted(event types.ExecutionEvent) {
	for _, sink := range f {
		sink.OrderExecuted(event)
	}
}

func (f Fanout) OrderError(event types.ErrorEvent) {
	for _, sink := range f {
		sink.OrderError(event)
	}
}
