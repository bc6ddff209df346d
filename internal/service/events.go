package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// publisher fans committed ledger events out to the signal bus. Publishing
// happens after the state change and its failures are only logged.
type publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func (p publisher) publish(ctx context.Context, evt domain.LedgerEvent) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WarnContext(ctx, "marshal event failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, evt.Channel(), payload); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamLedgerEvents, payload); err != nil {
		p.logger.WarnContext(ctx, "append event to stream failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}
