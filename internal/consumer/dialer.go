package consumer

import (
	"context"

	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/transport"
)

// TransportDialer dials through the transport registry.
func TransportDialer(cfg transport.Config, logger logging.ServiceLogger) Dialer {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
	}
}
