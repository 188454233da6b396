package producer

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/transport"
)

// TransportDialer dials through the transport registry and keeps only the
// publishing side.
func TransportDialer(cfg transport.Config, logger logging.ServiceLogger) Dialer {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(ctx context.Context) (message.Publisher, error) {
		tr, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
		if err != nil {
			return nil, err
		}
		if tr.Subscriber != nil {
			if err := tr.Subscriber.Close(); err != nil {
				logger.Debug("Closing unused subscriber", logging.LogFields{"error": err.Error()})
			}
		}
		return tr.Publisher, nil
	}
}
