package app

import (
	"context"

	"github.com/devrev/paracore/internal/service"
	"go.uber.org/zap"
)

// CallLogger logs every completed store call at debug level
func CallLogger(logger *zap.Logger) service.Listener {
	return service.ListenerFuncs{
		AfterFn: func(ctx context.Context, ev service.Event) {
			fields := []zap.Field{
				zap.String("operation", ev.Operation.String()),
				zap.String("tenant_id", ev.TenantID),
				zap.String("type", ev.ObjectType),
				zap.Int("objects", len(ev.IDs)),
				zap.Duration("duration", ev.Duration),
			}
			if ev.Err != nil {
				logger.Debug("Store call failed", append(fields, zap.Error(ev.Err))...)
				return
			}
			logger.Debug("Store call", fields...)
		},
	}
}
