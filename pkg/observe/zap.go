// Copyright (c) 2025 A Bit of Help, Inc.

package observe

import (
	"context"

	"go.uber.org/zap"
)

type zapObserver struct {
	logger *zap.Logger
}

// NewZapObserver logs successful stages at debug level and failed stages at error level.
func NewZapObserver(logger *zap.Logger) Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapObserver{logger: logger}
}

func (z *zapObserver) StageApplied(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("operation_id", ev.OperationID),
		zap.String("operation", ev.Operation),
		zap.Stringer("stage", ev.Stage),
		zap.String("algorithm", ev.Algorithm),
		zap.Uint16("algorithm_id", uint16(ev.AlgorithmID)),
		zap.Int("bytes_in", ev.BytesIn),
		zap.Int("bytes_out", ev.BytesOut),
		zap.Duration("duration", ev.Duration),
	}
	if ev.Chunks > 0 {
		fields = append(fields, zap.Int("chunks", ev.Chunks))
	}
	if ev.Skipped {
		fields = append(fields, zap.Bool("skipped", true))
	}
	if ev.Err != nil {
		z.logger.Error("Stage failed", append(fields, zap.Error(ev.Err))...)
		return
	}
	z.logger.Debug("Stage applied", fields...)
}
