// Copyright (c) 2025 A Bit of Help, Inc.

package observe

import (
	"context"

	"github.com/zoobzio/capitan"
	"go.uber.org/zap"
)

// Signals for pipeline stage events.
var (
	SignalStageApplied = capitan.NewSignal("sealpipe.stage.applied", "Pipeline stage applied")
	SignalStageSkipped = capitan.NewSignal("sealpipe.stage.skipped", "Configured pipeline stage not applied")
)

// Keys for typed event data.
var (
	KeyOperationID = capitan.NewStringKey("operation_id")
	KeyOperation   = capitan.NewStringKey("operation")
	KeyStage       = capitan.NewStringKey("stage")
	KeyAlgorithm   = capitan.NewStringKey("algorithm")
	KeyAlgorithmID = capitan.NewIntKey("algorithm_id")
	KeyBytesIn     = capitan.NewIntKey("bytes_in")
	KeyBytesOut    = capitan.NewIntKey("bytes_out")
	KeyChunks      = capitan.NewIntKey("chunks")
	KeyDuration    = capitan.NewDurationKey("duration")
	KeyError       = capitan.NewErrorKey("error")
)

type signalObserver struct {
	bus *capitan.Capitan
}

// NewSignalObserver emits every stage event as a capitan signal on bus, or on the
// default capitan instance when bus is nil.
func NewSignalObserver(bus *capitan.Capitan) Observer {
	if bus == nil {
		bus = capitan.Default()
	}
	return signalObserver{bus: bus}
}

func (s signalObserver) StageApplied(ctx context.Context, ev Event) {
	signal := SignalStageApplied
	if ev.Skipped {
		signal = SignalStageSkipped
	}
	fields := []capitan.Field{
		KeyOperationID.Field(ev.OperationID),
		KeyOperation.Field(ev.Operation),
		KeyStage.Field(ev.Stage.String()),
		KeyAlgorithm.Field(ev.Algorithm),
		KeyAlgorithmID.Field(int(ev.AlgorithmID)),
		KeyBytesIn.Field(ev.BytesIn),
		KeyBytesOut.Field(ev.BytesOut),
		KeyChunks.Field(ev.Chunks),
		KeyDuration.Field(ev.Duration),
	}
	if ev.Err != nil {
		fields = append(fields, KeyError.Field(ev.Err))
		s.bus.Error(ctx, signal, fields...)
		return
	}
	s.bus.Emit(ctx, signal, fields...)
}

// LogSignals writes every stage signal emitted on bus to logger until the returned
// observer is closed. Error signals are logged at warn level.
func LogSignals(bus *capitan.Capitan, logger *zap.Logger) *capitan.Observer {
	return bus.Observe(func(_ context.Context, e *capitan.Event) {
		fields := []zap.Field{zap.String("signal", e.Signal().Name())}
		for _, k := range []capitan.StringKey{KeyOperationID, KeyOperation, KeyStage, KeyAlgorithm} {
			if v, ok := k.From(e); ok {
				fields = append(fields, zap.String(k.Name(), v))
			}
		}
		for _, k := range []capitan.IntKey{KeyAlgorithmID, KeyBytesIn, KeyBytesOut, KeyChunks} {
			if v, ok := k.From(e); ok {
				fields = append(fields, zap.Int(k.Name(), v))
			}
		}
		if d, ok := KeyDuration.From(e); ok {
			fields = append(fields, zap.Duration(KeyDuration.Name(), d))
		}
		if err, ok := KeyError.From(e); ok {
			logger.Warn("Pipeline signal", append(fields, zap.Error(err))...)
			return
		}
		logger.Info("Pipeline signal", fields...)
	}, SignalStageApplied, SignalStageSkipped)
}
