// Copyright (c) 2025 A Bit of Help, Inc.

// Package observe defines the sink the pipeline reports stage events to.
//
// The pipeline core depends only on Observer. Concrete sinks (zap, capitan signals,
// stats counters) live behind it and can be combined with Multi.
package observe

import (
	"context"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/segmentio/ksuid"
)

// Operation names reported in events.
const (
	OpEncode = "encode"
	OpDecode = "decode"
)

// Event describes one stage applied (or skipped) during an encode or decode.
type Event struct {
	// OperationID ties together the events of one Encode or Decode call.
	OperationID string
	Operation   string
	Stage       stage.Kind
	Algorithm   string
	AlgorithmID stage.AlgorithmID
	BytesIn     int
	BytesOut    int
	Duration    time.Duration
	// Chunks is the number of chunk frames a streaming stage processed, zero for
	// whole-payload stages.
	Chunks int
	// Skipped is set when a configured stage was not applied, e.g. compression that
	// did not shrink the payload.
	Skipped bool
	Err     error
}

// Observer receives stage events. Implementations must be safe for concurrent use
// and must not block for long; they run on the caller's goroutine.
type Observer interface {
	StageApplied(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// StageApplied implements Observer.
func (f ObserverFunc) StageApplied(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type nop struct{}

func (nop) StageApplied(context.Context, Event) {}

// Nop discards every event.
var Nop Observer = nop{}

type multi []Observer

func (m multi) StageApplied(ctx context.Context, ev Event) {
	for _, o := range m {
		o.StageApplied(ctx, ev)
	}
}

// Multi fans an event out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return Nop
	case 1:
		return m[0]
	}
	return m
}

// NewOperationID returns a sortable unique id for one pipeline call.
func NewOperationID() string {
	return ksuid.New().String()
}
