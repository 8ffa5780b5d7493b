// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry routes session events to logs, brokers and
// statistics without ever blocking a session.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/Thermoquad/loralink/pkg/session"
)

// LogSink writes every event to glog. State changes are verbose.
type LogSink struct{}

// Report implements session.Sink.
func (LogSink) Report(e session.Event) {
	line := session.FormatEvent(e)
	switch e.Kind {
	case session.EventStateChange:
		glog.V(2).Info(line)
	case session.EventFault:
		glog.Warning(line)
	case session.EventAborted:
		glog.Error(line)
	case session.EventOutcome:
		if e.Outcome != nil && e.Outcome.Kind != session.OutcomeSuccess {
			glog.Warning(line)
			return
		}
		glog.V(1).Info(line)
	default:
		glog.Info(line)
	}
}

// Fanout delivers each event to every sink in order.
type Fanout []session.Sink

// Report implements session.Sink.
func (f Fanout) Report(e session.Event) {
	for _, s := range f {
		s.Report(e)
	}
}

// Async decouples a slow sink from the session. Events are queued and
// delivered on a separate goroutine. When the queue is full, new events are
// dropped and counted.
type Async struct {
	next    session.Sink
	queue   chan session.Event
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts delivering to next with a queue of size events.
func NewAsync(next session.Sink, size int) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		next:  next,
		queue: make(chan session.Event, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		a.next.Report(e)
	}
}

// Report implements session.Sink. It never blocks.
func (a *Async) Report(e session.Event) {
	select {
	case a.queue <- e:
	default:
		if a.dropped.Add(1) == 1 {
			glog.Warning("telemetry: queue full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close delivers the queued events and stops. Report must not be called
// after Close.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
	})
	<-a.done
}
