// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"sync"
	"time"
)

// rxScript is one scripted Receive result.
type rxScript struct {
	data    []byte
	n       int // reported length; len(data) when zero
	quality LinkQuality
	err     error
}

// fakeRadio is a scripted RadioTransport that insists on being re-armed
// before every transfer.
type fakeRadio struct {
	StandardParams

	mu sync.Mutex

	configureErr error
	prepareTxErr error
	transmitErr  error
	prepareRxErr error
	rx           []rxScript

	calls     []string
	at        []time.Time
	sent      []Frame
	txArmed   bool
	rxArmed   bool
	rxTimeout time.Duration
}

func (f *fakeRadio) record(op string) {
	f.calls = append(f.calls, op)
	f.at = append(f.at, time.Now())
}

// times returns when each op call was made.
func (f *fakeRadio) times(op string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for i, c := range f.calls {
		if c == op {
			out = append(out, f.at[i])
		}
	}
	return out
}

func (f *fakeRadio) ConfigureModulation(ctx context.Context, mp ModulationParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("configure")
	return f.configureErr
}

func (f *fakeRadio) PrepareTransmit(ctx context.Context, mp ModulationParams, powerDBm int8, boosted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("prepare_tx")
	if f.prepareTxErr != nil {
		return f.prepareTxErr
	}
	f.txArmed = true
	return nil
}

func (f *fakeRadio) Transmit(ctx context.Context, mp ModulationParams, pp PacketParams, frame Frame, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("transmit")
	if !f.txArmed {
		return NewFault("transmit", FaultIllegalState, 0, nil)
	}
	f.txArmed = false
	if f.transmitErr != nil {
		return f.transmitErr
	}
	f.sent = append(f.sent, append(Frame(nil), frame...))
	return nil
}

func (f *fakeRadio) PrepareReceive(ctx context.Context, mp ModulationParams, pp PacketParams, rxBoost, continuous bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("prepare_rx")
	if f.prepareRxErr != nil {
		return f.prepareRxErr
	}
	f.rxArmed = true
	f.rxTimeout = pp.RxTimeout
	return nil
}

func (f *fakeRadio) Receive(ctx context.Context, pp PacketParams, out Frame) (int, LinkQuality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("receive")
	if !f.rxArmed {
		return 0, LinkQuality{}, NewFault("receive", FaultIllegalState, 0, nil)
	}
	f.rxArmed = false
	if len(f.rx) == 0 {
		return 0, LinkQuality{}, ErrRadioTimeout
	}
	next := f.rx[0]
	f.rx = f.rx[1:]
	if next.err != nil {
		return 0, LinkQuality{}, next.err
	}
	copy(out, next.data)
	n := next.n
	if n == 0 {
		n = len(next.data)
	}
	return n, next.quality, nil
}

func (f *fakeRadio) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// recordingIndicator keeps every Set call and when it happened.
type recordingIndicator struct {
	mu     sync.Mutex
	states []bool
	at     []time.Time
}

func (r *recordingIndicator) Set(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, active)
	r.at = append(r.at, time.Now())
}

// onIntervals returns how long each on period lasted.
func (r *recordingIndicator) onIntervals() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(r.states); i++ {
		if r.states[i-1] && !r.states[i] {
			out = append(out, r.at[i].Sub(r.at[i-1]))
		}
	}
	return out
}

func (r *recordingIndicator) history() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

// recordingSink keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []EventKind
	for _, e := range r.events {
		if e.Kind != EventStateChange {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func (r *recordingSink) outcomes() []OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []OutcomeKind
	for _, e := range r.events {
		if e.Kind == EventOutcome {
			kinds = append(kinds, e.Outcome.Kind)
		}
	}
	return kinds
}

func (r *recordingSink) first(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InterCycleDelay = 0
	cfg.IndicatorHold = 0
	return cfg
}
