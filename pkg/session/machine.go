// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Option customises a Sender or Receiver.
type Option func(*machine)

// WithIndicator sets the activity indicator. The default does nothing.
func WithIndicator(ind Indicator) Option {
	return func(m *machine) {
		if ind != nil {
			m.indicator = ind
		}
	}
}

// WithSink sets the observability sink. The default discards events.
func WithSink(s Sink) Option {
	return func(m *machine) {
		if s != nil {
			m.sink = s
		}
	}
}

type nopIndicator struct{}

func (nopIndicator) Set(bool) {}

// machine holds what both roles share: the configuration, the owned
// transport, the derived parameters and the current state.
type machine struct {
	role      Role
	cfg       Config
	radio     RadioTransport
	indicator Indicator
	sink      Sink

	mp    ModulationParams
	pp    PacketParams
	frame Frame

	state   State
	cycle   uint64
	started bool
	fatal   error
}

func newMachine(role Role, cfg Config, radio RadioTransport, opts []Option) machine {
	m := machine{
		role:      role,
		cfg:       cfg,
		radio:     radio,
		indicator: nopIndicator{},
		sink:      nopSink{},
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// configure derives the parameters and programs the modulation once.
func (m *machine) configure(ctx context.Context) error {
	if m.fatal != nil {
		return m.fatal
	}
	if m.started {
		return nil
	}

	mp, pp, err := m.cfg.DeriveParams(m.radio)
	if err != nil {
		return m.abort(ConfigFault, err)
	}
	m.mp, m.pp = mp, pp

	if err := m.radio.ConfigureModulation(ctx, mp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.abort(ConfigFault, AsFault("configure_modulation", err))
	}

	m.started = true
	m.transition(StateConfigured)
	m.report(Event{Kind: EventConfigured, Params: &mp})
	glog.Infof("%s configured: %s, time on air %v", m.role, mp, mp.TimeOnAir(pp))
	return nil
}

func (m *machine) transition(s State) {
	if m.state == s {
		return
	}
	glog.V(2).Infof("%s #%d: %s -> %s", m.role, m.cycle, m.state, s)
	m.state = s
	m.report(Event{Kind: EventStateChange})
}

// abort reports a fatal fault, then moves to the terminal state.
func (m *machine) abort(class FaultClass, err error) error {
	m.report(Event{Kind: EventFault, Class: class, Err: err})
	sessErr := &SessionError{Role: m.role, Class: class, State: m.state, Err: err}
	m.state = StateAborted
	m.fatal = sessErr
	m.report(Event{Kind: EventAborted, Class: class, Err: err})
	glog.Errorf("%v", sessErr)
	return sessErr
}

func (m *machine) report(e Event) {
	e.Time = time.Now()
	e.Role = m.role
	e.Cycle = m.cycle
	e.State = m.state
	m.sink.Report(e)
}

func (m *machine) reportOutcome(o Outcome) {
	m.report(Event{Kind: EventOutcome, Outcome: &o})
}

func (m *machine) done() bool {
	return m.cfg.MaxCycles > 0 && m.cycle >= m.cfg.MaxCycles
}

// State returns the current state.
func (m *machine) State() State {
	return m.state
}

// Cycles returns the number of cycles started so far.
func (m *machine) Cycles() uint64 {
	return m.cycle
}

// Params returns the derived parameters; zero until the session started.
func (m *machine) Params() (ModulationParams, PacketParams) {
	return m.mp, m.pp
}

// Config returns the session configuration.
func (m *machine) Config() Config {
	return m.cfg
}

// sleep waits for d or until ctx is done. It holds no resource.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
