// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"time"
)

// Sender transmits the canonical frame every cycle.
//
//	Idle -> Configured -> Armed -> Transmitting -> Idle (loop)
//
// Any fault while configuring, arming or transmitting aborts the session.
type Sender struct {
	machine
}

// NewSender builds a Sender that owns radio for its lifetime.
func NewSender(cfg Config, radio RadioTransport, opts ...Option) *Sender {
	s := &Sender{machine: newMachine(RoleSender, cfg, radio, opts)}
	s.frame = PatternFrame(cfg.PayloadLen)
	return s
}

// Start derives the parameters and configures the modulation. Run and
// Cycle call it on first use.
func (s *Sender) Start(ctx context.Context) error {
	return s.configure(ctx)
}

// Cycle runs one arm + transmit cycle.
func (s *Sender) Cycle(ctx context.Context) (Outcome, error) {
	if err := s.configure(ctx); err != nil {
		return Outcome{}, err
	}
	s.cycle++

	s.indicator.Set(true)
	if err := s.radio.PrepareTransmit(ctx, s.mp, s.cfg.TxPowerDBm, s.cfg.TxBoost); err != nil {
		s.indicator.Set(false)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, s.abort(ArmFault, AsFault("prepare_transmit", err))
	}
	s.transition(StateArmed)

	s.transition(StateTransmitting)
	start := time.Now()
	err := s.radio.Transmit(ctx, s.mp, s.pp, s.frame, s.cfg.TxTimeout)
	elapsed := time.Since(start)
	if err != nil {
		s.indicator.Set(false)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		// Unlike the receiver, a transmit fault ends the session. The
		// transceiver was armed right before this call, so a failure here
		// is a configuration or hardware fault rather than a transient one.
		fault := AsFault("transmit", err)
		out := Outcome{Kind: OutcomeRadioFault, Fault: fault, Elapsed: elapsed}
		s.reportOutcome(out)
		return out, s.abort(TransferFault, fault)
	}

	out := Outcome{Kind: OutcomeSuccess, Received: len(s.frame), Elapsed: elapsed}
	s.reportOutcome(out)
	s.indicator.Set(false)
	s.transition(StateIdle)
	return out, nil
}

// Run cycles until a fatal fault, MaxCycles or ctx cancellation, waiting
// InterCycleDelay between transmissions.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	for {
		if _, err := s.Cycle(ctx); err != nil {
			return err
		}
		if s.done() {
			return nil
		}
		if err := sleep(ctx, s.cfg.InterCycleDelay); err != nil {
			return err
		}
	}
}
