// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"time"
)

// Receiver listens for the canonical frame every cycle and validates it.
//
//	Idle -> Configured -> Armed -> Listening -> Validated -> Idle (loop)
//
// Configuration and arm faults abort the session. Receive timeouts, receive
// faults and malformed frames are reported and the next cycle re-arms.
type Receiver struct {
	machine
}

// NewReceiver builds a Receiver that owns radio for its lifetime.
func NewReceiver(cfg Config, radio RadioTransport, opts ...Option) *Receiver {
	r := &Receiver{machine: newMachine(RoleReceiver, cfg, radio, opts)}
	r.frame = NewFrame(cfg.PayloadLen)
	return r
}

// Start derives the parameters, configures the modulation and gives the
// startup blink when one is configured.
func (r *Receiver) Start(ctx context.Context) error {
	if r.started || r.fatal != nil {
		return r.configure(ctx)
	}
	if err := r.configure(ctx); err != nil {
		return err
	}
	if r.cfg.StartupBlink > 0 {
		r.indicator.Set(true)
		err := sleep(ctx, r.cfg.StartupBlink)
		r.indicator.Set(false)
		return err
	}
	return nil
}

// Cycle runs one arm + receive + validate cycle. Only fatal faults and
// cancellation produce an error.
func (r *Receiver) Cycle(ctx context.Context) (Outcome, error) {
	if err := r.configure(ctx); err != nil {
		return Outcome{}, err
	}
	r.cycle++

	if err := r.radio.PrepareReceive(ctx, r.mp, r.pp, r.cfg.RxBoost, false); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, r.abort(ArmFault, AsFault("prepare_receive", err))
	}
	r.transition(StateArmed)

	// Bytes from an earlier cycle must never validate a short packet.
	r.frame.Clear()

	r.transition(StateListening)
	start := time.Now()
	n, quality, err := r.radio.Receive(ctx, r.pp, r.frame)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		fault := AsFault("receive", err)
		out := Outcome{Kind: OutcomeRadioFault, Fault: fault, Elapsed: elapsed}
		if errors.Is(fault, ErrRadioTimeout) {
			out.Kind = OutcomeTimeout
		}
		r.reportOutcome(out)
		r.transition(StateIdle)
		return out, nil
	}

	if v := ValidateFrame(r.frame, n, r.cfg.PayloadLen); v != nil {
		out := Outcome{Kind: OutcomeMalformed, Validation: v, Received: n, Elapsed: elapsed}
		r.reportOutcome(out)
		r.transition(StateIdle)
		return out, nil
	}
	r.transition(StateValidated)

	q := quality
	out := Outcome{Kind: OutcomeSuccess, Quality: &q, Received: n, Elapsed: elapsed}
	r.indicator.Set(true)
	r.reportOutcome(out)
	err = sleep(ctx, r.cfg.IndicatorHold)
	r.indicator.Set(false)
	r.transition(StateIdle)
	return out, err
}

// Run cycles until a fatal fault, MaxCycles or ctx cancellation. There is
// no delay between cycles: the receiver re-arms as soon as it can.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	for {
		if _, err := r.Cycle(ctx); err != nil {
			return err
		}
		if r.done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
