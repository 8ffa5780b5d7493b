// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package loopback

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/loralink/pkg/session"
)

// MaxPayload is the largest frame a simulated radio carries.
const MaxPayload = 255

type packet struct {
	data    []byte
	quality session.LinkQuality
}

// Radio is one simulated transceiver. It implements session.RadioTransport
// and enforces the arm-before-every-transfer contract.
type Radio struct {
	session.StandardParams

	name   string
	medium *Medium
	notify chan struct{}

	mu         sync.Mutex
	mp         session.ModulationParams
	configured bool
	txArmed    bool
	rxArmed    bool
	closed     bool
	rx         ringBuffer
	sent       ringBuffer
}

// Name returns the name given to NewRadio.
func (r *Radio) Name() string {
	return r.name
}

// ConfigureModulation implements session.RadioTransport.
func (r *Radio) ConfigureModulation(ctx context.Context, mp session.ModulationParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return session.NewFault("configure_modulation", session.FaultIO, 0, errClosed)
	}
	r.mp = mp
	r.configured = true
	return nil
}

// PrepareTransmit implements session.RadioTransport.
func (r *Radio) PrepareTransmit(ctx context.Context, mp session.ModulationParams, powerDBm int8, boosted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkReady("prepare_transmit"); err != nil {
		return err
	}
	r.mp = mp
	r.rxArmed = false
	r.txArmed = true
	return nil
}

// Transmit implements session.RadioTransport.
func (r *Radio) Transmit(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, frame session.Frame, timeout time.Duration) error {
	r.mu.Lock()
	if err := r.checkReady("transmit"); err != nil {
		r.mu.Unlock()
		return err
	}
	if !r.txArmed {
		r.mu.Unlock()
		return session.NewFault("transmit", session.FaultIllegalState, 0, nil)
	}
	r.txArmed = false
	r.mu.Unlock()

	if len(frame) > MaxPayload {
		return session.NewFault("transmit", session.FaultUnsupported, 0, nil)
	}

	if r.medium.airtime {
		toa := mp.TimeOnAir(pp)
		if toa > timeout {
			return session.NewFault("transmit", session.FaultTimeout, 0, nil)
		}
		t := time.NewTimer(toa)
		select {
		case <-ctx.Done():
			t.Stop()
			return session.NewFault("transmit", session.FaultIO, 0, ctx.Err())
		case <-t.C:
		}
	}

	r.medium.broadcast(r, mp, frame)

	r.mu.Lock()
	r.sent.push(packet{data: append([]byte(nil), frame...)})
	r.mu.Unlock()
	return nil
}

// PrepareReceive implements session.RadioTransport. Packets left over from
// an earlier arm are discarded.
func (r *Radio) PrepareReceive(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, rxBoost, continuous bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkReady("prepare_receive"); err != nil {
		return err
	}
	r.mp = mp
	r.txArmed = false
	r.rx.reset()
	r.rxArmed = true
	select {
	case <-r.notify:
	default:
	}
	return nil
}

// Receive implements session.RadioTransport.
func (r *Radio) Receive(ctx context.Context, pp session.PacketParams, out session.Frame) (int, session.LinkQuality, error) {
	r.mu.Lock()
	if err := r.checkReady("receive"); err != nil {
		r.mu.Unlock()
		return 0, session.LinkQuality{}, err
	}
	if !r.rxArmed {
		r.mu.Unlock()
		return 0, session.LinkQuality{}, session.NewFault("receive", session.FaultIllegalState, 0, nil)
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.rxArmed = false
		r.mu.Unlock()
	}()

	timer := time.NewTimer(pp.RxTimeout)
	defer timer.Stop()

	for {
		r.mu.Lock()
		p, ok := r.rx.pop()
		r.mu.Unlock()
		if ok {
			copy(out, p.data)
			return len(p.data), p.quality, nil
		}

		select {
		case <-ctx.Done():
			return 0, session.LinkQuality{}, session.NewFault("receive", session.FaultIO, 0, ctx.Err())
		case <-timer.C:
			return 0, session.LinkQuality{}, session.NewFault("receive", session.FaultTimeout, 0, nil)
		case <-r.notify:
		}
	}
}

// Sent returns copies of the frames this radio put on air, oldest first.
func (r *Radio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, p := range r.sent.snapshot() {
		out = append(out, p.data)
	}
	return out
}

// Close detaches the radio from the medium.
func (r *Radio) Close() error {
	r.mu.Lock()
	r.closed = true
	r.txArmed = false
	r.rxArmed = false
	r.mu.Unlock()
	r.medium.detach(r)
	return nil
}

// listeningOn is called by the medium with its own lock held.
func (r *Radio) listeningOn(mp session.ModulationParams) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxArmed && !r.closed && sameChannel(r.mp, mp)
}

func (r *Radio) deliver(p packet) {
	r.mu.Lock()
	r.rx.push(p)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// checkReady must be called with r.mu held.
func (r *Radio) checkReady(op string) error {
	if r.closed {
		return session.NewFault(op, session.FaultIO, 0, errClosed)
	}
	if !r.configured {
		return session.NewFault(op, session.FaultIllegalState, 0, nil)
	}
	return nil
}

func sameChannel(a, b session.ModulationParams) bool {
	return a.FrequencyHz == b.FrequencyHz &&
		a.SpreadingFactor == b.SpreadingFactor &&
		a.Bandwidth == b.Bandwidth &&
		a.CodingRate == b.CodingRate
}
