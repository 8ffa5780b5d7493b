// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"time"
)

// RadioTransport is the physical link owned by a session. Every method
// returns a *RadioFault on failure. Transports never re-arm on their own:
// each Transmit needs a PrepareTransmit and each Receive a PrepareReceive
// issued immediately before it.
type RadioTransport interface {
	ParamFactory

	ConfigureModulation(ctx context.Context, mp ModulationParams) error

	// PrepareTransmit arms the transceiver for the next Transmit.
	PrepareTransmit(ctx context.Context, mp ModulationParams, powerDBm int8, boosted bool) error

	// Transmit blocks until frame is on air or timeout elapses, in which
	// case it returns a FaultTimeout.
	Transmit(ctx context.Context, mp ModulationParams, pp PacketParams, frame Frame, timeout time.Duration) error

	// PrepareReceive arms the transceiver to listen for pp.RxTimeout.
	PrepareReceive(ctx context.Context, mp ModulationParams, pp PacketParams, rxBoost, continuous bool) error

	// Receive blocks until a frame arrives or the armed timeout expires. It
	// copies at most len(out) bytes and returns the length of the packet as
	// received, which may exceed len(out).
	Receive(ctx context.Context, pp PacketParams, out Frame) (int, LinkQuality, error)
}

// Indicator is a binary activity signal, e.g. an LED. It is observability
// only and has no effect on the protocol.
type Indicator interface {
	Set(active bool)
}

// LinkQuality is reported for every successful receive.
type LinkQuality struct {
	RSSI int16 // dBm
	SNR  int16 // dB
}

// Role is the part a session plays on the link.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// State is a session state machine state.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateArmed
	StateTransmitting
	StateListening
	StateValidated
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateArmed:
		return "armed"
	case StateTransmitting:
		return "transmitting"
	case StateListening:
		return "listening"
	case StateValidated:
		return "validated"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// OutcomeKind is the result class of one transfer cycle.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeMalformed
	OutcomeTimeout
	OutcomeRadioFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRadioFault:
		return "radio_fault"
	default:
		return "unknown"
	}
}

// Outcome is the result of one cycle. It is consumed immediately by the
// loop and the sinks and never stored by the session.
type Outcome struct {
	Kind OutcomeKind

	// Quality is set for receiver successes.
	Quality *LinkQuality

	// Validation is set for Malformed outcomes.
	Validation *ValidationError

	// Fault is set for Timeout and RadioFault outcomes.
	Fault *RadioFault

	// Received is the byte count reported by the transport.
	Received int

	// Elapsed is the time spent in Transmit or Receive.
	Elapsed time.Duration
}

// Reason returns the malformed reason, or ReasonNone.
func (o Outcome) Reason() MalformedReason {
	if o.Validation == nil {
		return ReasonNone
	}
	return o.Validation.Reason
}
