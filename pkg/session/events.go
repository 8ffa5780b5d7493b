// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies what a session is reporting.
type EventKind int

const (
	EventConfigured EventKind = iota
	EventStateChange
	EventOutcome
	EventFault
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventConfigured:
		return "configured"
	case EventStateChange:
		return "state"
	case EventOutcome:
		return "outcome"
	case EventFault:
		return "fault"
	case EventAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Event is one report to the observability sink.
type Event struct {
	Time  time.Time
	Role  Role
	Kind  EventKind
	Cycle uint64
	State State

	// Outcome is set for EventOutcome.
	Outcome *Outcome

	// Class and Err are set for EventFault and EventAborted.
	Class FaultClass
	Err   error

	// Params is set for EventConfigured.
	Params *ModulationParams
}

// Sink receives session events. Report must not block the session; slow
// sinks are wrapped with telemetry.Async.
type Sink interface {
	Report(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Report implements Sink.
func (f SinkFunc) Report(e Event) {
	f(e)
}

type nopSink struct{}

func (nopSink) Report(Event) {}

// FormatEvent renders e as a single human-readable line.
func FormatEvent(e Event) string {
	timestamp := e.Time.Format("15:04:05.000")
	prefix := fmt.Sprintf("[%s] %s #%d", timestamp, e.Role, e.Cycle)

	switch e.Kind {
	case EventConfigured:
		if e.Params != nil {
			return fmt.Sprintf("%s configured: %s", prefix, e.Params)
		}
		return prefix + " configured"
	case EventStateChange:
		return fmt.Sprintf("%s -> %s", prefix, e.State)
	case EventOutcome:
		if e.Outcome == nil {
			return prefix + " outcome"
		}
		return fmt.Sprintf("%s %s", prefix, FormatOutcome(e.Role, *e.Outcome))
	case EventFault:
		return fmt.Sprintf("%s %s fault in %s: %v", prefix, e.Class, e.State, e.Err)
	case EventAborted:
		return fmt.Sprintf("%s ABORTED (%s fault in %s): %v", prefix, e.Class, e.State, e.Err)
	default:
		return prefix
	}
}

// FormatOutcome renders an outcome the way the firmware logged it.
func FormatOutcome(role Role, o Outcome) string {
	var s strings.Builder
	switch o.Kind {
	case OutcomeSuccess:
		if role == RoleSender {
			fmt.Fprintf(&s, "TX done %d ms", o.Elapsed.Milliseconds())
		} else if o.Quality != nil {
			fmt.Fprintf(&s, "rx snr %d rssi %d", o.Quality.SNR, o.Quality.RSSI)
		} else {
			s.WriteString("rx ok")
		}
	case OutcomeMalformed:
		fmt.Fprintf(&s, "rx unknown packet (%s)", o.Reason())
		if o.Validation != nil {
			fmt.Fprintf(&s, ": %v", o.Validation)
		}
	case OutcomeTimeout:
		fmt.Fprintf(&s, "rx timeout after %d ms", o.Elapsed.Milliseconds())
	case OutcomeRadioFault:
		if role == RoleSender {
			fmt.Fprintf(&s, "Radio error = %v", o.Fault)
		} else {
			fmt.Fprintf(&s, "rx unsuccessful = %v", o.Fault)
		}
	}
	return s.String()
}
