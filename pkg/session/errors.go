// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
)

// FaultCode classifies a RadioFault independently of the transport.
type FaultCode int

const (
	FaultUnknown FaultCode = iota
	FaultTimeout
	FaultCRC
	FaultBusy
	FaultUnsupported
	FaultIO
	FaultIllegalState
)

func (c FaultCode) String() string {
	switch c {
	case FaultTimeout:
		return "timeout"
	case FaultCRC:
		return "crc"
	case FaultBusy:
		return "busy"
	case FaultUnsupported:
		return "unsupported"
	case FaultIO:
		return "io"
	case FaultIllegalState:
		return "illegal_state"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *RadioFault of the same code.
var (
	ErrRadioTimeout      = &RadioFault{Code: FaultTimeout}
	ErrRadioCRC          = &RadioFault{Code: FaultCRC}
	ErrRadioIllegalState = &RadioFault{Code: FaultIllegalState}
)

// RadioFault is the error returned by every RadioTransport operation.
// Detail holds the transport-specific code, e.g. a modem's +ERR value.
type RadioFault struct {
	Op     string
	Code   FaultCode
	Detail int
	Err    error
}

// NewFault builds a RadioFault for op.
func NewFault(op string, code FaultCode, detail int, err error) *RadioFault {
	return &RadioFault{Op: op, Code: code, Detail: detail, Err: err}
}

func (f *RadioFault) Error() string {
	msg := fmt.Sprintf("radio fault: %s", f.Code)
	if f.Op != "" {
		msg = fmt.Sprintf("%s: %s", f.Op, msg)
	}
	if f.Detail != 0 {
		msg += fmt.Sprintf(" (code %d)", f.Detail)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *RadioFault) Unwrap() error {
	return f.Err
}

// Is matches sentinel faults by code.
func (f *RadioFault) Is(target error) bool {
	t, ok := target.(*RadioFault)
	if !ok {
		return false
	}
	return t.Op == "" && t.Detail == 0 && t.Err == nil && t.Code == f.Code
}

// AsFault extracts a RadioFault from err. Errors that are not faults are
// wrapped as FaultUnknown so every report carries a code.
func AsFault(op string, err error) *RadioFault {
	if err == nil {
		return nil
	}
	var f *RadioFault
	if errors.As(err, &f) {
		return f
	}
	return NewFault(op, FaultUnknown, 0, err)
}

// FaultClass groups faults by where in the cycle they happen.
type FaultClass int

const (
	ConfigFault FaultClass = iota
	ArmFault
	TransferFault
	ValidationFault
)

func (c FaultClass) String() string {
	switch c {
	case ConfigFault:
		return "config"
	case ArmFault:
		return "arm"
	case TransferFault:
		return "transfer"
	case ValidationFault:
		return "validation"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// SessionError is returned by Run when a fatal fault aborts the session.
type SessionError struct {
	Role  Role
	Class FaultClass
	State State
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s session aborted in %s (%s fault): %v", e.Role, e.State, e.Class, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
