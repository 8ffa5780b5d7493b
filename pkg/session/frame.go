// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "fmt"

// Frame is the fixed-length payload exchanged in one transfer cycle. A
// session allocates it once and reuses it for every cycle.
type Frame []byte

// NewFrame allocates a zeroed frame of n bytes.
func NewFrame(n uint8) Frame {
	return make(Frame, n)
}

// PatternFrame returns the canonical frame of n bytes: byte i is i mod 256.
func PatternFrame(n uint8) Frame {
	f := NewFrame(n)
	f.FillPattern()
	return f
}

// FillPattern overwrites f with the canonical pattern.
func (f Frame) FillPattern() {
	for i := range f {
		f[i] = byte(i)
	}
}

// Clear zeroes f.
func (f Frame) Clear() {
	for i := range f {
		f[i] = 0
	}
}

// MalformedReason says why a received frame was rejected.
type MalformedReason int

const (
	ReasonNone MalformedReason = iota
	ReasonLengthMismatch
	ReasonContentMismatch
)

func (r MalformedReason) String() string {
	switch r {
	case ReasonLengthMismatch:
		return "length_mismatch"
	case ReasonContentMismatch:
		return "content_mismatch"
	default:
		return "none"
	}
}

// ValidationError describes a rejected frame.
type ValidationError struct {
	Reason   MalformedReason
	Received int
	Expected int
	// Offset of the first differing byte, ContentMismatch only.
	Offset int
	Got    byte
	Want   byte
}

func (v *ValidationError) Error() string {
	switch v.Reason {
	case ReasonLengthMismatch:
		return fmt.Sprintf("length mismatch: received=%d, expected=%d", v.Received, v.Expected)
	case ReasonContentMismatch:
		return fmt.Sprintf("content mismatch at byte %d: got=0x%02X, want=0x%02X", v.Offset, v.Got, v.Want)
	default:
		return "frame valid"
	}
}

// ValidateFrame checks the first n bytes of got against the canonical
// pattern of payloadLen bytes. The length must match exactly; a frame that
// is a prefix or extension of the pattern is never accepted.
func ValidateFrame(got Frame, n int, payloadLen uint8) *ValidationError {
	if n != int(payloadLen) || n > len(got) {
		return &ValidationError{
			Reason:   ReasonLengthMismatch,
			Received: n,
			Expected: int(payloadLen),
		}
	}
	for i := 0; i < n; i++ {
		if got[i] != byte(i) {
			return &ValidationError{
				Reason:   ReasonContentMismatch,
				Received: n,
				Expected: int(payloadLen),
				Offset:   i,
				Got:      got[i],
				Want:     byte(i),
			}
		}
	}
	return nil
}
