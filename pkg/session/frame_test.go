// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternFrame(t *testing.T) {
	f := PatternFrame(255)
	require.Len(t, f, 255)
	for i, b := range f {
		assert.Equal(t, byte(i), b)
	}

	f.Clear()
	assert.Equal(t, NewFrame(255), f)
}

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name       string
		frame      Frame
		n          int
		payloadLen uint8
		reason     MalformedReason
	}{
		{"exact", PatternFrame(100), 100, 100, ReasonNone},
		{"single byte", PatternFrame(1), 1, 1, ReasonNone},
		{"max length", PatternFrame(255), 255, 255, ReasonNone},
		{"prefix", PatternFrame(100), 50, 100, ReasonLengthMismatch},
		{"extension", PatternFrame(120), 120, 100, ReasonLengthMismatch},
		{"empty", NewFrame(100), 0, 100, ReasonLengthMismatch},
		{"length beyond buffer", PatternFrame(10), 100, 100, ReasonLengthMismatch},
		{"zeros", NewFrame(100), 100, 100, ReasonContentMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateFrame(tt.frame, tt.n, tt.payloadLen)
			if tt.reason == ReasonNone {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestValidateFrame_ReportsFirstDifference(t *testing.T) {
	f := PatternFrame(100)
	f[42] = 0xAA
	f[80] = 0xBB

	v := ValidateFrame(f, 100, 100)
	require.NotNil(t, v)
	assert.Equal(t, 42, v.Offset)
	assert.Equal(t, byte(0xAA), v.Got)
	assert.Equal(t, byte(42), v.Want)
	assert.Equal(t, "content mismatch at byte 42: got=0xAA, want=0x2A", v.Error())
}

func TestValidateFrame_PatternWrapsAt256(t *testing.T) {
	// payload lengths never exceed 255, but the pattern is defined mod 256
	f := make(Frame, 300)
	for i := range f {
		f[i] = byte(i % 256)
	}
	assert.Nil(t, ValidateFrame(f[:255], 255, 255))
}

func FuzzValidateFrame(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3}, uint8(4))
	f.Add([]byte{}, uint8(1))
	f.Add([]byte(PatternFrame(100)), uint8(100))

	f.Fuzz(func(t *testing.T, data []byte, payloadLen uint8) {
		v := ValidateFrame(data, len(data), payloadLen)
		if v != nil {
			return
		}
		// anything accepted must be exactly the canonical frame
		if len(data) != int(payloadLen) {
			t.Fatalf("accepted %d bytes for payload length %d", len(data), payloadLen)
		}
		for i, b := range data {
			if b != byte(i) {
				t.Fatalf("accepted byte %d = 0x%02X", i, b)
			}
		}
	})
}
