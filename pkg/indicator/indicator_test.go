// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package indicator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

type brokenPin struct {
	gpiotest.Pin
	writes int
}

func (b *brokenPin) Out(gpio.Level) error {
	b.writes++
	if b.writes > 1 {
		return errors.New("bus error")
	}
	return nil
}

func TestGPIO_ActiveHigh(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO25", Num: 25, L: gpio.High}
	g, err := NewGPIO(pin, false)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, pin.L, "starts off")

	g.Set(true)
	assert.Equal(t, gpio.High, pin.L)
	assert.True(t, g.Active())

	require.NoError(t, g.Close())
	assert.Equal(t, gpio.Low, pin.L)
	assert.False(t, g.Active())
}

func TestGPIO_ActiveLow(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO18", Num: 18}
	g, err := NewGPIO(pin, true)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, pin.L)

	g.Set(true)
	assert.Equal(t, gpio.Low, pin.L)
}

func TestGPIO_PinErrorsDoNotPanic(t *testing.T) {
	pin := &brokenPin{Pin: gpiotest.Pin{N: "GPIO4", Num: 4}}
	g, err := NewGPIO(pin, false)
	require.NoError(t, err)

	g.Set(true)
	g.Set(false)
	assert.Equal(t, 3, pin.writes)
	assert.False(t, g.Active())
}

func TestMulti(t *testing.T) {
	var a, b []bool
	ind := Multi(
		Func(func(on bool) { a = append(a, on) }),
		Func(func(on bool) { b = append(b, on) }),
		Nop{},
		Log{Name: "test"},
	)
	ind.Set(true)
	ind.Set(false)

	assert.Equal(t, []bool{true, false}, a)
	assert.Equal(t, []bool{true, false}, b)
}
