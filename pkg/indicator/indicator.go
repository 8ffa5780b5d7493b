// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package indicator provides session.Indicator implementations: a GPIO
// driven LED on Linux boards, a log line, and adapters for tests and UIs.
package indicator

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/Thermoquad/loralink/pkg/session"
)

// GPIO drives an output pin.
type GPIO struct {
	pin       gpio.PinOut
	activeLow bool

	mu     sync.Mutex
	active bool
	failed bool
}

// OpenGPIO initialises the host drivers and looks up the named pin, e.g.
// "GPIO25" or "25". The LED starts off.
func OpenGPIO(name string, activeLow bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}
	return NewGPIO(p, activeLow)
}

// NewGPIO wraps an already resolved pin.
func NewGPIO(pin gpio.PinOut, activeLow bool) (*GPIO, error) {
	g := &GPIO{pin: pin, activeLow: activeLow}
	if err := g.pin.Out(g.level(false)); err != nil {
		return nil, fmt.Errorf("failed to drive %s: %w", pin, err)
	}
	return g, nil
}

func (g *GPIO) level(active bool) gpio.Level {
	if active != g.activeLow {
		return gpio.High
	}
	return gpio.Low
}

// Set implements session.Indicator. Pin errors are logged once and never
// reach the session.
func (g *GPIO) Set(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = active
	if err := g.pin.Out(g.level(active)); err != nil && !g.failed {
		g.failed = true
		glog.Warningf("indicator: %s: %v", g.pin, err)
	}
}

// Active reports the last requested state.
func (g *GPIO) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Close turns the LED off.
func (g *GPIO) Close() error {
	g.Set(false)
	return nil
}

// Log writes indicator changes to the log at verbosity 2.
type Log struct {
	Name string
}

// Set implements session.Indicator.
func (l Log) Set(active bool) {
	state := "off"
	if active {
		state = "on"
	}
	glog.V(2).Infof("indicator %s: %s", l.Name, state)
}

// Func adapts a function to session.Indicator.
type Func func(active bool)

// Set implements session.Indicator.
func (f Func) Set(active bool) {
	f(active)
}

// Nop ignores every change.
type Nop struct{}

// Set implements session.Indicator.
func (Nop) Set(bool) {}

// Multi drives several indicators together.
func Multi(inds ...session.Indicator) session.Indicator {
	return Func(func(active bool) {
		for _, ind := range inds {
			ind.Set(active)
		}
	})
}

var (
	_ session.Indicator = (*GPIO)(nil)
	_ session.Indicator = Log{}
	_ session.Indicator = Func(nil)
	_ session.Indicator = Nop{}
)
