// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package platform brings up the board a session runs on: the radio
// transport and the activity indicator.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/loralink/pkg/config"
	"github.com/Thermoquad/loralink/pkg/indicator"
	"github.com/Thermoquad/loralink/pkg/loopback"
	"github.com/Thermoquad/loralink/pkg/rylr"
	"github.com/Thermoquad/loralink/pkg/session"
	"github.com/Thermoquad/loralink/pkg/wsbridge"
)

// Transport kinds.
const (
	KindSerial = "serial"
	KindWS     = "ws"
	KindSim    = "sim"
)

// ErrNoTransport is returned when the selected transport is missing its
// address.
var ErrNoTransport = errors.New("no transport configured")

// BoardConfig selects the hardware.
type BoardConfig struct {
	Transport config.Transport
	Sim       config.Sim
	Indicator config.Indicator

	// Password for a websocket bridge with Basic auth.
	Password string

	// Medium is shared by simulated boards. Nil creates a private one.
	Medium *loopback.Medium
	// Name labels the simulated radio.
	Name string
}

// Board is a ready transport and indicator.
type Board struct {
	Transport session.RadioTransport
	Indicator session.Indicator
	Info      string

	closers []func() error
}

// Close releases the transport and turns the indicator off.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Board) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// SimMedium builds a medium from the sim section.
func SimMedium(s config.Sim) *loopback.Medium {
	opts := []loopback.MediumOption{
		loopback.WithLoss(s.Loss),
		loopback.WithCorruption(s.Corruption),
		loopback.WithQuality(session.LinkQuality{RSSI: s.RSSI, SNR: s.SNR}, s.Jitter),
		loopback.WithAirtime(s.Airtime),
	}
	if s.Seed != 0 {
		opts = append(opts, loopback.WithSeed(s.Seed))
	}
	return loopback.NewMedium(opts...)
}

// Init opens the transport and indicator. A failure here means the
// session never starts.
func Init(ctx context.Context, cfg BoardConfig) (*Board, error) {
	b := &Board{}

	switch cfg.Transport.Kind {
	case KindSim:
		medium := cfg.Medium
		if medium == nil {
			medium = SimMedium(cfg.Sim)
		}
		name := cfg.Name
		if name == "" {
			name = "sim"
		}
		radio := medium.NewRadio(name)
		b.Transport = radio
		b.onClose(radio.Close)
		b.Info = fmt.Sprintf("Simulated: %s (loss %.0f%%, corruption %.0f%%)",
			name, cfg.Sim.Loss*100, cfg.Sim.Corruption*100)

	case KindSerial, "":
		if cfg.Transport.Port == "" {
			return nil, fmt.Errorf("%w: --port is required for serial", ErrNoTransport)
		}
		opts := []rylr.Option{rylr.WithAddress(cfg.Transport.Address)}
		if cfg.Transport.CommandTimeout > 0 {
			opts = append(opts, rylr.WithCommandTimeout(cfg.Transport.CommandTimeout))
		}
		modem, err := rylr.Open(cfg.Transport.Port, cfg.Transport.Baud, opts...)
		if err != nil {
			return nil, err
		}
		b.Transport = modem
		b.onClose(modem.Close)
		b.Info = fmt.Sprintf("Serial: %s @ %d baud", cfg.Transport.Port, cfg.Transport.Baud)

	case KindWS:
		if cfg.Transport.URL == "" {
			return nil, fmt.Errorf("%w: --url is required for ws", ErrNoTransport)
		}
		client, err := wsbridge.Dial(ctx, cfg.Transport.URL, wsbridge.DialOptions{
			Username:      cfg.Transport.Username,
			Password:      cfg.Password,
			SkipSSLVerify: cfg.Transport.NoSSLVerify,
		})
		if err != nil {
			return nil, err
		}
		b.Transport = client
		b.onClose(client.Close)
		b.Info = fmt.Sprintf("WebSocket: %s", cfg.Transport.URL)

	default:
		return nil, fmt.Errorf("unknown transport %q (use serial, ws or sim)", cfg.Transport.Kind)
	}

	ind, err := openIndicator(cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Indicator = ind
	if g, ok := ind.(*indicator.GPIO); ok {
		b.onClose(g.Close)
	}

	glog.Infof("platform: %s", b.Info)
	return b, nil
}

func openIndicator(cfg BoardConfig) (session.Indicator, error) {
	if cfg.Indicator.GPIOPin == "" {
		return indicator.Log{Name: cfg.Name}, nil
	}
	g, err := indicator.OpenGPIO(cfg.Indicator.GPIOPin, cfg.Indicator.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("indicator: %w", err)
	}
	return g, nil
}
