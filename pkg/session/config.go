// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig marks a configuration the session or the transport
// cannot run with. It is fatal and never retried.
var ErrInvalidConfig = errors.New("invalid session configuration")

// Config holds the parameters chosen once at startup. Both peers must use
// the same PHY parameters and PayloadLen.
type Config struct {
	FrequencyHz     uint32
	SpreadingFactor SpreadingFactor
	Bandwidth       Bandwidth
	CodingRate      CodingRate
	PayloadLen      uint8
	TxPowerDBm      int8
	PreambleSymbols uint16
	CRC             bool
	InvertIQ        bool
	RxTimeout       time.Duration
	InterCycleDelay time.Duration

	TxTimeout     time.Duration
	IndicatorHold time.Duration
	StartupBlink  time.Duration
	TxBoost       bool
	RxBoost       bool

	// MaxCycles stops Run after this many cycles. Zero runs until a fatal
	// fault or context cancellation.
	MaxCycles uint64
}

// DefaultConfig returns the firmware configuration.
func DefaultConfig() Config {
	return Config{
		FrequencyHz:     DefaultFrequencyHz,
		SpreadingFactor: DefaultSpreadingFactor,
		Bandwidth:       DefaultBandwidth,
		CodingRate:      DefaultCodingRate,
		PayloadLen:      DefaultPayloadLen,
		TxPowerDBm:      DefaultTxPowerDBm,
		PreambleSymbols: DefaultPreamble,
		CRC:             true,
		InvertIQ:        false,
		RxTimeout:       DefaultRxTimeout,
		InterCycleDelay: DefaultInterCycleDelay,
		TxTimeout:       DefaultTxTimeout,
		IndicatorHold:   DefaultIndicatorHold,
	}
}

// Validate checks ranges that hold for every transport.
func (c Config) Validate() error {
	var problems []string
	if c.FrequencyHz == 0 {
		problems = append(problems, "frequency must be non-zero")
	}
	if !c.SpreadingFactor.Valid() {
		problems = append(problems, fmt.Sprintf("spreading factor %d out of range 5..12", c.SpreadingFactor))
	}
	if !c.Bandwidth.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported bandwidth %d Hz", c.Bandwidth))
	}
	if !c.CodingRate.Valid() {
		problems = append(problems, fmt.Sprintf("coding rate index %d out of range 1..4", c.CodingRate))
	}
	if c.PayloadLen == 0 {
		problems = append(problems, "payload length must be at least 1")
	}
	if c.PreambleSymbols == 0 {
		problems = append(problems, "preamble must be at least 1 symbol")
	}
	if c.RxTimeout <= 0 {
		problems = append(problems, "receive timeout must be positive")
	}
	if c.TxTimeout <= 0 {
		problems = append(problems, "transmit timeout must be positive")
	}
	if c.InterCycleDelay < 0 || c.IndicatorHold < 0 || c.StartupBlink < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return configError(problems)
}

// DeriveParams validates c and asks the transport to encode it. Any
// rejection is reported as ErrInvalidConfig.
func (c Config) DeriveParams(f ParamFactory) (ModulationParams, PacketParams, error) {
	if err := c.Validate(); err != nil {
		return ModulationParams{}, PacketParams{}, err
	}

	mp, err := f.CreateModulationParams(c.SpreadingFactor, c.Bandwidth, c.CodingRate, c.FrequencyHz)
	if err != nil {
		return ModulationParams{}, PacketParams{}, fmt.Errorf("%w: modulation: %v", ErrInvalidConfig, err)
	}

	pp, err := f.CreatePacketParams(c.PreambleSymbols, false, c.PayloadLen, c.CRC, c.InvertIQ, c.RxTimeout, mp)
	if err != nil {
		return ModulationParams{}, PacketParams{}, fmt.Errorf("%w: packet: %v", ErrInvalidConfig, err)
	}

	return mp, pp, nil
}

func (c Config) String() string {
	return fmt.Sprintf("%.3f MHz %s %s CR%s len=%d power=%ddBm preamble=%d crc=%v iq_inv=%v",
		float64(c.FrequencyHz)/1e6, c.SpreadingFactor, c.Bandwidth, c.CodingRate,
		c.PayloadLen, c.TxPowerDBm, c.PreambleSymbols, c.CRC, c.InvertIQ)
}

func configError(problems []string) error {
	msg := problems[0]
	for _, p := range problems[1:] {
		msg += "; " + p
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
