// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"
)

// ModulationParams is the modulation encoding derived from Config.
type ModulationParams struct {
	SpreadingFactor     SpreadingFactor
	Bandwidth           Bandwidth
	CodingRate          CodingRate
	FrequencyHz         uint32
	LowDataRateOptimize bool
}

// PacketParams is the packet encoding derived from Config. RxTimeout is
// armed by PrepareReceive and bounds the following Receive.
type PacketParams struct {
	PreambleSymbols uint16
	ImplicitHeader  bool
	PayloadLen      uint8
	CRC             bool
	InvertIQ        bool
	RxTimeout       time.Duration
}

// ParamFactory turns session parameters into transport encodings,
// rejecting combinations the transport cannot run.
type ParamFactory interface {
	CreateModulationParams(sf SpreadingFactor, bw Bandwidth, cr CodingRate, freqHz uint32) (ModulationParams, error)
	CreatePacketParams(preamble uint16, implicitHeader bool, payloadLen uint8, crc, invertIQ bool, rxTimeout time.Duration, mp ModulationParams) (PacketParams, error)
}

// StandardParams is the generic LoRa ParamFactory. Transports embed it and
// add their own restrictions.
type StandardParams struct{}

// CreateModulationParams implements ParamFactory.
func (StandardParams) CreateModulationParams(sf SpreadingFactor, bw Bandwidth, cr CodingRate, freqHz uint32) (ModulationParams, error) {
	if !sf.Valid() {
		return ModulationParams{}, fmt.Errorf("spreading factor %d not supported", sf)
	}
	if !bw.Valid() {
		return ModulationParams{}, fmt.Errorf("bandwidth %d Hz not supported", bw)
	}
	if !cr.Valid() {
		return ModulationParams{}, fmt.Errorf("coding rate index %d not supported", cr)
	}
	if freqHz == 0 {
		return ModulationParams{}, fmt.Errorf("frequency must be non-zero")
	}
	mp := ModulationParams{
		SpreadingFactor: sf,
		Bandwidth:       bw,
		CodingRate:      cr,
		FrequencyHz:     freqHz,
	}
	mp.LowDataRateOptimize = mp.SymbolPeriod() >= ldroSymbolThreshold
	return mp, nil
}

// CreatePacketParams implements ParamFactory.
func (StandardParams) CreatePacketParams(preamble uint16, implicitHeader bool, payloadLen uint8, crc, invertIQ bool, rxTimeout time.Duration, mp ModulationParams) (PacketParams, error) {
	if payloadLen == 0 {
		return PacketParams{}, fmt.Errorf("payload length must be at least 1")
	}
	if preamble == 0 {
		return PacketParams{}, fmt.Errorf("preamble must be at least 1 symbol")
	}
	if mp.SpreadingFactor <= SF6 && implicitHeader {
		return PacketParams{}, fmt.Errorf("implicit header not supported at %s", mp.SpreadingFactor)
	}
	return PacketParams{
		PreambleSymbols: preamble,
		ImplicitHeader:  implicitHeader,
		PayloadLen:      payloadLen,
		CRC:             crc,
		InvertIQ:        invertIQ,
		RxTimeout:       rxTimeout,
	}, nil
}

// SymbolPeriod returns the duration of one LoRa symbol.
func (mp ModulationParams) SymbolPeriod() time.Duration {
	if mp.Bandwidth == 0 {
		return 0
	}
	return time.Second * time.Duration(mp.SpreadingFactor.ChipsPerSymbol()) / time.Duration(mp.Bandwidth.Hertz())
}

// TimeOnAir estimates how long a packet of pp.PayloadLen bytes occupies
// the channel.
func (mp ModulationParams) TimeOnAir(pp PacketParams) time.Duration {
	if mp.Bandwidth == 0 {
		return 0
	}
	crc := int64(b2i(pp.CRC))
	ih := int64(b2i(pp.ImplicitHeader))
	ldr := int64(b2i(mp.LowDataRateOptimize))
	cr := int64(mp.CodingRate)
	sf := int64(mp.SpreadingFactor)

	payloadSymbols := 8*int64(pp.PayloadLen) - 4*sf + 28 + 16*crc - 20*ih
	div := 4 * (sf - 2*ldr)
	if payloadSymbols < 0 || div <= 0 {
		payloadSymbols = 0
	} else {
		payloadSymbols = (payloadSymbols + div - 1) / div * (cr + 4)
	}
	payloadSymbols += 8

	// preamble + 4.25 sync symbols, counted in quarter symbols
	quarters := 4*(int64(pp.PreambleSymbols)+payloadSymbols) + 17
	return time.Duration(quarters) * mp.SymbolPeriod() / 4
}

func (mp ModulationParams) String() string {
	return fmt.Sprintf("%.3f MHz %s %s CR%s ldro=%v",
		float64(mp.FrequencyHz)/1e6, mp.SpreadingFactor, mp.Bandwidth, mp.CodingRate, mp.LowDataRateOptimize)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
