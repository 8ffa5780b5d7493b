// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"fmt"
	"time"

	"github.com/Thermoquad/loralink/pkg/session"
)

// CreateModulationParams implements session.ParamFactory.
func (m *Modem) CreateModulationParams(sf session.SpreadingFactor, bw session.Bandwidth, cr session.CodingRate, freqHz uint32) (session.ModulationParams, error) {
	if _, ok := bandwidthIndex[bw]; !ok {
		return session.ModulationParams{}, fmt.Errorf("bandwidth %s not supported by the modem", bw)
	}
	return session.StandardParams{}.CreateModulationParams(sf, bw, cr, freqHz)
}

// CreatePacketParams implements session.ParamFactory.
func (m *Modem) CreatePacketParams(preamble uint16, implicitHeader bool, payloadLen uint8, crc, invertIQ bool, rxTimeout time.Duration, mp session.ModulationParams) (session.PacketParams, error) {
	if preamble < MinPreamble || preamble > MaxPreamble {
		return session.PacketParams{}, fmt.Errorf("preamble %d out of range %d..%d", preamble, MinPreamble, MaxPreamble)
	}
	if payloadLen > MaxPayload {
		return session.PacketParams{}, fmt.Errorf("payload length %d exceeds %d bytes", payloadLen, MaxPayload)
	}
	if implicitHeader {
		return session.PacketParams{}, fmt.Errorf("implicit header not supported by the modem")
	}
	if invertIQ {
		return session.PacketParams{}, fmt.Errorf("IQ inversion not supported by the modem")
	}
	if !crc {
		return session.PacketParams{}, fmt.Errorf("the modem always sends a CRC")
	}
	pp, err := session.StandardParams{}.CreatePacketParams(preamble, implicitHeader, payloadLen, crc, invertIQ, rxTimeout, mp)
	if err != nil {
		return pp, err
	}

	m.mu.Lock()
	m.preamble = preamble
	m.mu.Unlock()
	return pp, nil
}

func parameterCommand(mp session.ModulationParams, preamble uint16) string {
	return fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d",
		mp.SpreadingFactor, bandwidthIndex[mp.Bandwidth], mp.CodingRate, preamble)
}
