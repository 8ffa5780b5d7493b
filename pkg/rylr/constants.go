// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rylr drives REYAX RYLR-series LoRa modems (RYLR896, RYLR998)
// through their AT command interface on a serial port.
//
// The modem handles framing and CRC itself and only carries printable
// payloads, so frames are hex encoded on the wire.
package rylr

import (
	"time"

	"github.com/Thermoquad/loralink/pkg/session"
)

// DefaultBaudRate is the factory UART speed.
const DefaultBaudRate = 115200

// Modem limits.
const (
	MinPreamble = 4
	MaxPreamble = 24
	MinPowerDBm = 0
	MaxPowerDBm = 22

	// MaxPayload is the largest frame that fits the 240 character AT+SEND
	// limit once hex encoded.
	MaxPayload = 120
)

// DefaultCommandTimeout bounds the wait for +OK after a configuration
// command.
const DefaultCommandTimeout = 2 * time.Second

// Result codes returned as +ERR=<code>.
const (
	ErrNoEnter     = 1  // missing "\r\n" after command
	ErrNoAT        = 2  // head of command is not AT
	ErrNoEquals    = 3  // missing "=" in AT command
	ErrUnknownCmd  = 4  // unknown command
	ErrTxOverTime  = 10 // transmit over time
	ErrRxOverTime  = 11 // receive over time
	ErrCRC         = 12 // CRC error
	ErrTxOverRun   = 13 // transmit over run (over 240 bytes)
	ErrUnknown     = 15 // unknown error
	ErrParameter   = 17 // invalid parameter combination (RYLR998)
	ErrFrequency   = 18 // frequency out of range (RYLR998)
	ErrNetworkID   = 19 // invalid network ID (RYLR998)
	ErrPowerRange  = 20 // RF output power out of range (RYLR998)
	ErrNotReady    = 21 // module busy (RYLR998)
	ErrModeChange  = 22 // mode change rejected (RYLR998)
	ErrInvalidAddr = 23 // invalid address (RYLR998)
)

// faultCode maps a +ERR code onto the transport independent taxonomy.
func faultCode(code int) session.FaultCode {
	switch code {
	case ErrTxOverTime, ErrRxOverTime:
		return session.FaultTimeout
	case ErrCRC:
		return session.FaultCRC
	case ErrTxOverRun, ErrUnknownCmd, ErrParameter, ErrFrequency, ErrNetworkID, ErrPowerRange, ErrInvalidAddr:
		return session.FaultUnsupported
	case ErrNoEnter, ErrNoAT, ErrNoEquals:
		return session.FaultIO
	case ErrNotReady, ErrModeChange:
		return session.FaultBusy
	default:
		return session.FaultUnknown
	}
}

// bandwidthIndex is the AT+PARAMETER bandwidth argument.
var bandwidthIndex = map[session.Bandwidth]int{
	session.BW7_8kHz:   0,
	session.BW10_4kHz:  1,
	session.BW15_6kHz:  2,
	session.BW20_8kHz:  3,
	session.BW31_25kHz: 4,
	session.BW41_7kHz:  5,
	session.BW62_5kHz:  6,
	session.BW125kHz:   7,
	session.BW250kHz:   8,
	session.BW500kHz:   9,
}

// modeTransceiver is the AT+MODE value for transmit and receive.
const modeTransceiver = 0
