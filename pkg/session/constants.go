// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session implements the point-to-point LoRa transfer session:
// configuration, arming, transfer and validation of fixed-size frames
// between a Sender and a Receiver sharing one radio configuration.
//
// The radio itself is reached through RadioTransport. The session owns the
// transport for its whole lifetime and issues strictly sequential
// operations on it from a single goroutine.
package session

import (
	"fmt"
	"time"
)

// SpreadingFactor is the LoRa spreading factor (chips per symbol = 2^SF).
type SpreadingFactor uint8

const (
	SF5  SpreadingFactor = 5
	SF6  SpreadingFactor = 6
	SF7  SpreadingFactor = 7
	SF8  SpreadingFactor = 8
	SF9  SpreadingFactor = 9
	SF10 SpreadingFactor = 10
	SF11 SpreadingFactor = 11
	SF12 SpreadingFactor = 12
)

// ChipsPerSymbol returns 2^SF.
func (sf SpreadingFactor) ChipsPerSymbol() int64 {
	return 1 << sf
}

// Valid reports whether sf is a LoRa spreading factor.
func (sf SpreadingFactor) Valid() bool {
	return sf >= SF5 && sf <= SF12
}

func (sf SpreadingFactor) String() string {
	return fmt.Sprintf("SF%d", uint8(sf))
}

// Bandwidth is the LoRa channel bandwidth in Hz.
type Bandwidth uint32

const (
	BW7_8kHz   Bandwidth = 7_810
	BW10_4kHz  Bandwidth = 10_420
	BW15_6kHz  Bandwidth = 15_630
	BW20_8kHz  Bandwidth = 20_830
	BW31_25kHz Bandwidth = 31_250
	BW41_7kHz  Bandwidth = 41_670
	BW62_5kHz  Bandwidth = 62_500
	BW125kHz   Bandwidth = 125_000
	BW250kHz   Bandwidth = 250_000
	BW500kHz   Bandwidth = 500_000
)

// Bandwidths lists every supported bandwidth, narrowest first.
var Bandwidths = []Bandwidth{
	BW7_8kHz, BW10_4kHz, BW15_6kHz, BW20_8kHz, BW31_25kHz,
	BW41_7kHz, BW62_5kHz, BW125kHz, BW250kHz, BW500kHz,
}

// Hertz returns the bandwidth in Hz.
func (bw Bandwidth) Hertz() int64 {
	return int64(bw)
}

// Valid reports whether bw is one of Bandwidths.
func (bw Bandwidth) Valid() bool {
	for _, b := range Bandwidths {
		if b == bw {
			return true
		}
	}
	return false
}

func (bw Bandwidth) String() string {
	if bw%1000 == 0 {
		return fmt.Sprintf("%dkHz", bw/1000)
	}
	return fmt.Sprintf("%.2fkHz", float64(bw)/1000)
}

// CodingRate is the forward error correction rate 4/(4+CR).
type CodingRate uint8

const (
	CR4_5 CodingRate = 1
	CR4_6 CodingRate = 2
	CR4_7 CodingRate = 3
	CR4_8 CodingRate = 4
)

// Valid reports whether cr is 4/5..4/8.
func (cr CodingRate) Valid() bool {
	return cr >= CR4_5 && cr <= CR4_8
}

func (cr CodingRate) String() string {
	return fmt.Sprintf("4/%d", 4+uint8(cr))
}

// ParseCodingRate parses "4/5".."4/8".
func ParseCodingRate(s string) (CodingRate, error) {
	var num, den int
	if _, err := fmt.Sscanf(s, "%d/%d", &num, &den); err != nil || num != 4 {
		return 0, fmt.Errorf("invalid coding rate %q (use 4/5..4/8)", s)
	}
	cr := CodingRate(den - 4)
	if !cr.Valid() {
		return 0, fmt.Errorf("invalid coding rate %q (use 4/5..4/8)", s)
	}
	return cr, nil
}

// Firmware defaults. The carrier frequency is region sensitive.
const (
	DefaultFrequencyHz     = 869_525_000
	DefaultSpreadingFactor = SF5
	DefaultBandwidth       = BW250kHz
	DefaultCodingRate      = CR4_6
	DefaultPayloadLen      = 100
	DefaultTxPowerDBm      = 20
	DefaultPreamble        = 4
	DefaultRxTimeout       = 10 * time.Second
	DefaultInterCycleDelay = 500 * time.Millisecond
	DefaultTxTimeout       = 10 * time.Second
	DefaultIndicatorHold   = 100 * time.Millisecond
)

// ldroSymbolThreshold is the symbol duration above which low data rate
// optimisation is mandatory.
const ldroSymbolThreshold = 16 * time.Millisecond
