// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wsbridge carries RadioTransport operations over a websocket, so
// a session on one host can drive a radio attached to another.
//
// Every operation is one binary message holding a CBOR array
// [msg_type, payload_map] answered by exactly one MsgResult carrying the
// same sequence number.
package wsbridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/loralink/pkg/session"
)

// MsgType identifies a bridge message.
type MsgType uint8

const (
	MsgConfigure        MsgType = 0x01
	MsgPrepareTransmit  MsgType = 0x02
	MsgTransmit         MsgType = 0x03
	MsgPrepareReceive   MsgType = 0x04
	MsgReceive          MsgType = 0x05
	MsgCreateModulation MsgType = 0x06
	MsgCreatePacket     MsgType = 0x07
	MsgResult           MsgType = 0x80
)

func (t MsgType) String() string {
	switch t {
	case MsgConfigure:
		return "CONFIGURE"
	case MsgPrepareTransmit:
		return "PREPARE_TX"
	case MsgTransmit:
		return "TRANSMIT"
	case MsgPrepareReceive:
		return "PREPARE_RX"
	case MsgReceive:
		return "RECEIVE"
	case MsgCreateModulation:
		return "CREATE_MODULATION"
	case MsgCreatePacket:
		return "CREATE_PACKET"
	case MsgResult:
		return "RESULT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Result status values.
const (
	StatusOK       uint8 = 0
	StatusFault    uint8 = 1
	StatusRejected uint8 = 2
)

// MaxMessageSize bounds a decoded message.
const MaxMessageSize = 1024

// Message is the payload map shared by requests and results. Keys are
// small integers to keep frames compact.
type Message struct {
	Seq uint32 `cbor:"0,keyasint"`

	// Modulation
	SpreadingFactor     uint8  `cbor:"1,keyasint,omitempty"`
	Bandwidth           uint32 `cbor:"2,keyasint,omitempty"`
	CodingRate          uint8  `cbor:"3,keyasint,omitempty"`
	FrequencyHz         uint32 `cbor:"4,keyasint,omitempty"`
	LowDataRateOptimize bool   `cbor:"5,keyasint,omitempty"`

	// Packet
	Preamble       uint16 `cbor:"6,keyasint,omitempty"`
	ImplicitHeader bool   `cbor:"7,keyasint,omitempty"`
	PayloadLen     uint8  `cbor:"8,keyasint,omitempty"`
	CRC            bool   `cbor:"9,keyasint,omitempty"`
	InvertIQ       bool   `cbor:"10,keyasint,omitempty"`
	RxTimeoutMs    uint32 `cbor:"11,keyasint,omitempty"`

	// Arm / transfer arguments
	PowerDBm   int8   `cbor:"20,keyasint,omitempty"`
	Boosted    bool   `cbor:"21,keyasint,omitempty"`
	RxBoost    bool   `cbor:"22,keyasint,omitempty"`
	Continuous bool   `cbor:"23,keyasint,omitempty"`
	Frame      []byte `cbor:"24,keyasint,omitempty"`
	TimeoutMs  uint32 `cbor:"25,keyasint,omitempty"`

	// Result
	Status    uint8  `cbor:"30,keyasint,omitempty"`
	FaultCode uint8  `cbor:"31,keyasint,omitempty"`
	Detail    int32  `cbor:"32,keyasint,omitempty"`
	Op        string `cbor:"33,keyasint,omitempty"`
	Error     string `cbor:"34,keyasint,omitempty"`
	Received  int32  `cbor:"35,keyasint,omitempty"`
	RSSI      int16  `cbor:"36,keyasint,omitempty"`
	SNR       int16  `cbor:"37,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{MaxArrayElements: 16, MaxMapPairs: 64}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Encode builds the wire form of one message.
func Encode(t MsgType, m *Message) ([]byte, error) {
	data, err := encMode.Marshal([]interface{}{uint64(t), m})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	return data, nil
}

// Decode parses the wire form: [msg_type, payload_map].
func Decode(data []byte) (MsgType, *Message, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}
	if len(data) > MaxMessageSize {
		return 0, nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	var msg []cbor.RawMessage
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var t uint64
	if err := decMode.Unmarshal(msg[0], &t); err != nil {
		return 0, nil, fmt.Errorf("expected uint for message type: %w", err)
	}
	if t > 255 {
		return 0, nil, fmt.Errorf("message type out of range: %d", t)
	}

	m := &Message{}
	if err := decMode.Unmarshal(msg[1], m); err != nil {
		return 0, nil, fmt.Errorf("invalid payload map: %w", err)
	}
	return MsgType(t), m, nil
}

func (m *Message) setModulation(mp session.ModulationParams) {
	m.SpreadingFactor = uint8(mp.SpreadingFactor)
	m.Bandwidth = uint32(mp.Bandwidth)
	m.CodingRate = uint8(mp.CodingRate)
	m.FrequencyHz = mp.FrequencyHz
	m.LowDataRateOptimize = mp.LowDataRateOptimize
}

func (m *Message) modulation() session.ModulationParams {
	return session.ModulationParams{
		SpreadingFactor:     session.SpreadingFactor(m.SpreadingFactor),
		Bandwidth:           session.Bandwidth(m.Bandwidth),
		CodingRate:          session.CodingRate(m.CodingRate),
		FrequencyHz:         m.FrequencyHz,
		LowDataRateOptimize: m.LowDataRateOptimize,
	}
}

func (m *Message) setPacket(pp session.PacketParams) {
	m.Preamble = pp.PreambleSymbols
	m.ImplicitHeader = pp.ImplicitHeader
	m.PayloadLen = pp.PayloadLen
	m.CRC = pp.CRC
	m.InvertIQ = pp.InvertIQ
	m.RxTimeoutMs = durationMs(pp.RxTimeout)
}

func (m *Message) packet() session.PacketParams {
	return session.PacketParams{
		PreambleSymbols: m.Preamble,
		ImplicitHeader:  m.ImplicitHeader,
		PayloadLen:      m.PayloadLen,
		CRC:             m.CRC,
		InvertIQ:        m.InvertIQ,
		RxTimeout:       time.Duration(m.RxTimeoutMs) * time.Millisecond,
	}
}

// setError fills the result fields from err.
func (m *Message) setError(err error) {
	if err == nil {
		m.Status = StatusOK
		return
	}
	var f *session.RadioFault
	if errors.As(err, &f) {
		m.Status = StatusFault
		m.FaultCode = uint8(f.Code)
		m.Detail = int32(f.Detail)
		m.Op = f.Op
		if f.Err != nil {
			m.Error = f.Err.Error()
		}
		return
	}
	m.Status = StatusRejected
	m.Error = err.Error()
}

// err rebuilds the error a result carries.
func (m *Message) err() error {
	switch m.Status {
	case StatusOK:
		return nil
	case StatusFault:
		var cause error
		if m.Error != "" {
			cause = errors.New(m.Error)
		}
		return session.NewFault(m.Op, session.FaultCode(m.FaultCode), int(m.Detail), cause)
	default:
		if m.Error == "" {
			return fmt.Errorf("rejected by bridge")
		}
		return errors.New(m.Error)
	}
}

func durationMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Millisecond)
}
