// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/loralink/pkg/session"
)

// fakeModem answers AT commands on the far end of a net.Pipe.
type fakeModem struct {
	conn    net.Conn
	respond func(cmd string) []string

	mu       sync.Mutex
	commands []string
}

func (f *fakeModem) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()
		for _, line := range f.respond(cmd) {
			if _, err := io.WriteString(f.conn, line+"\r\n"); err != nil {
				return
			}
		}
	}
}

func (f *fakeModem) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func okAll(string) []string { return []string{"+OK"} }

func newTestModem(t *testing.T, respond func(string) []string) (*Modem, *fakeModem) {
	t.Helper()
	host, dev := net.Pipe()
	f := &fakeModem{conn: dev, respond: respond}
	go f.serve()
	m := New(host, WithCommandTimeout(200*time.Millisecond))
	t.Cleanup(func() {
		m.Close()
		dev.Close()
	})
	return m, f
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.RxTimeout = 100 * time.Millisecond
	cfg.InterCycleDelay = 0
	cfg.IndicatorHold = 0
	return cfg
}

func configured(t *testing.T, m *Modem) (session.ModulationParams, session.PacketParams) {
	t.Helper()
	mp, pp, err := testConfig().DeriveParams(m)
	require.NoError(t, err)
	require.NoError(t, m.ConfigureModulation(context.Background(), mp))
	return mp, pp
}

func rcvLine(addr int, data []byte, rssi, snr int) string {
	h := hex.EncodeToString(data)
	return fmt.Sprintf("+RCV=%d,%d,%s,%d,%d", addr, len(h), h, rssi, snr)
}

// ============================================================================
// Configuration
// ============================================================================

func TestModem_ConfigureModulation(t *testing.T) {
	m, f := newTestModem(t, okAll)
	configured(t, m)

	assert.Equal(t, []string{
		"AT",
		"AT+MODE=0",
		"AT+ADDRESS=0",
		"AT+BAND=869525000",
		"AT+PARAMETER=5,8,2,4",
	}, f.history())
}

func TestModem_ParamRestrictions(t *testing.T) {
	m, _ := newTestModem(t, okAll)

	tests := []struct {
		name   string
		modify func(*session.Config)
	}{
		{"iq inversion", func(c *session.Config) { c.InvertIQ = true }},
		{"payload too long", func(c *session.Config) { c.PayloadLen = MaxPayload + 1 }},
		{"preamble too short", func(c *session.Config) { c.PreambleSymbols = 3 }},
		{"preamble too long", func(c *session.Config) { c.PreambleSymbols = 25 }},
		{"crc disabled", func(c *session.Config) { c.CRC = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, _, err := cfg.DeriveParams(m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, session.ErrInvalidConfig))
		})
	}
}

func TestModem_CommandTimeout(t *testing.T) {
	m, _ := newTestModem(t, func(string) []string { return nil })

	mp, _, err := testConfig().DeriveParams(m)
	require.NoError(t, err)
	err = m.ConfigureModulation(context.Background(), mp)
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
}

func TestModem_ErrorCodes(t *testing.T) {
	tests := []struct {
		code int
		want session.FaultCode
	}{
		{ErrTxOverTime, session.FaultTimeout},
		{ErrRxOverTime, session.FaultTimeout},
		{ErrCRC, session.FaultCRC},
		{ErrTxOverRun, session.FaultUnsupported},
		{ErrUnknownCmd, session.FaultUnsupported},
		{ErrNoAT, session.FaultIO},
		{ErrNotReady, session.FaultBusy},
		{ErrUnknown, session.FaultUnknown},
		{99, session.FaultUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("ERR=%d", tt.code), func(t *testing.T) {
			fault := errorFault("op", fmt.Sprintf("+ERR=%d", tt.code))
			assert.Equal(t, tt.want, fault.Code)
			assert.Equal(t, tt.code, fault.Detail)
		})
	}
}

// ============================================================================
// Transfers
// ============================================================================

func TestModem_Transmit(t *testing.T) {
	m, f := newTestModem(t, okAll)
	mp, pp := configured(t, m)
	ctx := context.Background()

	frame := session.PatternFrame(100)
	require.NoError(t, m.PrepareTransmit(ctx, mp, 20, false))
	require.NoError(t, m.Transmit(ctx, mp, pp, frame, time.Second))

	history := f.history()
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, []string{
		"AT+CRFOP=20",
		"AT+MODE=0",
		"AT+SEND=0,200," + hex.EncodeToString(frame),
	}, history[len(history)-3:])

	// the arm is consumed
	err := m.Transmit(ctx, mp, pp, frame, time.Second)
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))
}

func TestModem_TransmitRejectedPower(t *testing.T) {
	m, _ := newTestModem(t, okAll)
	mp, _ := configured(t, m)

	err := m.PrepareTransmit(context.Background(), mp, MaxPowerDBm+1, false)
	var fault *session.RadioFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, session.FaultUnsupported, fault.Code)
}

func TestModem_TransmitOverTime(t *testing.T) {
	m, _ := newTestModem(t, func(cmd string) []string {
		if strings.HasPrefix(cmd, "AT+SEND") {
			return []string{"+ERR=10"}
		}
		return []string{"+OK"}
	})
	mp, pp := configured(t, m)
	ctx := context.Background()

	require.NoError(t, m.PrepareTransmit(ctx, mp, 14, false))
	err := m.Transmit(ctx, mp, pp, session.PatternFrame(100), time.Second)

	var fault *session.RadioFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, session.FaultTimeout, fault.Code)
	assert.Equal(t, ErrTxOverTime, fault.Detail)
}

func TestModem_Receive(t *testing.T) {
	frame := session.PatternFrame(100)
	m, f := newTestModem(t, okAll)
	mp, pp := configured(t, m)
	ctx := context.Background()

	require.NoError(t, m.PrepareReceive(ctx, mp, pp, false, false))
	go io.WriteString(f.conn, rcvLine(0, frame, -42, 9)+"\r\n")

	out := session.NewFrame(100)
	n, q, err := m.Receive(ctx, pp, out)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, session.LinkQuality{RSSI: -42, SNR: 9}, q)
	assert.Nil(t, session.ValidateFrame(out, n, 100))
}

func TestModem_ReceiveTimeout(t *testing.T) {
	m, _ := newTestModem(t, okAll)
	mp, pp := configured(t, m)
	ctx := context.Background()

	require.NoError(t, m.PrepareReceive(ctx, mp, pp, false, false))
	start := time.Now()
	_, _, err := m.Receive(ctx, pp, session.NewFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
	assert.GreaterOrEqual(t, time.Since(start), pp.RxTimeout)

	_, _, err = m.Receive(ctx, pp, session.NewFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState), "receive needs a fresh arm")
}

func TestModem_ReceiveDuringArmIsDiscarded(t *testing.T) {
	stale := rcvLine(0, session.PatternFrame(100), -40, 10)
	m, _ := newTestModem(t, func(cmd string) []string {
		if cmd == "AT+MODE=0" {
			return []string{stale, "+OK"}
		}
		return []string{"+OK"}
	})
	mp, pp := configured(t, m)
	ctx := context.Background()

	require.NoError(t, m.PrepareReceive(ctx, mp, pp, false, false))
	_, _, err := m.Receive(ctx, pp, session.NewFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
}

func TestModem_ClosedLink(t *testing.T) {
	m, f := newTestModem(t, okAll)
	mp, pp := configured(t, m)
	ctx := context.Background()

	require.NoError(t, m.PrepareReceive(ctx, mp, pp, false, false))
	f.conn.Close()

	_, _, err := m.Receive(ctx, pp, session.NewFrame(100))
	var fault *session.RadioFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, session.FaultIO, fault.Code)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestModem_CloseStopsUndrainedReader(t *testing.T) {
	m, f := newTestModem(t, func(string) []string { return nil })

	go func() {
		for i := 0; i < 2*cap(m.lines); i++ {
			if _, err := fmt.Fprintf(f.conn, "+RCV=0,2,%02X,-50,5\r\n", i); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return len(m.lines) == cap(m.lines) },
		time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	select {
	case <-m.readDone:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after Close")
	}
	assert.NoError(t, m.Close(), "second Close is a no-op")
}

// ============================================================================
// Parsing
// ============================================================================

func TestParseReceive(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		data    []byte
		quality session.LinkQuality
		wantErr bool
	}{
		{"hex payload", "+RCV=7,8,00010203,-99,-5", []byte{0, 1, 2, 3}, session.LinkQuality{RSSI: -99, SNR: -5}, false},
		{"foreign text", "+RCV=5,5,HELLO,-80,3", []byte("HELLO"), session.LinkQuality{RSSI: -80, SNR: 3}, false},
		{"comma in payload", "+RCV=1,3,a,b,-50,2", []byte("a,b"), session.LinkQuality{RSSI: -50, SNR: 2}, false},
		{"not a receive", "+OK", nil, session.LinkQuality{}, true},
		{"truncated", "+RCV=1,4", nil, session.LinkQuality{}, true},
		{"bad rssi", "+RCV=1,2,00,xx,3", nil, session.LinkQuality{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseReceive(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.data, rec.Data)
			assert.Equal(t, tt.quality, rec.Quality)
		})
	}
}

func FuzzParseReceive(f *testing.F) {
	f.Add("+RCV=0,200," + strings.Repeat("00", 100) + ",-40,10")
	f.Add("+RCV=,,,,")
	f.Add("+RCV=65535,0,,-1,-1")

	f.Fuzz(func(t *testing.T, line string) {
		rec, err := ParseReceive(line)
		if err == nil && len(rec.Data) > len(line) {
			t.Fatalf("decoded %d bytes from %d characters", len(rec.Data), len(line))
		}
	})
}

// ============================================================================
// Session over the modem
// ============================================================================

func TestSenderOverModem(t *testing.T) {
	m, f := newTestModem(t, okAll)
	cfg := testConfig()
	cfg.MaxCycles = 2

	require.NoError(t, session.NewSender(cfg, m).Run(context.Background()))

	sends := 0
	for _, c := range f.history() {
		if strings.HasPrefix(c, "AT+SEND=0,200,") {
			sends++
		}
	}
	assert.Equal(t, 2, sends)
}
