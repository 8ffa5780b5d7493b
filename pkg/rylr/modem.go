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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/Thermoquad/loralink/pkg/session"
)

// ErrClosed is returned once the serial link is gone.
var ErrClosed = errors.New("modem connection closed")

// Option configures a Modem.
type Option func(*Modem)

// WithAddress sets the modem's AT+ADDRESS. Frames are always sent to the
// broadcast address 0.
func WithAddress(addr uint16) Option {
	return func(m *Modem) { m.address = addr }
}

// WithCommandTimeout sets how long to wait for +OK.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Modem) { m.cmdTimeout = d }
}

// Modem is a session.RadioTransport over an AT command modem.
type Modem struct {
	port       io.ReadWriteCloser
	address    uint16
	cmdTimeout time.Duration

	lines     chan string
	readErr   error
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	preamble uint16
	// configured preamble, compared against each transfer's PacketParams
	sentPreamble uint16
	configured   bool
	txArmed      bool
	rxArmed      bool
	pending      []string
}

// Open opens the serial port and wraps it in a Modem.
func Open(portName string, baudRate int, opts ...Option) (*Modem, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return New(port, opts...), nil
}

// New wraps an already open link. The Modem owns port from now on.
func New(port io.ReadWriteCloser, opts ...Option) *Modem {
	m := &Modem{
		port:       port,
		cmdTimeout: DefaultCommandTimeout,
		lines:      make(chan string, 32),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		preamble:   session.DefaultPreamble,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.readLoop()
	return m
}

func (m *Modem) readLoop() {
	defer close(m.readDone)
	defer close(m.lines)

	scanner := bufio.NewScanner(m.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		glog.V(3).Infof("rylr <- %s", line)
		select {
		case m.lines <- line:
		case <-m.done:
			m.readErr = ErrClosed
			return
		}
	}
	m.readErr = scanner.Err()
	if m.readErr == nil {
		m.readErr = io.EOF
	}
}

// Close closes the serial link and stops the reader, even when nobody is
// consuming its lines.
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.port.Close()
	})
	return err
}

// ConfigureModulation implements session.RadioTransport.
func (m *Modem) ConfigureModulation(ctx context.Context, mp session.ModulationParams) error {
	const op = "configure_modulation"
	m.mu.Lock()
	defer m.mu.Unlock()

	cmds := []string{
		"AT",
		fmt.Sprintf("AT+MODE=%d", modeTransceiver),
		fmt.Sprintf("AT+ADDRESS=%d", m.address),
		fmt.Sprintf("AT+BAND=%d", mp.FrequencyHz),
		parameterCommand(mp, m.preamble),
	}
	for _, c := range cmds {
		if err := m.command(ctx, op, c, m.cmdTimeout); err != nil {
			return err
		}
	}
	m.sentPreamble = m.preamble
	m.configured = true
	return nil
}

// PrepareTransmit implements session.RadioTransport.
func (m *Modem) PrepareTransmit(ctx context.Context, mp session.ModulationParams, powerDBm int8, boosted bool) error {
	const op = "prepare_transmit"
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured {
		return session.NewFault(op, session.FaultIllegalState, 0, nil)
	}
	if powerDBm < MinPowerDBm || powerDBm > MaxPowerDBm {
		return session.NewFault(op, session.FaultUnsupported, 0,
			fmt.Errorf("power %d dBm out of range %d..%d", powerDBm, MinPowerDBm, MaxPowerDBm))
	}
	m.rxArmed = false
	if err := m.command(ctx, op, fmt.Sprintf("AT+CRFOP=%d", powerDBm), m.cmdTimeout); err != nil {
		return err
	}
	if err := m.command(ctx, op, fmt.Sprintf("AT+MODE=%d", modeTransceiver), m.cmdTimeout); err != nil {
		return err
	}
	m.txArmed = true
	return nil
}

// Transmit implements session.RadioTransport. The modem answers +OK once
// the packet has left the antenna.
func (m *Modem) Transmit(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, frame session.Frame, timeout time.Duration) error {
	const op = "transmit"
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.txArmed {
		return session.NewFault(op, session.FaultIllegalState, 0, nil)
	}
	m.txArmed = false

	if len(frame) > MaxPayload {
		return session.NewFault(op, session.FaultUnsupported, ErrTxOverRun, nil)
	}
	if err := m.syncPreamble(ctx, op, mp, pp); err != nil {
		return err
	}

	data := hex.EncodeToString(frame)
	return m.command(ctx, op, fmt.Sprintf("AT+SEND=0,%d,%s", len(data), data), timeout)
}

// PrepareReceive implements session.RadioTransport. Packets the modem
// reported before this call are discarded.
func (m *Modem) PrepareReceive(ctx context.Context, mp session.ModulationParams, pp session.PacketParams, rxBoost, continuous bool) error {
	const op = "prepare_receive"
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured {
		return session.NewFault(op, session.FaultIllegalState, 0, nil)
	}
	m.txArmed = false
	if err := m.syncPreamble(ctx, op, mp, pp); err != nil {
		return err
	}
	if err := m.command(ctx, op, fmt.Sprintf("AT+MODE=%d", modeTransceiver), m.cmdTimeout); err != nil {
		return err
	}
	m.pending = nil
	m.rxArmed = true
	return nil
}

// Receive implements session.RadioTransport. The modem has no receive
// timeout of its own, so pp.RxTimeout is enforced here.
func (m *Modem) Receive(ctx context.Context, pp session.PacketParams, out session.Frame) (int, session.LinkQuality, error) {
	const op = "receive"
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.rxArmed {
		return 0, session.LinkQuality{}, session.NewFault(op, session.FaultIllegalState, 0, nil)
	}
	m.rxArmed = false

	if len(m.pending) > 0 {
		line := m.pending[0]
		m.pending = m.pending[1:]
		return decodeReceive(op, line, out)
	}

	timer := time.NewTimer(pp.RxTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, session.LinkQuality{}, session.NewFault(op, session.FaultIO, 0, ctx.Err())
		case <-timer.C:
			return 0, session.LinkQuality{}, session.NewFault(op, session.FaultTimeout, 0, nil)
		case line, ok := <-m.lines:
			if !ok {
				return 0, session.LinkQuality{}, session.NewFault(op, session.FaultIO, 0, m.closedErr())
			}
			switch {
			case strings.HasPrefix(line, "+RCV="):
				return decodeReceive(op, line, out)
			case strings.HasPrefix(line, "+ERR="):
				return 0, session.LinkQuality{}, errorFault(op, line)
			}
		}
	}
}

// syncPreamble re-issues AT+PARAMETER when pp asks for another preamble
// than the one configured. Must be called with m.mu held.
func (m *Modem) syncPreamble(ctx context.Context, op string, mp session.ModulationParams, pp session.PacketParams) error {
	if pp.PreambleSymbols == 0 || pp.PreambleSymbols == m.sentPreamble {
		return nil
	}
	if err := m.command(ctx, op, parameterCommand(mp, pp.PreambleSymbols), m.cmdTimeout); err != nil {
		return err
	}
	m.sentPreamble = pp.PreambleSymbols
	return nil
}

// command writes one AT command and waits for +OK or +ERR. Packets
// reported meanwhile are queued for Receive. Must be called with m.mu held.
func (m *Modem) command(ctx context.Context, op, cmd string, timeout time.Duration) error {
	glog.V(3).Infof("rylr -> %s", cmd)
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return session.NewFault(op, session.FaultIO, 0, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return session.NewFault(op, session.FaultIO, 0, ctx.Err())
		case <-timer.C:
			return session.NewFault(op, session.FaultTimeout, 0, fmt.Errorf("no response to %s", commandName(cmd)))
		case line, ok := <-m.lines:
			if !ok {
				return session.NewFault(op, session.FaultIO, 0, m.closedErr())
			}
			switch {
			case line == "+OK":
				return nil
			case strings.HasPrefix(line, "+ERR="):
				return errorFault(op, line)
			case strings.HasPrefix(line, "+RCV="):
				m.pending = append(m.pending, line)
			default:
				// +READY after reset and echoed values are ignored
			}
		}
	}
}

func (m *Modem) closedErr() error {
	if m.readErr != nil && !errors.Is(m.readErr, io.EOF) && !errors.Is(m.readErr, ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, m.readErr)
	}
	return ErrClosed
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, '='); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

func errorFault(op, line string) *session.RadioFault {
	code, err := strconv.Atoi(strings.TrimPrefix(line, "+ERR="))
	if err != nil {
		return session.NewFault(op, session.FaultUnknown, 0, fmt.Errorf("unparseable response %q", line))
	}
	return session.NewFault(op, faultCode(code), code, nil)
}

// Reception is one parsed +RCV line.
type Reception struct {
	Address uint16
	Data    []byte
	Quality session.LinkQuality
}

// ParseReceive parses "+RCV=<address>,<length>,<data>,<rssi>,<snr>". Data
// that is not valid hex is returned as sent; it can only be a foreign
// packet and will fail validation.
func ParseReceive(line string) (Reception, error) {
	body, ok := strings.CutPrefix(line, "+RCV=")
	if !ok {
		return Reception{}, fmt.Errorf("not a receive report: %q", line)
	}

	head := strings.SplitN(body, ",", 3)
	if len(head) != 3 {
		return Reception{}, fmt.Errorf("truncated receive report: %q", line)
	}
	addr, err := strconv.ParseUint(head[0], 10, 16)
	if err != nil {
		return Reception{}, fmt.Errorf("invalid address in %q", line)
	}
	length, err := strconv.Atoi(head[1])
	if err != nil || length < 0 {
		return Reception{}, fmt.Errorf("invalid length in %q", line)
	}

	// payload may itself contain commas, so rssi and snr are taken from the end
	rest := head[2]
	snrIdx := strings.LastIndexByte(rest, ',')
	if snrIdx < 0 {
		return Reception{}, fmt.Errorf("missing snr in %q", line)
	}
	rssiIdx := strings.LastIndexByte(rest[:snrIdx], ',')
	if rssiIdx < 0 {
		return Reception{}, fmt.Errorf("missing rssi in %q", line)
	}
	rssi, err := strconv.ParseInt(rest[rssiIdx+1:snrIdx], 10, 16)
	if err != nil {
		return Reception{}, fmt.Errorf("invalid rssi in %q", line)
	}
	snr, err := strconv.ParseInt(rest[snrIdx+1:], 10, 16)
	if err != nil {
		return Reception{}, fmt.Errorf("invalid snr in %q", line)
	}

	payload := rest[:rssiIdx]
	if len(payload) > length {
		payload = payload[:length]
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		data = []byte(payload)
	}

	return Reception{
		Address: uint16(addr),
		Data:    data,
		Quality: session.LinkQuality{RSSI: int16(rssi), SNR: int16(snr)},
	}, nil
}

func decodeReceive(op, line string, out session.Frame) (int, session.LinkQuality, error) {
	rec, err := ParseReceive(line)
	if err != nil {
		return 0, session.LinkQuality{}, session.NewFault(op, session.FaultIO, 0, err)
	}
	copy(out, rec.Data)
	return len(rec.Data), rec.Quality, nil
}

var _ session.RadioTransport = (*Modem)(nil)
