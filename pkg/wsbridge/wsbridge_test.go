// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/loralink/pkg/loopback"
	"github.com/Thermoquad/loralink/pkg/session"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// hub serves a fresh loopback radio to every client.
func hub(m *loopback.Medium) Provider {
	return func() (session.RadioTransport, func(), error) {
		r := m.NewRadio("client")
		return r, func() { r.Close() }, nil
	}
}

func dial(t *testing.T, srv *httptest.Server, opts DialOptions) *Client {
	t.Helper()
	c, err := Dial(context.Background(), wsURL(srv), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.RxTimeout = time.Second
	cfg.InterCycleDelay = 20 * time.Millisecond
	cfg.IndicatorHold = 0
	return cfg
}

// ============================================================================
// Codec
// ============================================================================

func TestCodec_RoundTripKeepsParams(t *testing.T) {
	mp := session.ModulationParams{
		SpreadingFactor: session.SF12, Bandwidth: session.BW125kHz,
		CodingRate: session.CR4_8, FrequencyHz: 868_100_000, LowDataRateOptimize: true,
	}
	pp := session.PacketParams{PreambleSymbols: 8, PayloadLen: 100, CRC: true, RxTimeout: 1500 * time.Millisecond}

	req := &Message{Seq: 7, Frame: session.PatternFrame(100)}
	req.setModulation(mp)
	req.setPacket(pp)

	data, err := Encode(MsgTransmit, req)
	require.NoError(t, err)

	typ, got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, MsgTransmit, typ)
	assert.Equal(t, uint32(7), got.Seq)
	assert.Equal(t, mp, got.modulation())
	assert.Equal(t, pp, got.packet())
	assert.Equal(t, []byte(session.PatternFrame(100)), got.Frame)
}

func TestCodec_ResultCarriesFault(t *testing.T) {
	resp := &Message{}
	resp.setError(session.NewFault("transmit", session.FaultIO, 5, errors.New("spi")))

	data, err := Encode(MsgResult, resp)
	require.NoError(t, err)
	_, got, err := Decode(data)
	require.NoError(t, err)

	var fault *session.RadioFault
	require.ErrorAs(t, got.err(), &fault)
	assert.Equal(t, session.FaultIO, fault.Code)
	assert.Equal(t, 5, fault.Detail)
	assert.Equal(t, "transmit", fault.Op)
	assert.Contains(t, fault.Error(), "spi")
}

func TestCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not cbor", []byte{0xFF, 0xFF}},
		{"not array", []byte{0x01}},
		{"one element", []byte{0x81, 0x01}},
		{"type too large", []byte{0x82, 0x19, 0x01, 0x00, 0xA0}},
		{"payload not map", []byte{0x82, 0x01, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func FuzzDecode(f *testing.F) {
	seed, _ := Encode(MsgReceive, &Message{Seq: 1, RxTimeoutMs: 1000})
	f.Add(seed)
	f.Add([]byte{0x82, 0x01, 0xA0})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		typ, m, err := Decode(data)
		if err != nil {
			return
		}
		// anything decodable must re-encode
		if _, err := Encode(typ, m); err != nil && len(m.Frame) < MaxMessageSize/2 {
			t.Fatalf("re-encode failed: %v", err)
		}
	})
}

// ============================================================================
// Client / Server
// ============================================================================

func TestBridge_SessionsThroughHub(t *testing.T) {
	medium := loopback.NewMedium(loopback.WithQuality(session.LinkQuality{RSSI: -55, SNR: 7}, 0))
	srv := httptest.NewServer(NewServer(hub(medium)))
	defer srv.Close()

	txClient := dial(t, srv, DialOptions{})
	rxClient := dial(t, srv, DialOptions{})

	rxCfg := testConfig()
	rxCfg.MaxCycles = 2

	var outcomes []session.Outcome
	sink := session.SinkFunc(func(e session.Event) {
		if e.Kind == session.EventOutcome {
			outcomes = append(outcomes, *e.Outcome)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rxDone := make(chan error, 1)
	go func() {
		rxDone <- session.NewReceiver(rxCfg, rxClient, session.WithSink(sink)).Run(ctx)
	}()

	txCtx, stopTx := context.WithCancel(ctx)
	txDone := make(chan error, 1)
	go func() {
		txDone <- session.NewSender(testConfig(), txClient).Run(txCtx)
	}()

	require.NoError(t, <-rxDone)
	stopTx()
	assert.ErrorIs(t, <-txDone, context.Canceled)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, session.OutcomeSuccess, o.Kind)
		assert.Equal(t, session.LinkQuality{RSSI: -55, SNR: 7}, *o.Quality)
		assert.Equal(t, 100, o.Received)
	}
}

func TestBridge_RemoteFaultsKeepTheirCode(t *testing.T) {
	medium := loopback.NewMedium()
	srv := httptest.NewServer(NewServer(hub(medium)))
	defer srv.Close()

	c := dial(t, srv, DialOptions{})
	ctx := context.Background()
	mp, pp, err := testConfig().DeriveParams(c)
	require.NoError(t, err)
	require.NoError(t, c.ConfigureModulation(ctx, mp))

	// transmit without an arm
	err = c.Transmit(ctx, mp, pp, session.PatternFrame(100), time.Second)
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))

	// nobody transmits: the remote receive times out
	pp.RxTimeout = 50 * time.Millisecond
	require.NoError(t, c.PrepareReceive(ctx, mp, pp, false, false))
	_, _, err = c.Receive(ctx, pp, session.NewFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
}

func TestBridge_ParamRejectionIsInvalidConfig(t *testing.T) {
	medium := loopback.NewMedium()
	srv := httptest.NewServer(NewServer(hub(medium)))
	defer srv.Close()

	c := dial(t, srv, DialOptions{})
	cfg := testConfig()
	cfg.SpreadingFactor = session.SF6
	// implicit header is never requested by sessions; ask directly
	mp, err := c.CreateModulationParams(cfg.SpreadingFactor, cfg.Bandwidth, cfg.CodingRate, cfg.FrequencyHz)
	require.NoError(t, err)
	_, err = c.CreatePacketParams(8, true, 10, true, false, time.Second, mp)
	assert.Error(t, err)

	_, err = c.CreateModulationParams(session.SF5, 100_000, session.CR4_5, cfg.FrequencyHz)
	assert.Error(t, err)
}

func TestBridge_BasicAuth(t *testing.T) {
	medium := loopback.NewMedium()
	srv := httptest.NewServer(NewServer(hub(medium), WithBasicAuth("lora", "secret")))
	defer srv.Close()

	_, err := Dial(context.Background(), wsURL(srv), DialOptions{Username: "lora", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	c := dial(t, srv, DialOptions{Username: "lora", Password: "secret"})
	_, err = c.CreateModulationParams(session.SF7, session.BW125kHz, session.CR4_5, 868_100_000)
	assert.NoError(t, err)
}

func TestBridge_ExclusiveRadio(t *testing.T) {
	medium := loopback.NewMedium()
	srv := httptest.NewServer(NewServer(Exclusive(medium.NewRadio("shared"))))
	defer srv.Close()

	first := dial(t, srv, DialOptions{})
	_, err := first.CreateModulationParams(session.SF7, session.BW125kHz, session.CR4_5, 868_100_000)
	require.NoError(t, err)

	_, err = Dial(context.Background(), wsURL(srv), DialOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestDial_RejectsScheme(t *testing.T) {
	_, err := Dial(context.Background(), "http://localhost:1", DialOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestClient_ClosedConnection(t *testing.T) {
	medium := loopback.NewMedium()
	srv := httptest.NewServer(NewServer(hub(medium)))
	defer srv.Close()

	c := dial(t, srv, DialOptions{})
	require.NoError(t, c.Close())

	err := c.ConfigureModulation(context.Background(), session.ModulationParams{})
	var fault *session.RadioFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, session.FaultIO, fault.Code)
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}
