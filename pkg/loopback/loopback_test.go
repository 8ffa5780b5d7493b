// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package loopback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/loralink/pkg/session"
)

func params(t *testing.T, cfg session.Config, r *Radio) (session.ModulationParams, session.PacketParams) {
	t.Helper()
	mp, pp, err := cfg.DeriveParams(r)
	require.NoError(t, err)
	require.NoError(t, r.ConfigureModulation(context.Background(), mp))
	return mp, pp
}

func shortConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.RxTimeout = 50 * time.Millisecond
	cfg.IndicatorHold = 0
	return cfg
}

// sendWhileListening arms rx, transmits frame from tx and receives it.
func sendWhileListening(t *testing.T, tx, rx *Radio, txCfg, rxCfg session.Config, frame session.Frame) (int, session.LinkQuality, session.Frame, error) {
	t.Helper()
	ctx := context.Background()
	txMP, txPP := params(t, txCfg, tx)
	rxMP, rxPP := params(t, rxCfg, rx)

	require.NoError(t, rx.PrepareReceive(ctx, rxMP, rxPP, false, false))
	require.NoError(t, tx.PrepareTransmit(ctx, txMP, 20, false))
	require.NoError(t, tx.Transmit(ctx, txMP, txPP, frame, time.Second))

	out := session.NewFrame(rxCfg.PayloadLen)
	n, q, err := rx.Receive(ctx, rxPP, out)
	return n, q, out, err
}

func TestRadio_DeliversToListeningRadio(t *testing.T) {
	m := NewMedium(WithQuality(session.LinkQuality{RSSI: -70, SNR: 5}, 0))
	tx, rx := m.NewRadio("tx"), m.NewRadio("rx")
	cfg := shortConfig()

	n, q, out, err := sendWhileListening(t, tx, rx, cfg, cfg, session.PatternFrame(100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, session.LinkQuality{RSSI: -70, SNR: 5}, q)
	assert.Nil(t, session.ValidateFrame(out, n, 100))
	assert.Len(t, tx.Sent(), 1)
	assert.Equal(t, uint64(1), m.Stats().Delivered)
}

func TestRadio_MismatchedModulationTimesOut(t *testing.T) {
	m := NewMedium()
	tx, rx := m.NewRadio("tx"), m.NewRadio("rx")
	txCfg, rxCfg := shortConfig(), shortConfig()
	rxCfg.SpreadingFactor = session.SF7

	_, _, _, err := sendWhileListening(t, tx, rx, txCfg, rxCfg, session.PatternFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
	assert.Equal(t, uint64(1), m.Stats().Missed)
}

func TestRadio_UnarmedTransfersAreIllegal(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("r")
	ctx := context.Background()

	// not configured yet
	err := r.PrepareTransmit(ctx, session.ModulationParams{}, 20, false)
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))

	mp, pp := params(t, shortConfig(), r)
	err = r.Transmit(ctx, mp, pp, session.PatternFrame(10), time.Second)
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))

	_, _, err = r.Receive(ctx, pp, session.NewFrame(10))
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))

	// an arm is consumed by exactly one transfer
	require.NoError(t, r.PrepareReceive(ctx, mp, pp, false, false))
	_, _, err = r.Receive(ctx, pp, session.NewFrame(10))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
	_, _, err = r.Receive(ctx, pp, session.NewFrame(10))
	assert.True(t, errors.Is(err, session.ErrRadioIllegalState))
}

func TestRadio_NotListeningMissesPacket(t *testing.T) {
	m := NewMedium()
	tx, rx := m.NewRadio("tx"), m.NewRadio("rx")
	ctx := context.Background()
	cfg := shortConfig()
	mp, pp := params(t, cfg, tx)
	params(t, cfg, rx)

	require.NoError(t, tx.PrepareTransmit(ctx, mp, 20, false))
	require.NoError(t, tx.Transmit(ctx, mp, pp, session.PatternFrame(100), time.Second))

	// arming afterwards must not surface the earlier packet
	require.NoError(t, rx.PrepareReceive(ctx, mp, pp, false, false))
	_, _, err := rx.Receive(ctx, pp, session.NewFrame(100))
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
}

func TestRadio_LossAndCorruption(t *testing.T) {
	cfg := shortConfig()

	t.Run("loss", func(t *testing.T) {
		m := NewMedium(WithLoss(1), WithSeed(1))
		_, _, _, err := sendWhileListening(t, m.NewRadio("tx"), m.NewRadio("rx"), cfg, cfg, session.PatternFrame(100))
		assert.True(t, errors.Is(err, session.ErrRadioTimeout))
		assert.Equal(t, uint64(1), m.Stats().Dropped)
	})

	t.Run("corruption", func(t *testing.T) {
		m := NewMedium(WithCorruption(1), WithSeed(1))
		n, _, out, err := sendWhileListening(t, m.NewRadio("tx"), m.NewRadio("rx"), cfg, cfg, session.PatternFrame(100))
		require.NoError(t, err)
		v := session.ValidateFrame(out, n, 100)
		require.NotNil(t, v)
		assert.Equal(t, session.ReasonContentMismatch, v.Reason)
		assert.Equal(t, uint64(1), m.Stats().Corrupted)
	})
}

func TestRadio_AirtimeExceedingTimeout(t *testing.T) {
	m := NewMedium(WithAirtime(true))
	r := m.NewRadio("tx")
	ctx := context.Background()
	mp, pp := params(t, shortConfig(), r)

	require.NoError(t, r.PrepareTransmit(ctx, mp, 20, false))
	err := r.Transmit(ctx, mp, pp, session.PatternFrame(100), time.Millisecond)
	assert.True(t, errors.Is(err, session.ErrRadioTimeout))
}

func TestRadio_Closed(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("r")
	require.NoError(t, r.Close())

	err := r.ConfigureModulation(context.Background(), session.ModulationParams{})
	var fault *session.RadioFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, session.FaultIO, fault.Code)
}

func TestSessionsOverMedium(t *testing.T) {
	m := NewMedium(WithAirtime(true), WithQuality(session.LinkQuality{RSSI: -50, SNR: 8}, 3))
	txRadio, rxRadio := m.NewRadio("sender"), m.NewRadio("receiver")

	txCfg := shortConfig()
	txCfg.InterCycleDelay = 20 * time.Millisecond
	rxCfg := shortConfig()
	rxCfg.RxTimeout = time.Second
	rxCfg.MaxCycles = 3

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
		rxDone <- session.NewReceiver(rxCfg, rxRadio, session.WithSink(sink)).Run(ctx)
	}()

	txCtx, stopTx := context.WithCancel(ctx)
	txDone := make(chan error, 1)
	go func() {
		txDone <- session.NewSender(txCfg, txRadio).Run(txCtx)
	}()

	require.NoError(t, <-rxDone)
	stopTx()
	assert.ErrorIs(t, <-txDone, context.Canceled)

	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, session.OutcomeSuccess, o.Kind)
		require.NotNil(t, o.Quality)
		assert.InDelta(t, -50, o.Quality.RSSI, 3)
		assert.InDelta(t, 8, o.Quality.SNR, 3)
	}
}
