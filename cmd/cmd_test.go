// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/loralink/pkg/linkstats"
	"github.com/Thermoquad/loralink/pkg/session"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{2 * time.Hour, "2 hours"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1 day, 2 hours, 3 minutes, and 4 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.in))
		})
	}
}

func TestModel_TracksOutcomes(t *testing.T) {
	stats := linkstats.New()
	m := initialModel("Simulated: rx", session.DefaultConfig(), stats, nil)

	success := session.Event{
		Time:  time.Now(),
		Role:  session.RoleReceiver,
		Kind:  session.EventOutcome,
		Cycle: 1,
		State: session.StateValidated,
		Outcome: &session.Outcome{
			Kind:     session.OutcomeSuccess,
			Quality:  &session.LinkQuality{RSSI: -71, SNR: 6},
			Received: 100,
		},
	}
	stats.Report(success)

	next, _ := m.Update(eventMsg(success))
	m = next.(model)
	next, _ = m.Update(ledMsg(true))
	m = next.(model)

	require.NotNil(t, m.lastQuality)
	assert.Equal(t, int16(-71), m.lastQuality.RSSI)
	assert.True(t, m.ledOn)
	require.Len(t, m.eventLog, 1)
	assert.Equal(t, levelInfo, m.eventLog[0].level)

	timeout := session.Event{
		Role:    session.RoleReceiver,
		Kind:    session.EventOutcome,
		Cycle:   2,
		State:   session.StateListening,
		Outcome: &session.Outcome{Kind: session.OutcomeTimeout, Elapsed: time.Second},
	}
	next, _ = m.Update(eventMsg(timeout))
	m = next.(model)
	assert.Equal(t, levelWarning, m.eventLog[1].level)

	view := m.View()
	assert.Contains(t, view, "LORALINK - RECEIVER")
	assert.Contains(t, view, "-71 dBm")
}

func TestModel_SessionDone(t *testing.T) {
	m := initialModel("x", session.DefaultConfig(), linkstats.New(), nil)
	next, _ := m.Update(sessionDoneMsg{err: errors.New("arm fault")})
	m = next.(model)

	assert.True(t, m.finished)
	assert.Contains(t, m.View(), "Stopped: arm fault")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
radio:
  spreading_factor: 9
  bandwidth_hz: 125000
transport:
  kind: sim
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rootCmd.SetArgs([]string{"params", "--config", path, "--sf", "11", "--rx-timeout", "4s"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, uint8(11), cfg.Radio.SpreadingFactor, "flag wins")
	assert.Equal(t, uint32(125_000), cfg.Radio.BandwidthHz, "file wins over default")
	assert.Equal(t, 4*time.Second, cfg.Radio.RxTimeout)
	assert.Equal(t, "sim", cfg.Transport.Kind)
	assert.Equal(t, uint8(100), cfg.Radio.PayloadLen, "default kept")
}

func TestFormatRawFrame(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q := session.LinkQuality{RSSI: -80, SNR: 7}

	t.Run("valid", func(t *testing.T) {
		out := formatRawFrame(at, 4, q, session.PatternFrame(4), 4)
		assert.Contains(t, out, "03:04:05.000 len=4 rssi=-80 dBm snr=7 dB")
		assert.Contains(t, out, "00 01 02 03")
		assert.Contains(t, out, "=> valid test frame")
	})

	t.Run("short frame", func(t *testing.T) {
		out := formatRawFrame(at, 3, q, session.PatternFrame(3), 4)
		assert.Contains(t, out, "=> length mismatch: received=3, expected=4")
	})

	t.Run("truncated", func(t *testing.T) {
		out := formatRawFrame(at, 6, q, session.PatternFrame(4), 4)
		assert.Contains(t, out, "(2 byte(s) truncated)")
	})
}

func TestTUIFeed_SlowUIDoesNotBlockSession(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []tea.Msg
	send := func(msg tea.Msg) {
		<-release
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}

	feed := newTUIFeed(send, 16)
	returned := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			feed.Sink().Report(session.Event{Kind: session.EventOutcome, Cycle: uint64(i)})
			feed.Set(true)
			feed.Set(false)
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("session blocked on the UI")
	}

	close(release)
	feed.Close()

	mu.Lock()
	defer mu.Unlock()
	var events int
	var lastLED *bool
	for _, msg := range got {
		switch m := msg.(type) {
		case eventMsg:
			events++
		case ledMsg:
			v := bool(m)
			lastLED = &v
		}
	}
	assert.Equal(t, 5, events, "queued events are delivered on Close")
	if lastLED != nil {
		assert.False(t, *lastLED, "latest LED state wins")
	}
}
