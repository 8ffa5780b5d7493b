// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package loopback simulates a shared LoRa channel in-process. Radios
// attached to one Medium hear each other's transmissions when they are
// armed for receive with the same modulation, like real transceivers.
package loopback

import (
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/loralink/pkg/session"
)

// MediumOption configures a Medium.
type MediumOption func(*Medium)

// WithLoss drops each delivery with probability p.
func WithLoss(p float64) MediumOption {
	return func(m *Medium) { m.loss = p }
}

// WithCorruption flips one byte of each delivery with probability p. The
// simulated radios do not check CRCs, so corrupted frames reach the
// session and fail validation.
func WithCorruption(p float64) MediumOption {
	return func(m *Medium) { m.corrupt = p }
}

// WithQuality sets the link quality reported for every delivery. jitter
// adds a uniform +/- spread to both values.
func WithQuality(q session.LinkQuality, jitter int16) MediumOption {
	return func(m *Medium) {
		m.quality = q
		m.jitter = jitter
	}
}

// WithAirtime makes Transmit block for the packet's time on air.
func WithAirtime(enabled bool) MediumOption {
	return func(m *Medium) { m.airtime = enabled }
}

// WithSeed makes loss and corruption reproducible.
func WithSeed(seed int64) MediumOption {
	return func(m *Medium) { m.rng = rand.New(rand.NewSource(seed)) }
}

// MediumStats counts what happened on the air.
type MediumStats struct {
	Transmissions uint64
	Delivered     uint64
	Dropped       uint64
	Corrupted     uint64
	// Missed counts radios that were not listening with matching
	// modulation when a packet went out.
	Missed uint64
}

// Medium is the shared channel.
type Medium struct {
	mu      sync.Mutex
	radios  map[*Radio]struct{}
	rng     *rand.Rand
	loss    float64
	corrupt float64
	quality session.LinkQuality
	jitter  int16
	airtime bool
	stats   MediumStats
}

// NewMedium creates an empty channel.
func NewMedium(opts ...MediumOption) *Medium {
	m := &Medium{
		radios:  make(map[*Radio]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		quality: session.LinkQuality{RSSI: -45, SNR: 10},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewRadio attaches a new radio to the channel.
func (m *Medium) NewRadio(name string) *Radio {
	r := &Radio{
		name:   name,
		medium: m,
		notify: make(chan struct{}, 1),
	}
	m.mu.Lock()
	m.radios[r] = struct{}{}
	m.mu.Unlock()
	return r
}

// Stats returns a copy of the channel counters.
func (m *Medium) Stats() MediumStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Medium) detach(r *Radio) {
	m.mu.Lock()
	delete(m.radios, r)
	m.mu.Unlock()
}

// broadcast delivers frame to every other radio listening on mp.
func (m *Medium) broadcast(from *Radio, mp session.ModulationParams, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Transmissions++

	for r := range m.radios {
		if r == from {
			continue
		}
		if !r.listeningOn(mp) {
			m.stats.Missed++
			glog.V(3).Infof("loopback: %s -> %s missed (not listening on %s)", from.name, r.name, mp)
			continue
		}
		if m.loss > 0 && m.rng.Float64() < m.loss {
			m.stats.Dropped++
			glog.V(3).Infof("loopback: %s -> %s dropped", from.name, r.name)
			continue
		}

		data := make([]byte, len(frame))
		copy(data, frame)
		if m.corrupt > 0 && len(data) > 0 && m.rng.Float64() < m.corrupt {
			i := m.rng.Intn(len(data))
			data[i] ^= byte(1 + m.rng.Intn(255))
			m.stats.Corrupted++
		}

		r.deliver(packet{data: data, quality: m.sampleQuality()})
		m.stats.Delivered++
		glog.V(3).Infof("loopback: %s -> %s %d bytes", from.name, r.name, len(data))
	}
}

func (m *Medium) sampleQuality() session.LinkQuality {
	q := m.quality
	if m.jitter > 0 {
		span := int(m.jitter)*2 + 1
		q.RSSI += int16(m.rng.Intn(span)) - m.jitter
		q.SNR += int16(m.rng.Intn(span)) - m.jitter
	}
	return q
}
