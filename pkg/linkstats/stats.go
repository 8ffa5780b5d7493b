// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package linkstats aggregates session outcomes into link statistics.
package linkstats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/loralink/pkg/session"
)

// Range tracks min/avg/max of a signed link metric.
type Range struct {
	Count uint64
	Min   int16
	Max   int16
	Sum   int64
}

func (r *Range) add(v int16) {
	if r.Count == 0 || v < r.Min {
		r.Min = v
	}
	if r.Count == 0 || v > r.Max {
		r.Max = v
	}
	r.Count++
	r.Sum += int64(v)
}

// Avg returns the mean, or 0 with no samples.
func (r Range) Avg() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Sum) / float64(r.Count)
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	Role           session.Role
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Cycles            uint64
	Successes         uint64
	Malformed         uint64
	LengthMismatches  uint64
	ContentMismatches uint64
	Timeouts          uint64
	RadioFaults       uint64
	CRCErrors         uint64

	RSSI Range
	SNR  Range

	// Time spent in Transmit (sender) or Receive (receiver).
	LastElapsed  time.Duration
	TotalElapsed time.Duration

	Aborted   bool
	AbortErr  string
	Params    *session.ModulationParams
	LastState session.State

	// Rates (calculated)
	PacketRate  float64 // successes/sec
	ErrorRate   float64 // failures/sec
	SuccessRate float64 // percent of cycles
}

// Stats is a session.Sink that tracks link statistics. It is safe for
// concurrent use.
type Stats struct {
	mu sync.Mutex
	s  Snapshot
}

// New creates a statistics tracker.
func New() *Stats {
	now := time.Now()
	return &Stats{s: Snapshot{StartTime: now, LastUpdateTime: now}}
}

// Report implements session.Sink.
func (st *Stats) Report(e session.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.update(e)
}

func (st *Stats) update(e session.Event) {
	s := &st.s
	s.Role = e.Role
	s.LastState = e.State

	switch e.Kind {
	case session.EventConfigured:
		if e.Params != nil {
			p := *e.Params
			s.Params = &p
		}
	case session.EventAborted:
		s.Aborted = true
		if e.Err != nil {
			s.AbortErr = e.Err.Error()
		}
	case session.EventOutcome:
		if e.Outcome != nil {
			st.addOutcome(*e.Outcome)
		}
	}
	s.LastUpdateTime = time.Now()
}

func (st *Stats) addOutcome(o session.Outcome) {
	s := &st.s
	s.Cycles++
	s.LastElapsed = o.Elapsed
	s.TotalElapsed += o.Elapsed

	switch o.Kind {
	case session.OutcomeSuccess:
		s.Successes++
		if o.Quality != nil {
			s.RSSI.add(o.Quality.RSSI)
			s.SNR.add(o.Quality.SNR)
		}
	case session.OutcomeMalformed:
		s.Malformed++
		switch o.Reason() {
		case session.ReasonLengthMismatch:
			s.LengthMismatches++
		case session.ReasonContentMismatch:
			s.ContentMismatches++
		}
	case session.OutcomeTimeout:
		s.Timeouts++
	case session.OutcomeRadioFault:
		s.RadioFaults++
		if o.Fault != nil && errors.Is(o.Fault, session.ErrRadioCRC) {
			s.CRCErrors++
		}
	}
}

// Snapshot returns a copy with rates calculated.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	s := st.s
	st.mu.Unlock()

	s.calculateRates()
	return s
}

func (s *Snapshot) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.Successes) / elapsed
		s.ErrorRate = float64(s.Failures()) / elapsed
	}
	if s.Cycles > 0 {
		s.SuccessRate = float64(s.Successes) * 100.0 / float64(s.Cycles)
	}
}

// Failures counts every non-success outcome.
func (s Snapshot) Failures() uint64 {
	return s.Malformed + s.Timeouts + s.RadioFaults
}

// String returns a formatted statistics summary.
func (st *Stats) String() string {
	return st.Snapshot().String()
}

func (s Snapshot) String() string {
	pct := func(n uint64) float64 {
		if s.Cycles == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.Cycles)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== %s statistics (%.0f seconds) ===\n", s.Role, elapsed.Seconds())
	result += fmt.Sprintf("Cycles:          %8d\n", s.Cycles)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.Successes, pct(s.Successes))

	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, pct(s.Malformed))
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
		if s.ContentMismatches > 0 {
			result += fmt.Sprintf("  Content Mismatch: %5d\n", s.ContentMismatches)
		}
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, pct(s.Timeouts))
	}
	if s.RadioFaults > 0 {
		result += fmt.Sprintf("Radio Faults:    %8d (%.1f%%)\n", s.RadioFaults, pct(s.RadioFaults))
		if s.CRCErrors > 0 {
			result += fmt.Sprintf("  CRC Errors:       %5d\n", s.CRCErrors)
		}
	}
	if s.RSSI.Count > 0 {
		result += fmt.Sprintf("RSSI (dBm):      %4d / %6.1f / %4d (min/avg/max)\n", s.RSSI.Min, s.RSSI.Avg(), s.RSSI.Max)
		result += fmt.Sprintf("SNR (dB):        %4d / %6.1f / %4d (min/avg/max)\n", s.SNR.Min, s.SNR.Avg(), s.SNR.Max)
	}
	if s.Cycles > 0 {
		avg := s.TotalElapsed / time.Duration(s.Cycles)
		result += fmt.Sprintf("Air Time:        %8d ms avg\n", avg.Milliseconds())
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	if s.Aborted {
		result += fmt.Sprintf("ABORTED: %s\n", s.AbortErr)
	}
	result += "================================\n"

	return result
}

// Reset clears all counters.
func (st *Stats) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.s = Snapshot{Role: st.s.Role, Params: st.s.Params, StartTime: now, LastUpdateTime: now}
}
