// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/loralink/pkg/linkstats"
	"github.com/Thermoquad/loralink/pkg/session"
	"github.com/Thermoquad/loralink/pkg/telemetry"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	level     int // 0 info, 1 warning, 2 error
}

const (
	levelInfo = iota
	levelWarning
	levelError
)

// TUI model
type model struct {
	connInfo      string
	radio         string
	stats         *linkstats.Stats
	spinner       spinner.Model
	progress      progress.Model
	eventLog      []logEntry
	maxLogEntries int
	state         session.State
	ledOn         bool
	lastQuality   *session.LinkQuality
	lastValid     time.Time
	started       time.Time
	finished      bool
	finalErr      error
	width         int
	height        int
	quitting      bool
	cancel        context.CancelFunc
}

// Messages
type tickMsg time.Time
type eventMsg session.Event
type ledMsg bool
type sessionDoneMsg struct {
	err error
}

// tuiFeed carries session events and LED changes to the UI without letting
// a slow UI hold up the session.
type tuiFeed struct {
	events *telemetry.Async

	led     atomic.Bool
	ledWake chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newTUIFeed(send func(tea.Msg), queue int) *tuiFeed {
	f := &tuiFeed{
		events: telemetry.NewAsync(session.SinkFunc(func(e session.Event) {
			send(eventMsg(e))
		}), queue),
		ledWake: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go f.forwardLED(send)
	return f
}

// forwardLED sends the latest LED state; blinks shorter than a UI round
// trip are coalesced.
func (f *tuiFeed) forwardLED(send func(tea.Msg)) {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			select {
			case <-f.ledWake:
				send(ledMsg(f.led.Load()))
			default:
			}
			return
		case <-f.ledWake:
			send(ledMsg(f.led.Load()))
		}
	}
}

// Sink returns the event side of the feed.
func (f *tuiFeed) Sink() session.Sink {
	return f.events
}

// Set implements session.Indicator.
func (f *tuiFeed) Set(active bool) {
	f.led.Store(active)
	select {
	case f.ledWake <- struct{}{}:
	default:
	}
}

// Close delivers queued events and stops forwarding.
func (f *tuiFeed) Close() {
	f.events.Close()
	close(f.stop)
	<-f.done
}

// formatDuration formats a duration as a human-friendly string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo string, sc session.Config, stats *linkstats.Stats, cancel context.CancelFunc) model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return model{
		connInfo:      connInfo,
		radio:         sc.String(),
		stats:         stats,
		spinner:       sp,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		state:         session.StateIdle,
		started:       time.Now(),
		width:         80,
		height:        24,
		cancel:        cancel,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", levelInfo)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ledMsg:
		m.ledOn = bool(msg)

	case eventMsg:
		m.handleEvent(session.Event(msg))

	case sessionDoneMsg:
		m.finished = true
		m.finalErr = msg.err
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.addLogEntry(fmt.Sprintf("Session stopped: %v", msg.err), levelError)
		} else {
			m.addLogEntry("Session finished", levelInfo)
		}
	}

	return m, nil
}

func (m *model) handleEvent(e session.Event) {
	m.state = e.State

	switch e.Kind {
	case session.EventConfigured:
		if e.Params != nil {
			m.addLogEntry(fmt.Sprintf("Configured: %s", e.Params), levelInfo)
		}

	case session.EventOutcome:
		if e.Outcome == nil {
			return
		}
		o := *e.Outcome
		text := fmt.Sprintf("#%d %s", e.Cycle, session.FormatOutcome(e.Role, o))
		switch o.Kind {
		case session.OutcomeSuccess:
			m.lastValid = e.Time
			if o.Quality != nil {
				q := *o.Quality
				m.lastQuality = &q
			}
			m.addLogEntry(text, levelInfo)
		case session.OutcomeTimeout:
			m.addLogEntry(text, levelWarning)
		default:
			m.addLogEntry(text, levelError)
		}

	case session.EventFault:
		m.addLogEntry(fmt.Sprintf("%s fault in %s: %v", e.Class, e.State, e.Err), levelError)

	case session.EventAborted:
		m.addLogEntry(fmt.Sprintf("ABORTED: %v", e.Err), levelError)
	}
}

func (m *model) addLogEntry(message string, level int) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("LORALINK - RECEIVER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'r' to reset, 'q' to quit", m.connInfo)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(m.radio))
	s.WriteString("\n\n")

	// Session status
	led := headerStyle.Render("○ LED")
	if m.ledOn {
		led = statsValueStyle.Render("● LED")
	}
	switch {
	case m.finished && m.finalErr != nil && !errors.Is(m.finalErr, context.Canceled):
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Stopped: %v", m.finalErr)))
	case m.finished:
		s.WriteString(statsValueStyle.Render("✓ Finished"))
	case m.state == session.StateListening:
		s.WriteString(m.spinner.View() + warningStyle.Render(" Listening..."))
	default:
		s.WriteString(m.spinner.View() + headerStyle.Render(" "+m.state.String()))
	}
	s.WriteString("   " + led)
	s.WriteString(headerStyle.Render("   up " + formatDuration(time.Since(m.started))))
	s.WriteString("\n\n")

	// Statistics
	snap := m.stats.Snapshot()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Cycles)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Successes)),
		statsLabelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", snap.Failures())),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s %s\n",
		statsLabelStyle.Render("Success:"),
		m.progress.ViewAs(snap.SuccessRate/100),
		statsValueStyle.Render(fmt.Sprintf("%.1f%%", snap.SuccessRate)),
	))

	if snap.Malformed > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", snap.Malformed)),
			headerStyle.Render("length"), snap.LengthMismatches,
			headerStyle.Render("content"), snap.ContentMismatches,
		))
	}
	if snap.Timeouts > 0 || snap.RadioFaults > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Timeouts:"), warningStyle.Render(fmt.Sprintf("%d", snap.Timeouts)),
			statsLabelStyle.Render("Radio Faults:"), errorStyle.Render(fmt.Sprintf("%d", snap.RadioFaults)),
		))
	}
	if snap.RSSI.Count > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("RSSI:"), statsValueStyle.Render(fmt.Sprintf("%d / %.1f / %d dBm", snap.RSSI.Min, snap.RSSI.Avg(), snap.RSSI.Max)),
			statsLabelStyle.Render("SNR:"), statsValueStyle.Render(fmt.Sprintf("%d / %.1f / %d dB", snap.SNR.Min, snap.SNR.Avg(), snap.SNR.Max)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f pkts/s", snap.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if snap.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", snap.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.2f err/s", snap.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Last valid frame (only shown once one arrived)
	if m.lastQuality != nil {
		s.WriteString(statsLabelStyle.Render("Last Valid Frame:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(fmt.Sprintf("%s %s   %s %s   %s %s",
			statsLabelStyle.Render("RSSI:"), statsValueStyle.Render(fmt.Sprintf("%d dBm", m.lastQuality.RSSI)),
			statsLabelStyle.Render("SNR:"), statsValueStyle.Render(fmt.Sprintf("%d dB", m.lastQuality.SNR)),
			statsLabelStyle.Render("Age:"), statsValueStyle.Render(formatDuration(time.Since(m.lastValid))),
		)))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 18 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			var line string
			switch entry.level {
			case levelError:
				line = errorStyle.Render("✗ " + entry.message)
			case levelWarning:
				line = warningStyle.Render("⚠ " + entry.message)
			default:
				line = statsValueStyle.Render("ℹ " + entry.message)
			}
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), line))
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
