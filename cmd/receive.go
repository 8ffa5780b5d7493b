// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/indicator"
	"github.com/Thermoquad/loralink/pkg/platform"
	"github.com/Thermoquad/loralink/pkg/session"
)

var (
	statsInterval int
	useTUI        bool
	startupBlink  string
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Listen for the test frame and validate it",
	Long: `Run the receiver role.

Every cycle arms the receiver for the receive window, validates whatever
arrives and reports the outcome:
  - valid frame: exact length and content, RSSI/SNR reported, LED blinks
  - malformed frame: length or content mismatch, LED untouched
  - timeout or receive fault: reported, the next cycle re-arms

Only configuration and arm faults stop the receiver.

By default a live terminal UI is shown. Use --tui=false for plain text with
periodic statistics summaries.`,
	RunE: runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	receiveCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	receiveCmd.Flags().StringVar(&startupBlink, "startup-blink", "", "Hold the LED on this long before the first cycle (e.g. 5s)")
}

func runReceive(cmd *cobra.Command, args []string) error {
	sc, err := sessionConfig()
	if err != nil {
		return err
	}
	if startupBlink != "" {
		if sc.StartupBlink, err = parseDuration("startup-blink", startupBlink); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if useTUI && !cmd.Flags().Changed("logtostderr") {
		// the alternate screen owns the terminal
		_ = flag.Set("logtostderr", "false")
	}

	board, err := OpenBoard(ctx, "receiver")
	if err != nil {
		return err
	}
	defer board.Close()

	obs, err := startObserver(ctx, !useTUI)
	if err != nil {
		return err
	}
	defer obs.Close()

	if useTUI {
		return runReceiveTUI(ctx, sc, board, obs)
	}
	return runReceiveText(ctx, sc, board, obs)
}

func runReceiveText(ctx context.Context, sc session.Config, board *platform.Board, obs *observer) error {
	fmt.Printf("loralink - Receiver\n")
	fmt.Printf("Connection: %s\n", board.Info)
	fmt.Printf("Radio: %s\n", sc)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	receiver := session.NewReceiver(sc, board.Transport,
		session.WithIndicator(board.Indicator),
		session.WithSink(obs.Sink()))

	done := make(chan error, 1)
	go func() {
		done <- receiver.Run(ctx)
	}()

	statsTicker := time.NewTicker(time.Duration(max(statsInterval, 1)) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case err := <-done:
			fmt.Println()
			fmt.Print(obs.stats.String())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(obs.stats.String())
			fmt.Println()
		}
	}
}

func runReceiveTUI(ctx context.Context, sc session.Config, board *platform.Board, obs *observer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialModel(board.Info, sc, obs.stats, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	feed := newTUIFeed(p.Send, cfg.Telemetry.QueueSize)
	defer feed.Close()

	receiver := session.NewReceiver(sc, board.Transport,
		session.WithIndicator(indicator.Multi(board.Indicator, feed)),
		session.WithSink(obs.Sink(feed.Sink())))

	done := make(chan error, 1)
	go func() {
		err := receiver.Run(ctx)
		p.Send(sessionDoneMsg{err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	cancel()
	err := <-done

	fmt.Print(obs.stats.String())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
