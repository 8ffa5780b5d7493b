// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/session"
)

// Probe exit codes.
const (
	exitFrameReceived = 0
	exitTimeout       = 1
	exitLinkError     = 2
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Wait for one valid test frame",
	Long: `Listen until one valid test frame arrives or the timeout expires.

Malformed frames and receive timeouts are reported and listening continues,
exactly as in "receive".

Exit codes:
  0 - Valid frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection, platform or configuration error

Useful for checking a link from scripts.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 30, "Timeout in seconds to wait for a valid frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	code := probe()
	glog.Flush()
	os.Exit(code)
	return nil
}

func probe() int {
	sc, err := sessionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitLinkError
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	board, err := OpenBoard(ctx, "probe")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return exitLinkError
	}
	defer board.Close()

	fmt.Printf("loralink - Probe\n")
	fmt.Printf("Connection: %s\n", board.Info)
	fmt.Printf("Radio: %s\n", sc)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	receiver := session.NewReceiver(sc, board.Transport,
		session.WithIndicator(board.Indicator),
		session.WithSink(session.SinkFunc(func(e session.Event) {
			if e.Kind == session.EventOutcome && e.Outcome.Kind != session.OutcomeSuccess {
				fmt.Println(session.FormatEvent(e))
			}
		})))

	if err := receiver.Start(ctx); err != nil {
		return probeFailure(err)
	}

	for {
		out, err := receiver.Cycle(ctx)
		// a valid frame counts even if the deadline hit during the LED hold
		if out.Kind == session.OutcomeSuccess && out.Quality != nil {
			fmt.Printf("SUCCESS: Received valid frame after %d cycle(s)\n", receiver.Cycles())
			fmt.Printf("  Length: %d bytes\n", out.Received)
			fmt.Printf("  RSSI: %d dBm\n", out.Quality.RSSI)
			fmt.Printf("  SNR: %d dB\n", out.Quality.SNR)
			return exitFrameReceived
		}
		if err != nil {
			return probeFailure(err)
		}
	}
}

func probeFailure(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
		return exitTimeout
	}
	fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
	return exitLinkError
}
