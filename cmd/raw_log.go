// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/session"
)

// maxLoRaPayload is the largest payload any LoRa PHY frame can carry.
const maxLoRaPayload = 255

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every received frame as a hex dump",
	Long: `Continuously receive and display raw frames as they arrive.

Unlike "receive", frames are not rejected: every frame of any length is
printed with a timestamp, RSSI, SNR and a hex dump, followed by the verdict
the receiver would have given it. Use it to inspect what a mismatched or
foreign transmitter is actually sending.

Supports serial, WebSocket and simulated transports.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	sc, err := sessionConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := OpenBoard(ctx, "raw_log")
	if err != nil {
		return err
	}
	defer board.Close()

	radio := board.Transport
	mp, pp, err := sc.DeriveParams(radio)
	if err != nil {
		return err
	}
	if err := radio.ConfigureModulation(ctx, mp); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	fmt.Printf("loralink - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", board.Info)
	fmt.Printf("Radio: %s\n", sc)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	buf := session.NewFrame(maxLoRaPayload)
	var frames int
	for {
		if err := radio.PrepareReceive(ctx, mp, pp, sc.RxBoost, false); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("arm receive: %w", err)
		}

		buf.Clear()
		n, q, err := radio.Receive(ctx, pp, buf)
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, session.ErrRadioTimeout):
			glog.V(1).Infof("raw_log: no frame in %s", pp.RxTimeout)
			continue
		case err != nil:
			fmt.Printf("%s receive error: %v\n", time.Now().Format("15:04:05.000"), err)
			continue
		default:
			frames++
			board.Indicator.Set(true)
			fmt.Print(formatRawFrame(time.Now(), n, q, buf, sc.PayloadLen))
			board.Indicator.Set(false)
			continue
		}
		break
	}

	fmt.Printf("\n%d frame(s) received\n", frames)
	return nil
}

// formatRawFrame renders one received frame. n may exceed len(frame) when
// the transport truncated it.
func formatRawFrame(at time.Time, n int, q session.LinkQuality, frame session.Frame, payloadLen uint8) string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s len=%d rssi=%d dBm snr=%d dB\n", at.Format("15:04:05.000"), n, q.RSSI, q.SNR)

	shown := min(n, len(frame))
	for _, line := range strings.Split(strings.TrimRight(hex.Dump(frame[:shown]), "\n"), "\n") {
		if line != "" {
			s.WriteString("  " + line + "\n")
		}
	}
	if shown < n {
		fmt.Fprintf(&s, "  (%d byte(s) truncated)\n", n-shown)
	}

	if v := session.ValidateFrame(frame, n, payloadLen); v != nil {
		fmt.Fprintf(&s, "  => %s\n\n", v)
	} else {
		s.WriteString("  => valid test frame\n\n")
	}
	return s.String()
}
