// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/platform"
	"github.com/Thermoquad/loralink/pkg/session"
	"github.com/Thermoquad/loralink/pkg/wsbridge"
)

var (
	bridgeListen   string
	bridgePath     string
	bridgeAuthUser string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose a radio over WebSocket",
	Long: `Serve the selected radio to remote loralink clients.

With --transport serial the local modem is shared with one client at a
time; a second client is refused with HTTP 503 until the first leaves.

With --transport sim every client gets its own simulated radio on one
shared medium, so a sender and a receiver on different hosts can talk
through the bridge:

  loralink bridge --transport sim --listen :8080
  loralink send    --transport ws --url ws://bridge:8080/lora
  loralink receive --transport ws --url ws://bridge:8080/lora

With --auth-user clients must present HTTP Basic credentials. The password
is read from LORALINK_PASSWORD or prompted interactively.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":8080", "Address to listen on")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/lora", "WebSocket endpoint path")
	bridgeCmd.Flags().StringVar(&bridgeAuthUser, "auth-user", "", "Require HTTP Basic auth with this username")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if cfg.Transport.Kind == platform.KindWS {
		return errors.New("bridge needs a local radio (--transport serial or sim)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []wsbridge.ServerOption
	if bridgeAuthUser != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		opts = append(opts, wsbridge.WithBasicAuth(bridgeAuthUser, password))
	}

	var provider wsbridge.Provider
	var info string
	if cfg.Transport.Kind == platform.KindSim {
		medium := platform.SimMedium(cfg.Sim)
		var clients atomic.Int64
		provider = func() (session.RadioTransport, func(), error) {
			radio := medium.NewRadio(fmt.Sprintf("client-%d", clients.Add(1)))
			return radio, func() { radio.Close() }, nil
		}
		info = "Simulated medium (one radio per client)"
	} else {
		board, err := OpenBoard(ctx, "bridge")
		if err != nil {
			return err
		}
		defer board.Close()
		provider = wsbridge.Exclusive(board.Transport)
		info = board.Info
	}

	server := wsbridge.NewServer(provider, opts...)
	mux := http.NewServeMux()
	mux.Handle(bridgePath, server)

	srv := &http.Server{Addr: bridgeListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	fmt.Printf("loralink - Bridge\n")
	fmt.Printf("Radio: %s\n", info)
	fmt.Printf("Listening: ws://%s%s\n", bridgeListen, bridgePath)
	if bridgeAuthUser != "" {
		fmt.Printf("Auth: HTTP Basic (%s)\n", bridgeAuthUser)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		glog.Infof("bridge: shutting down with %d client(s) connected", server.Clients())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	}
}
