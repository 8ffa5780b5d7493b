// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/loralink/pkg/loopback"
	"github.com/Thermoquad/loralink/pkg/platform"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("LORALINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// boardConfig builds the platform configuration from the merged settings.
func boardConfig(name string, medium *loopback.Medium) (platform.BoardConfig, error) {
	bc := platform.BoardConfig{
		Transport: cfg.Transport,
		Sim:       cfg.Sim,
		Indicator: cfg.Indicator,
		Medium:    medium,
		Name:      name,
	}
	if bc.Transport.Kind == platform.KindWS && bc.Transport.Username != "" {
		password, err := GetPassword()
		if err != nil {
			return bc, err
		}
		bc.Password = password
	}
	return bc, nil
}

// OpenBoard brings up the transport selected by the flags and config.
func OpenBoard(ctx context.Context, name string) (*platform.Board, error) {
	bc, err := boardConfig(name, nil)
	if err != nil {
		return nil, err
	}
	return platform.Init(ctx, bc)
}

func parseDuration(flagName, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", flagName, value, err)
	}
	return d, nil
}
