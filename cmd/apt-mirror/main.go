// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// apt-mirror materialises a local, checksum-verified copy of remote
// Debian-style package repositories described by a mirror.list file.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/apt-mirror/pkg/mirror"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/apt/mirror.list"

var rootCmd = &cobra.Command{
	Use:   "apt-mirror [config_file]",
	Short: "Mirror APT repositories with verified, resumable downloads",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := defaultConfigPath
		if len(args) == 1 {
			configPath = args[0]
		}
		cfg, err := mirror.ParseConfig(configPath)
		if err != nil {
			return err
		}
		engine, err := mirror.New(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return engine.Run(ctx)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
