// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

// testnetboxctl provisions and drives a two-node bitcoind regtest network.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/api"
	"github.com/jwatts201708/bitcoin-testnet-box/config"
	"github.com/jwatts201708/bitcoin-testnet-box/logging"
	"github.com/jwatts201708/bitcoin-testnet-box/network"
)

const cliVersion = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "testnetboxctl",
		Short:        "control a two-node bitcoind regtest network",
		SilenceUsage: true,
	}
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		versionCommand(),
		serveCommand(rootCmd),
		demoCommand(rootCmd),
		stopCommand(rootCmd),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "testnetboxctl failed: %v\n", err)
		os.Exit(1)
	}
}

// setup builds the config, logger, and network shared by the commands.
func setup(rootCmd *cobra.Command) (*config.Config, *zap.Logger, *network.Network, error) {
	v, err := config.BuildViper(rootCmd.PersistentFlags())
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.New(v)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, network.New(log, cfg), nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "testnetboxctl %s\n", cliVersion)
			return nil
		},
	}
}

func serveCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the control API daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, net, err := setup(rootCmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			server := api.New(log, cfg.APIAddr, net)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info("shutting down on signal", zap.String("signal", sig.String()))
				if err := server.Shutdown(); err != nil {
					log.Warn("shutdown error", zap.Error(err))
				}
			}()

			return server.Dispatch()
		},
	}
}

func demoCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "bootstrap the network and run a funded transfer end to end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, net, err := setup(rootCmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.BootstrapTimeout)
			defer cancel()

			report, err := net.Demo(ctx)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func stopCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "tear down a running network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, net, err := setup(rootCmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+10*time.Second)
			defer cancel()

			if err := net.Stop(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "network stopped")
			return nil
		},
	}
}
