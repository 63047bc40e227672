// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// imu_logger reads six-axis IMU frames from a serial device, estimates
// pitch, roll and yaw, and logs each session to CSV.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_logger/internal/app"
	"github.com/relabs-tech/imu_logger/internal/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "imu_logger",
		Short: "IMU orientation logger",
		Long: `imu_logger reads "ax,ay,az,gx,gy,gz" lines from a serial IMU, an
MPU9250 on SPI, a replay file or a built-in mock, computes pitch and roll from the
accelerometer and integrates yaw from the z gyro, and exports each
session as CSV.

Configuration is a KEY=VALUE file or a .yaml/.yml file; without one the
defaults are used.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitGlobal(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file")

	root.AddCommand(runCmd(), serveCmd(), consoleCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, root); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		duration time.Duration
		export   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Record one session and export it",
		Long: `run starts acquisition immediately and records until Ctrl+C, until
--duration has elapsed, or until the source closes. The session is then
exported to --export (default: EXPORT_PATH).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunAcquire(cmd.Context(), config.Get(), duration, export)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().StringVarP(&export, "export", "o", "", "CSV export path")
	return cmd
}

func serveCmd() *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/websocket control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(cmd.Context(), config.Get(), autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "start", false, "start acquiring immediately")
	return cmd
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Print poses and raw frames published over MQTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConsoleMQTT(cmd.Context(), config.Get())
		},
	}
}
