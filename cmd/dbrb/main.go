package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"dbrb/internal/check"
	"dbrb/internal/list"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file",
		Value: "dbrb_config.yaml",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "dbrb",
		Usage:   "Database Remote Backup",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "backup",
				Usage: "Stream a backup of the local datastore to the object store",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "type",
						Usage: "Backup strategy (defaults to datastore.type)",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Job id, also the artifact name (defaults to a new UUID)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runBackup(ctx, cmd.String("config"), cmd.String("type"), cmd.String("id"))
				},
			},
			{
				Name:  "restore",
				Usage: "Restore a stored backup into a data directory",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "type",
						Usage: "Backup strategy (defaults to datastore.type)",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Job id of the backup",
					},
					&cli.StringFlag{
						Name:     "location",
						Usage:    "Manifest location reported by the backup",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "checksum",
						Usage:    "Checksum reported by the backup",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "target",
						Usage: "Restore location (defaults to datastore.data_dir)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRestore(ctx, cmd.String("config"), cmd.String("type"), cmd.String("id"),
						cmd.String("location"), cmd.String("checksum"), cmd.String("target"))
				},
			},
			{
				Name:  "verify",
				Usage: "Download a stored backup and verify every checksum",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "location",
						Usage:    "Manifest location reported by the backup",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "checksum",
						Usage:    "Checksum reported by the backup",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runVerify(ctx, cmd.String("config"), cmd.String("location"), cmd.String("checksum"))
				},
			},
			{
				Name:  "list",
				Usage: "Print the manifest of a stored backup as JSON",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "location",
						Usage:    "Manifest location reported by the backup",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return list.Run(ctx, cmd.String("config"), cmd.String("location"), os.Stdout)
				},
			},
			{
				Name:  "check",
				Usage: "Check configuration, storage access and pipeline binaries",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return check.Run(ctx, cmd.String("config"), os.Stdout)
				},
			},
		},
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted by user")
			os.Exit(130)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
