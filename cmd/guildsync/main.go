package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/guildsync/internal"
	pkgconfig "github.com/starford/guildsync/pkg/config"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	load := pkgconfig.LoadOptional[internal.Config]
	if cmd.IsSet("config") {
		load = pkgconfig.Load[internal.Config]
	}

	cfg := internal.NewDefaultConfig()
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	reports, err := internal.Sync(ctx, internal.SyncRequest{
		Character: cmd.String("character"),
		Rebuild:   cmd.Bool("rebuild"),
	}, opts...)
	printReports(reports)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if n := skippedCount(reports); n > 0 && cmd.Bool("strict") {
		return fmt.Errorf("sync: %d file(s) skipped", n)
	}
	return nil
}

func runRenumber(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	rep, err := internal.Renumber(ctx, cmd.String("character"), opts...)
	if rep != nil {
		printReports(reportsOf(rep))
	}
	if err != nil {
		return fmt.Errorf("renumber: %w", err)
	}
	return nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, opts...)
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func runRefs(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	res, err := internal.Refs(ctx, opts...)
	if err != nil {
		return fmt.Errorf("refs: %w", err)
	}
	printRefs(res)
	if len(res.Missing) > 0 && cmd.Bool("strict") {
		return fmt.Errorf("refs: %d broken reference(s)", len(res.Missing))
	}
	return nil
}

func runRuns(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	runs, err := internal.Runs(ctx, cmd.String("character"), int(cmd.Int("limit")), opts...)
	if err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	printRuns(runs)
	return nil
}

func characterFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "character",
		Usage:    "Character key as namespace/name, e.g. guild/damao",
		Required: required,
	}
}

func strictFlag(usage string) *cli.BoolFlag {
	return &cli.BoolFlag{Name: "strict", Usage: usage}
}

func main() {
	cmd := &cli.Command{
		Name:  "guildsync",
		Usage: "Keep per-character image galleries deduplicated, converted to WebP and densely numbered",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("GUILDSYNC_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Promote, import, deduplicate and renumber character assets",
				Action: runSync,
				Flags: []cli.Flag{
					characterFlag(false),
					&cli.BoolFlag{Name: "rebuild", Usage: "Re-encode existing gallery files"},
					strictFlag("Exit non-zero when any file was skipped"),
				},
			},
			{
				Name:   "renumber",
				Usage:  "Close gaps in a character's gallery numbering",
				Action: runRenumber,
				Flags:  []cli.Flag{characterFlag(true)},
			},
			{
				Name:   "watch",
				Usage:  "Sync on every change in the intake folder",
				Action: runWatch,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and watch the intake folder",
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: runMCP,
			},
			{
				Name:   "refs",
				Usage:  "Report page references to missing asset files",
				Action: runRefs,
				Flags:  []cli.Flag{strictFlag("Exit non-zero when any reference is broken")},
			},
			{
				Name:   "runs",
				Usage:  "Show recorded sync runs of a character",
				Action: runRuns,
				Flags: []cli.Flag{
					characterFlag(true),
					&cli.IntFlag{Name: "limit", Usage: "Number of runs to show", Value: 20},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
