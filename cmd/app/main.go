package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/sift/internal"
	pkgconfig "github.com/starford/sift/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command, quiet bool) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	if quiet {
		opts = append(opts, internal.WithLogOutput(os.Stderr))
	}
	return opts, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, false)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func scrapeOnce(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, true)
	if err != nil {
		return err
	}
	res, err := internal.Scrape(ctx, cmd.String("url"), cmd.Bool("ingest"), opts...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func showBoard(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, true)
	if err != nil {
		return err
	}
	b, st, err := internal.Snapshot(ctx, opts...)
	if err != nil {
		return err
	}
	printBoard(os.Stdout, b, st, int(cmd.Int("top")))
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, true)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func reset(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return errors.New("reset deletes the board and raw log; pass --yes to confirm")
	}
	opts, err := loadOptions(cmd, true)
	if err != nil {
		return err
	}
	if err := internal.Reset(ctx, opts...); err != nil {
		return err
	}
	fmt.Println("board reset")
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "sift",
		Usage:   "Scrape discussion pages, rank messages by likes, and sort them into categories",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, inbox watcher and scheduler",
				Action: serve,
			},
			{
				Name:   "scrape",
				Usage:  "Scrape one page and print the extracted messages as JSON",
				Action: scrapeOnce,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "Page to scrape", Required: true},
					&cli.BoolFlag{Name: "ingest", Usage: "Merge the messages into the board"},
				},
			},
			{
				Name:   "board",
				Usage:  "Print a summary of the board",
				Action: showBoard,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "top", Usage: "Records shown per category (0 for all)", Value: 5},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:   "reset",
				Usage:  "Delete the board and raw log",
				Action: reset,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm the reset"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
