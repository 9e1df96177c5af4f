package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/sensorhub/internal"
	pkgconfig "github.com/starford/sensorhub/pkg/config"
)

// exampleConfigFile is used when the --config file does not exist.
const exampleConfigFile = "config/config.yaml"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	used, err := pkgconfig.LoadWithDefaults(cmd.String("config"), exampleConfigFile, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if used != cmd.String("config") {
		slog.Warn("config file not found, using example config",
			slog.String("config", cmd.String("config")),
			slog.String("using", used))
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithOutput(os.Stdout),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func sensorArg(cmd *cli.Command) (string, error) {
	name := cmd.Args().First()
	if name == "" {
		return "", fmt.Errorf("%s: sensor name is required", cmd.Name)
	}
	return name, nil
}

func main() {
	cmd := &cli.Command{
		Name:   "sensorhub",
		Usage:  "Rate-limited software sensors that fetch, buffer, and publish third-party data",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "sensorhub.yaml",
				Value:       "sensorhub.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, driver loop, and file watcher",
				Action: serve,
			},
			{
				Name:      "fetch",
				Usage:     "Fetch one sensor now, if its rate limit allows, and print the records",
				ArgsUsage: "<sensor>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name, err := sensorArg(cmd)
					if err != nil {
						return err
					}
					opts, err := loadOptions(cmd)
					if err != nil {
						return err
					}
					return internal.Fetch(ctx, name, opts...)
				},
			},
			{
				Name:  "status",
				Usage: "Show each sensor's last fetch, next allowed fetch, and record counts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					opts, err := loadOptions(cmd)
					if err != nil {
						return err
					}
					return internal.Status(ctx, opts...)
				},
			},
			{
				Name:  "mcp",
				Usage: "Serve the MCP tools over stdio",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					opts, err := loadOptions(cmd)
					if err != nil {
						return err
					}
					return internal.ServeMCP(ctx, opts...)
				},
			},
			{
				Name:      "purge",
				Usage:     "Delete a sensor's posts and tag from Ghost",
				ArgsUsage: "<sensor>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "forget",
						Usage: "Also drop the sensor's ledger history so records are published again",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name, err := sensorArg(cmd)
					if err != nil {
						return err
					}
					opts, err := loadOptions(cmd)
					if err != nil {
						return err
					}
					return internal.Purge(ctx, name, cmd.Bool("forget"), opts...)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
