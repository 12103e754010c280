// Package command defines the CLI surface. Runners are injected so tests can
// drive the app without starting the service.
package command

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/whoabuddy/claude-rpg/internal/config"
)

type Deps struct {
	LoadConfig    func() config.Config
	RunServe      func(context.Context, config.Config) error
	RunMigrateUp  func(context.Context, config.Config) error
	RunConfigInit func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "claude-rpg",
		Usage: "tmux session observer for AI coding tools",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the observer service",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:  "config",
				Usage: "configuration maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "write a starter config.toml to the data directory",
						Action: func(ctx *cli.Context) error {
							return runConfigInit(ctx.Context, deps, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "database maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "create or update the event database schema",
						Action: func(ctx *cli.Context) error {
							return runMigrateUp(ctx.Context, deps, loadConfig(deps))
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}

func runConfigInit(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunConfigInit == nil {
		return errors.New("config init runner is not configured")
	}
	return deps.RunConfigInit(ctx, cfg)
}
