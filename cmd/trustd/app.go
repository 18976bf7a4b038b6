package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	trust "github.com/goliatone/go-trust"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/urfave/cli/v2"
)

const configKey = "trustd.config"

// App returns the trustd CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "trustd",
		Usage:   "session, invitation and ownership service",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		Flags:   globalFlags(),
		Before:  loadConfig,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			userCommand(),
			inviteCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML configuration file",
			EnvVars: []string{"TRUSTD_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "env-prefix",
			Usage: "prefix of environment variables overriding the configuration",
			Value: trust.DefaultEnvPrefix,
		},
	}
}

func loadConfig(c *cli.Context) error {
	cfg, err := trust.LoadConfig(c.String("config"), c.String("env-prefix"))
	if err != nil {
		return err
	}
	c.App.Metadata = map[string]any{configKey: cfg}
	return nil
}

func configFrom(c *cli.Context) trust.Config {
	if cfg, ok := c.App.Metadata[configKey].(trust.Config); ok {
		return cfg
	}
	return trust.DefaultConfig()
}

func openDB(cfg trust.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func openRedis(ctx context.Context, cfg trust.RedisConfig, logger hclog.Logger) (*redis.Client, error) {
	client := redis.NewClient(cfg.RedisOptions())

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	logger.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
