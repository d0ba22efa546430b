// Command accounts-migrate applies the Postgres schema used by
// storage/postgres.
//
//	accounts-migrate [-config path] [up|version]
//
// The database URL comes from the config file or DATABASE_URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/goAccounts/storage/postgres"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type config struct {
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL" env-required:"true"`
	Timeout     time.Duration `yaml:"timeout"      env:"MIGRATE_TIMEOUT" env-default:"1m"`
}

func loadConfig(path string) (*config, error) {
	var cfg config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configPath, flag.Arg(0), logger); err != nil {
		logger.Error("migrate failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(configPath, command string, logger *zap.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	switch command {
	case "", "up":
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		fallthrough
	case "version":
		v, err := postgres.SchemaVersion(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("schema version", zap.Int64("version", v))
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
