package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// config is read from an optional YAML file, then the environment. Flags
// given on the command line override both.
type config struct {
	Users       int    `yaml:"users"       env:"LOADTEST_USERS"       env-default:"200"`
	Concurrency int    `yaml:"concurrency" env:"LOADTEST_CONCURRENCY" env-default:"64"`
	Ops         int    `yaml:"ops"         env:"LOADTEST_OPS"         env-default:"20000"`
	BcryptCost  int    `yaml:"bcrypt_cost" env:"LOADTEST_BCRYPT_COST" env-default:"4"`
	RedisAddr   string `yaml:"redis_addr"  env:"REDIS_ADDR"`
	Prefix      string `yaml:"prefix"      env:"LOADTEST_PREFIX"      env-default:"loadtest"`
	SigningKey  string `yaml:"signing_key" env:"LOADTEST_SIGNING_KEY" env-default:"loadtest-signing-key-0123456789abcdef"`
}

func loadConfig(path string) (*config, error) {
	var cfg config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	return &cfg, nil
}

func (c *config) validate() error {
	if c.Users <= 0 || c.Concurrency <= 0 || c.Ops <= 0 {
		return errors.New("users, concurrency, and ops must be > 0")
	}
	if len(c.SigningKey) < 32 {
		return errors.New("signing key must be at least 32 bytes")
	}
	return nil
}
