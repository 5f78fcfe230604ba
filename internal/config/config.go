// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package config loads the settings of the dbal command from the
// environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Config holds the connection and logging settings.
type Config struct {
	Driver        string `env:"DBAL_DRIVER,default=sqlite3"`
	DSN           string `env:"DBAL_DSN"`
	Declarations  string `env:"DBAL_DECLARATIONS"`
	LogLevel      string `env:"DBAL_LOG_LEVEL,default=info"`
	LazyReconnect bool   `env:"DBAL_LAZY_RECONNECT,default=false"`
	// DqliteNodes is a comma separated list of dqlite node addresses.
	DqliteNodes string `env:"DBAL_DQLITE_NODES"`

	Extras env.EnvSet
}

// Load reads the configuration from the process environment. Variables
// defined in dotenv are used when the environment does not set them. A
// missing dotenv file is not an error.
func Load(dotenv string) (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("cannot load configuration: %s", err)
	}
	return load(es, dotenv)
}

func load(es env.EnvSet, dotenv string) (*Config, error) {
	if dotenv != "" {
		vars, err := godotenv.Read(dotenv)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot load configuration: %s", err)
		}
		for k, v := range vars {
			if _, ok := es[k]; !ok {
				es[k] = v
			}
		}
	}

	cfg := &Config{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, fmt.Errorf("cannot load configuration: %s", err)
	}
	cfg.Extras = es
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that can be checked without connecting.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: DBAL_LOG_LEVEL: %s", err)
	}
	if c.Driver == "dqlite" && len(c.Nodes()) == 0 {
		return fmt.Errorf("invalid configuration: DBAL_DQLITE_NODES is required by the dqlite driver")
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Nodes returns the dqlite node addresses.
func (c *Config) Nodes() []string {
	var nodes []string
	for _, n := range strings.Split(c.DqliteNodes, ",") {
		if n = strings.TrimSpace(n); n != "" {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
