// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/sktrendla/ecotone-dev"
	"github.com/sktrendla/ecotone-dev/connection"
	"github.com/sktrendla/ecotone-dev/internal/config"
)

// app is the state shared by the subcommands.
type app struct {
	envFile string
	flags   config.Config
	cfg     *config.Config
	logger  *log.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "dbal",
		Short: "Run declared SQL write methods.",
		Long: `dbal compiles write method declarations and executes them on a connection
that is reopened before every statement.

Settings are read from DBAL_* environment variables and from the .env file
given with --env-file. Flags override both.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "file with DBAL_* variables")
	flags.StringVar(&a.flags.Driver, "driver", "", "database driver: sqlite3, sqlite, pgx, pgx-native or dqlite")
	flags.StringVar(&a.flags.DSN, "dsn", "", "data source name")
	flags.StringVarP(&a.flags.Declarations, "declarations", "f", "", "YAML declaration file")
	flags.StringVar(&a.flags.LogLevel, "log-level", "", "log level")
	flags.BoolVar(&a.flags.LazyReconnect, "lazy", false, "reconnect only when the connection is found dead")
	flags.StringVar(&a.flags.DqliteNodes, "dqlite-nodes", "", "comma separated dqlite node addresses")

	cmd.AddCommand(a.newCheckCommand(), a.newExecCommand(), a.newPingCommand())
	return cmd
}

// setup loads the configuration and applies the flags set on the command
// line.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("driver") {
		cfg.Driver = a.flags.Driver
	}
	if changed("dsn") {
		cfg.DSN = a.flags.DSN
	}
	if changed("declarations") {
		cfg.Declarations = a.flags.Declarations
	}
	if changed("log-level") {
		cfg.LogLevel = a.flags.LogLevel
	}
	if changed("lazy") {
		cfg.LazyReconnect = a.flags.LazyReconnect
	}
	if changed("dqlite-nodes") {
		cfg.DqliteNodes = a.flags.DqliteNodes
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Level:           cfg.Level(),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "dbal",
	})
	return dbal.RegisterMetrics(prometheus.DefaultRegisterer)
}

// registry loads the declaration file into a new registry.
func (a *app) registry() (*dbal.Registry, error) {
	if a.cfg.Declarations == "" {
		return nil, fmt.Errorf("no declaration file: set DBAL_DECLARATIONS or --declarations")
	}
	registry := dbal.NewRegistry(dbal.WithLogger(a.logger))
	if _, err := registry.RegisterFile(a.cfg.Declarations); err != nil {
		return nil, err
	}
	return registry, nil
}

// manager opens the configured database. The returned func releases it.
func (a *app) manager(ctx context.Context) (*connection.Manager, func(), error) {
	var (
		factory connection.Factory
		release func()
	)
	switch a.cfg.Driver {
	case "pgx-native":
		f, err := connection.ParsePgxFactory(a.cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		factory = f
		release = func() { f.Conn().Close() }
	case "dqlite":
		f, err := connection.OpenDqlite(ctx, a.cfg.Nodes(), a.cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		factory = f
		release = func() {
			f.Conn().Close()
			f.DB().Close()
		}
	case "sqlite3", "sqlite", "pgx":
		f, err := connection.Open(a.cfg.Driver, a.cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		factory = f
		release = func() {
			f.Conn().Close()
			f.DB().Close()
		}
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", a.cfg.Driver)
	}

	opts := []connection.Option{connection.WithLogger(a.logger)}
	if a.cfg.LazyReconnect {
		opts = append(opts, connection.WithLazyReconnect())
	}
	return connection.NewManager(factory, opts...), release, nil
}

func (a *app) newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile every write method of the declaration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.registry()
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				plan, _ := registry.Plan(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d parameters\n", name, plan.Declaration().Returns, len(plan.Declaration().Parameters))
			}
			return nil
		},
	}
}

func (a *app) newExecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec METHOD [NAME=VALUE]...",
		Short: "Execute a write method",
		Long: `Execute a write method of the declaration file. Arguments are given by
parameter name and their values are read as YAML, so that

  dbal exec person.changeRoles personId=1 "roles=[ROLE_ADMIN, ROLE_USER]"

passes an integer and a list of strings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.registry()
			if err != nil {
				return err
			}
			plan, ok := registry.Plan(args[0])
			if !ok {
				return fmt.Errorf("unknown write method %q", args[0])
			}
			values, err := parseArgs(plan.Declaration(), args[1:])
			if err != nil {
				return err
			}

			manager, release, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			outcome, err := plan.Execute(cmd.Context(), manager, values...)
			if err != nil {
				return err
			}
			if v := outcome.Value(); v != nil {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}

func (a *app) newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Report the liveness of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, release, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			cx, err := manager.CreateContext(cmd.Context())
			if err != nil {
				return err
			}
			state := manager.Liveness(cmd.Context(), cx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", manager.ConnectionInstanceID(), state)
			if state == connection.Disconnected {
				return fmt.Errorf("database is unreachable")
			}
			return nil
		},
	}
}

// parseArgs orders NAME=VALUE arguments as the parameters of decl. Values
// are decoded as YAML into the parameter type when there is one.
func parseArgs(decl dbal.Declaration, args []string) ([]any, error) {
	raw := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid argument %q: expected NAME=VALUE", arg)
		}
		if _, ok := raw[name]; ok {
			return nil, fmt.Errorf("argument %q given more than once", name)
		}
		raw[name] = value
	}

	values := make([]any, len(decl.Parameters))
	for i, prm := range decl.Parameters {
		value, ok := raw[prm.Name]
		if !ok {
			return nil, fmt.Errorf("missing argument %q", prm.Name)
		}
		delete(raw, prm.Name)
		if prm.Type != nil {
			v := reflect.New(prm.Type)
			if err := yaml.Unmarshal([]byte(value), v.Interface()); err != nil {
				return nil, fmt.Errorf("argument %q: %s", prm.Name, err)
			}
			values[i] = v.Elem().Interface()
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("argument %q: %s", prm.Name, err)
		}
		values[i] = v
	}
	if len(raw) > 0 {
		unknown := make([]string, 0, len(raw))
		for name := range raw {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown argument %q", unknown[0])
	}
	return values, nil
}
