// chargegate is the authorization gateway for the charging back office.
//
// It classifies every request into the programmatic or the interactive
// chain, serves the partner charging endpoints and the operator console,
// and hands remote start/stop commands to the device command bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/chargegate/migrations"

	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/database"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "CHARGEGATE_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chargegate",
		Short:         "Authorization gateway for remote charging commands",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the configuration file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(opts),
		newOperatorCmd(opts),
		newAPIClientCmd(opts),
		newTokenCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// loadConfig resolves the configuration path. Only the implicit default
// path may be missing; the built-in defaults are used then.
func loadConfig(opts *options) (*config.Config, string, error) {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(configEnvVar); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", fmt.Errorf("loading default config: %w", err)
			}
			return cfg, "", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openStore loads the config and opens the credential database with all
// migrations applied. Administrative subcommands share it.
func openStore(ctx context.Context, opts *options) (*config.Config, *database.DB, error) {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return cfg, db, nil
}
