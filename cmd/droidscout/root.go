package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/internal/config"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/adapters/file"
	loamAdapter "github.com/aretw0/droidscout/pkg/adapters/loam"
	"github.com/aretw0/droidscout/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/droidscout/pkg/adapters/redis"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "droidscout",
	Short: "droidscout explores Android applications and maps their functionality",
	Long: `droidscout drives an Android application through adb, builds a Page Transition Graph
of every screen it reaches and distills it into a Functional Dependency Graph.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	addPersistentFlags(rootCmd)
}

// addPersistentFlags declares the flags available to all commands.
func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML or JSON config file")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("store-dir", "", "Directory of the file store (overrides store.dir)")
	cmd.PersistentFlags().String("catalog-dir", "", "Publish functional units as Markdown documents in this directory (enables catalog)")
}

// loadConfig reads --config over the defaults and applies the persistent overrides.
func loadConfig(cmd *cobra.Command) (droidscout.Config, error) {
	cfg := droidscout.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = droidscout.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if dir, _ := cmd.Flags().GetString("store-dir"); dir != "" {
		cfg.Store.Kind = config.StoreFile
		cfg.Store.Dir = dir
	}
	if dir, _ := cmd.Flags().GetString("catalog-dir"); dir != "" {
		cfg.Catalog.Enabled = true
		cfg.Catalog.Dir = dir
	}
	return cfg, nil
}

func newLogger(cfg droidscout.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.LogFormat == "json" {
		return logging.NewJSON(os.Stderr, level), nil
	}
	return logging.New(level), nil
}

// runStore bundles the store selected by the config with the locker it offers, if any,
// and the unit catalog when one is enabled.
type runStore struct {
	store   ports.RunStore
	locker  ports.DistributedLocker
	catalog ports.UnitCatalog
	close   func() error
}

// engineOptions are the options every command that builds an Engine shares.
func (rs runStore) engineOptions(cfg droidscout.Config, logger *slog.Logger) []droidscout.Option {
	opts := []droidscout.Option{
		droidscout.WithConfig(cfg),
		droidscout.WithStore(rs.store),
		droidscout.WithLogger(logger),
	}
	if rs.locker != nil {
		opts = append(opts, droidscout.WithLocker(rs.locker))
	}
	if rs.catalog != nil {
		opts = append(opts, droidscout.WithCatalog(rs.catalog))
	}
	return opts
}

func openStore(cfg droidscout.Config, logger *slog.Logger) runStore {
	rs := openRunStore(cfg)
	if cfg.Catalog.Enabled {
		rs.catalog = loamAdapter.New(cfg.Catalog.Dir, loamAdapter.WithLogger(logger))
	}
	return rs
}

func openRunStore(cfg droidscout.Config) runStore {
	switch cfg.Store.Kind {
	case config.StoreRedis:
		rc := cfg.Store.Redis
		store := redisAdapter.New(rc.Addr, rc.Password, rc.DB,
			redisAdapter.WithPrefix(rc.Prefix),
			redisAdapter.WithTTL(rc.TTL),
		)
		return runStore{
			store:  store,
			locker: redisAdapter.NewLocker(store.Client(), "droidscout:"),
			close:  store.Close,
		}
	case config.StoreMemory:
		return runStore{store: memory.NewStore(), close: func() error { return nil }}
	default:
		return runStore{store: file.New(cfg.Store.Dir), close: func() error { return nil }}
	}
}

// setup is the common prologue of every command that touches stored runs.
func setup(cmd *cobra.Command) (droidscout.Config, *slog.Logger, runStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, nil, runStore{}, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cfg, nil, runStore{}, err
	}
	return cfg, logger, openStore(cfg, logger), nil
}
