package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"sharedcal/internal/auth"
	"sharedcal/internal/calview"
	"sharedcal/internal/config"
	"sharedcal/internal/host"
	"sharedcal/internal/layout"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/store"
)

const version = "0.1.0"

// rootOptions holds the persistent flags.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

// app is the state shared by every subcommand: the loaded config and,
// once opened, the store and the host controller.
type app struct {
	opts rootOptions
	fs   afero.Fs
	cfg  *config.Config

	identity auth.Identity
	client   *auth.Client
	store    store.EventStore
	host     *host.Controller
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{fs: afero.NewOsFs()}
	return a.command(), a
}

// command builds the command tree bound to a.
func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sharedcal",
		Short:         "Shared schedule calendar with month, week and day views.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&a.opts.ConfigPath, "config", config.DefaultPath,
		"Path to the YAML config file. Created with defaults on first run.")
	cmd.PersistentFlags().StringVar(&a.opts.LogLevel, "log-level", "",
		"Log level (debug, info, warn, error). Overrides the config file.")

	addServe(cmd, a)
	addShow(cmd, a)
	addSearch(cmd, a)
	addList(cmd, a)
	addImport(cmd, a)
	addLogin(cmd, a)
	addLogout(cmd, a)
	addSnapshot(cmd, a)
	return cmd
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.fs, a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.opts.LogLevel != "" {
		level = a.opts.LogLevel
	}
	lvl, err := appLog.ParseLevel(level)
	if err != nil {
		return err
	}
	appLog.SetLevel(lvl)

	if cfg.Log.File != "" {
		path, err := config.Expand(cfg.Log.File)
		if err != nil {
			return err
		}
		appLog.UseFile(appLog.FileOptions{
			Path:       path,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
	}

	appLog.Debug("effective config",
		"config_path", a.opts.ConfigPath,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"default_view", cfg.DefaultView,
		"store", cfg.Store.Driver,
		"refresh", cfg.RefreshCron,
		"ics_count", len(cfg.ICS),
		"basic_auth", cfg.BasicAuth != nil,
	)
	return nil
}

// cacheDir returns the expanded cache directory joined with elem.
func (a *app) cacheDir(elem ...string) (string, error) {
	dir, err := config.Expand(a.cfg.CacheDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// openIdentity picks the upstream client when auth_url is set and the
// fixed local identity otherwise.
func (a *app) openIdentity() error {
	if a.identity != nil {
		return nil
	}
	if a.cfg.AuthURL == "" {
		a.identity = auth.NewLocal(a.cfg.DisplayName)
		return nil
	}
	sessionPath, err := a.cacheDir("session.json")
	if err != nil {
		return err
	}
	a.client = auth.NewClient(a.cfg.AuthURL, auth.ClientOptions{Fs: a.fs, SessionPath: sessionPath})
	a.identity = a.client
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if err := a.openIdentity(); err != nil {
		return err
	}
	path, err := config.Expand(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	opts := store.Options{
		Driver:  a.cfg.Store.Driver,
		Path:    path,
		DSN:     a.cfg.Store.DSN,
		URL:     a.cfg.Store.URL,
		Timeout: a.cfg.Store.Timeout,
		Retries: a.cfg.Store.Retries,
	}
	if a.client != nil {
		opts.Token = a.client
	}
	s, err := store.Open(ctx, opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	a.store = s
	return nil
}

// openHost opens the store and wires the controller over it.
func (a *app) openHost(ctx context.Context) error {
	if a.host != nil {
		return nil
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.host = host.New(host.Options{
		Store:    a.store,
		Identity: a.identity,
		Engine:   a.engine(),
		Locale:   calview.ParseLocale(a.cfg.Locale),
		Mode:     a.cfg.DefaultView,
		Location: a.cfg.Location(),
	})
	return nil
}

func (a *app) engine() layout.Engine {
	l := a.cfg.Layout
	return layout.Engine{
		Week:     layout.TimePolicy{UnitHeight: l.WeekUnitHeight, MinHeight: l.WeekMinHeight},
		Day:      layout.TimePolicy{UnitHeight: l.DayUnitHeight, MinHeight: l.DayMinHeight},
		MonthCap: l.MonthCellCap,
	}
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			appLog.Warn("closing store failed", "err", err)
		}
		a.store = nil
	}
}
