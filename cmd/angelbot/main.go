package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/channel"
	"github.com/felii30/angel-and-mortal-bot/internal/config"
	"github.com/felii30/angel-and-mortal-bot/internal/directory"
	"github.com/felii30/angel-and-mortal-bot/internal/dispatch"
	"github.com/felii30/angel-and-mortal-bot/internal/domain"
	"github.com/felii30/angel-and-mortal-bot/internal/metrics"
	"github.com/felii30/angel-and-mortal-bot/internal/profile"
	"github.com/felii30/angel-and-mortal-bot/internal/ratelimit"
	"github.com/felii30/angel-and-mortal-bot/internal/relay"
	"github.com/felii30/angel-and-mortal-bot/internal/roster"
	"github.com/felii30/angel-and-mortal-bot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string   // overridable via --config flag
	envFiles   []string // overridable via --env-file
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "angelbot",
		Short: "Angel & Mortal: anonymous relay bot for Telegram",
		Long: `angelbot pairs every participant with a secret angel and a mortal from a
roster file and relays messages between them without revealing who is who.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (.yaml, .json, .jsonc, .toml; default: "+config.DefaultConfigPath()+")")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading config")

	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(bindingsCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the background service"}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads env files and the config. Without an explicit --config a
// missing default file falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		logger.Warn("env file not loaded", "err", err)
	}

	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if configPath == "" && errors.Is(err, fs.ErrNotExist) {
		logger.Info("config not found, using defaults", "path", path)
		cfg = config.Defaults()
		cfg.ApplyEnv()
		return cfg, config.Validate(cfg)
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// setupLogger builds the process logger from config. When log.dir is set the
// output is also written to a file named after the UTC start time.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.Log.Dir != "" {
		if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
			return nil, closeFn, fmt.Errorf("create log dir: %w", err)
		}
		name := time.Now().UTC().Format("2006-01-02-15-04-05") + ".log"
		f, err := os.OpenFile(filepath.Join(cfg.Log.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

// stores bundles the persistence backends selected by storage.backend.
type stores struct {
	bindings domain.BindingStore
	profiles domain.ProfileStore
	close    func() error
}

func openStores(cfg *config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := store.NewSQLiteStore(cfg.Data.DatabasePath(), log)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return &stores{bindings: db, profiles: db, close: db.Close}, nil
	default:
		return &stores{
			bindings: roster.NewBindingFile(cfg.Data.BindingsPath(), log),
			profiles: profile.NewFile(cfg.Data.ProfilesPath()),
			close:    func() error { return nil },
		}, nil
	}
}

func buildLimiter(cfg *config.Config) *ratelimit.Limiter {
	limiter := ratelimit.NewLimiter(ratelimit.Policy{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	})
	for name, rule := range cfg.RateLimit.Overrides {
		limiter.SetPolicy(domain.NormalizeUsername(name), ratelimit.Policy{
			MaxRequests: rule.MaxRequests,
			Window:      time.Duration(rule.WindowSeconds) * time.Second,
		})
	}
	return limiter
}

// loadRoster builds the directory. A ConfigurationError is fatal at startup.
func loadRoster(cfg *config.Config, log *slog.Logger) (*directory.Directory, error) {
	dir := directory.New(log)
	if err := roster.Load(cfg.Data.RosterPath(), dir, log); err != nil {
		return nil, err
	}
	return dir, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway"},
		Short:   "Start the bot (Telegram polling + relay)",
		Long:    "Loads the roster, restores bindings and profiles, and starts relaying. Press Ctrl+C to stop.",
		RunE:    runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token missing: set telegram.token or %s", config.TokenEnv)
	}

	log, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	dir, err := loadRoster(cfg, log)
	if err != nil {
		log.Error("roster rejected", "path", cfg.Data.RosterPath(), "err", err)
		return err
	}
	log.Info("roster loaded", "participants", dir.Len(), "cycles", len(dir.Cycles()))

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := roster.NewRegistry(dir, st.bindings, log)
	if err := registry.LoadBindings(ctx); err != nil {
		return err
	}
	profiles := profile.NewStore(st.profiles, log)
	profiles.Load(ctx)

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:             cfg.Telegram.Token,
		PollTimeout:       cfg.Telegram.PollTimeoutSeconds,
		SendRatePerMinute: cfg.Telegram.SendRatePerMinute,
		SendBurst:         cfg.Telegram.SendBurst,
		Logger:            log,
	})
	if _, err := tg.Connect(); err != nil {
		return err
	}

	engine := relay.NewEngine(relay.Config{
		Directory: dir,
		Registry:  registry,
		Limiter:   buildLimiter(cfg),
		Profiles:  profiles,
		Transport: tg,
		Logger:    log,
	})

	// Queued updates keep their own context so they can finish after the
	// signal; it is cancelled if shutdown times out.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	disp := dispatch.New(workCtx, cfg.Dispatch.Concurrency, log)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Default.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Endpoint, log); err != nil {
				log.Error("metrics server error", "err", err)
			}
		}()
	}

	log.Info("gateway started. Press Ctrl+C to stop.", "version", version)
	runErr := tg.Run(ctx, func(u relay.Update) {
		disp.Submit(u.ChatID, func(ctx context.Context) { engine.Handle(ctx, u) })
	})

	log.Info("shutting down gateway...")
	done := make(chan struct{})
	go func() {
		defer close(done)
		disp.Close()
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("shutdown timed out, abandoning queued updates")
		cancelWork()
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	if err := registry.Persist(context.Background()); err != nil {
		log.Error("final bindings save failed", "err", err)
	}
	log.Info("shutdown complete")
	return errors.Join(runErr, shutdownErr)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the roster and print its pairing cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir, err := loadRoster(cfg, logger)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Roster %s is invalid:\n%v\n", cfg.Data.RosterPath(), err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Roster OK: %d participants\n", dir.Len())
			for i, cycle := range dir.Cycles() {
				fmt.Fprintf(out, "  cycle %d (%d): %s -> %s\n", i+1, len(cycle), strings.Join(cycle, " -> "), cycle[0])
			}
			return nil
		},
	}
}

func bindingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bindings",
		Short: "List which participants have started the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir, err := loadRoster(cfg, logger)
			if err != nil {
				return err
			}
			st, err := openStores(cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			if err := roster.NewRegistry(dir, st.bindings, logger).LoadBindings(cmd.Context()); err != nil {
				return err
			}
			return printBindings(cmd.OutOrStdout(), dir.Participants())
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
				return err
			}
			rosterPath := cfg.Data.RosterPath()
			if _, err := os.Stat(rosterPath); errors.Is(err, fs.ErrNotExist) {
				if err := os.WriteFile(rosterPath, []byte("Player,Angel,Mortal\n"), 0o644); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "data", cfg.Data.Dir, "roster", rosterPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. set rewrites the whole file, so ${VAR} references are saved expanded.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. rateLimit.maxRequests)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. rateLimit.maxRequests 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
