package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"railwars.gg/internal/board"
	"railwars.gg/internal/bridge"
	"railwars.gg/internal/cache"
	"railwars.gg/internal/config"
	"railwars.gg/internal/logging"
	"railwars.gg/internal/persistence/sqlite"
	"railwars.gg/internal/prefs"
	"railwars.gg/internal/protocol"
)

var (
	configPath string
	envFile    string
	dbPath     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect and edit railwars boards, contracts and preferences.",
	Long: `admin works on the store directly. Board edits invalidate the ` +
		`shared cache and are pushed through the relay when one is configured.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/railwars.yaml", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env_file", ".env", "dotenv file (optional)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite path (overrides config)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), errorLine(err))
		os.Exit(1)
	}
}

// errorLine prefixes rule violations with their code so scripts can match on
// it. Usage and I/O errors print as cobra would.
func errorLine(err error) string {
	if code := protocol.CodeOf(err); code != protocol.ErrInternal {
		return fmt.Sprintf("Error [%s]: %v", code, err)
	}
	return "Error: " + err.Error()
}

// env is what one admin invocation works against.
type env struct {
	cfg    config.Config
	store  *sqlite.Store
	cache  *cache.Cache
	engine *board.Engine
	prefs  *prefs.Service
}

func openEnv() (*env, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if p := strings.TrimSpace(dbPath); p != "" {
		cfg.DBPath = p
	}
	// Logs go to stderr so command output stays parseable.
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	notifier, err := newNotifier(cfg.Relay, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	c, err := newCache(cfg.Cache, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{
		cfg:   cfg,
		store: store,
		cache: c,
		engine: board.NewEngine(store, notifier, board.Options{
			MoveInterval: cfg.Rail.MoveInterval,
			Cache:        c,
			BoardTTL:     cfg.Cache.BoardTTL,
			Logger:       logging.Component(logger, "board"),
		}),
		prefs: prefs.New(store, notifier, c, cfg.Cache.PreferenceTTL, logging.Component(logger, "prefs")),
	}, nil
}

func (e *env) Close() {
	e.cache.Wait()
	_ = e.store.Close()
}

// newNotifier posts to the relay when one is configured. Without it the
// edits still land but connected sessions only see them on their next read.
func newNotifier(cfg config.Relay, logger *logrus.Logger) (bridge.Notifier, error) {
	if cfg.URL == "" {
		logger.Debug("no relay url; notifications are not sent")
		return bridge.Nop{}, nil
	}
	relay, err := bridge.NewHTTPRelay(bridge.HTTPRelayConfig{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
		Logger:  logging.Component(logger, "relay_client"),
	})
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// Only the sqlite backend is shared with running servers; a memory cache
// here just scopes reads to this invocation.
func newCache(cfg config.Cache, store *sqlite.Store, logger *logrus.Logger) (*cache.Cache, error) {
	opts := []cache.Option{cache.WithLogger(logging.Component(logger, "cache"))}
	if cfg.Backend == "sqlite" {
		return cache.New(store.CacheStore(), opts...), nil
	}
	mem, err := cache.NewMemory(cfg.Size)
	if err != nil {
		return nil, err
	}
	return cache.New(mem, opts...), nil
}

// withEnv adapts a command body that needs the store.
func withEnv(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}

// withSharedCache is withEnv for edits of cached state. Servers only see
// invalidations made through the shared sqlite cache, so other backends are
// refused rather than leaving servers serving the old board.
func withSharedCache(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		if e.cfg.Cache.Backend != "sqlite" {
			return fmt.Errorf("cache.backend is %q: edits need the shared sqlite cache (RW_CACHE_BACKEND=sqlite) so running servers drop stale reads", e.cfg.Cache.Backend)
		}
		return fn(cmd, e, args)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
