package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/board"
	"railwars.gg/internal/bridge"
	"railwars.gg/internal/cache"
	"railwars.gg/internal/chain"
	"railwars.gg/internal/config"
	"railwars.gg/internal/jobs"
	"railwars.gg/internal/logging"
	"railwars.gg/internal/persistence/sqlite"
	"railwars.gg/internal/reconcile"
	"railwars.gg/internal/transport/ws"
	"railwars.gg/internal/watcher"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/railwars.yaml", "config file (optional)")
		envFile    = flag.String("env_file", ".env", "dotenv file (optional)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dbPath     = flag.String("db", "", "sqlite path (overrides config)")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}
	if a := strings.TrimSpace(*addr); a != "" {
		cfg.Addr = a
	}
	if p := strings.TrimSpace(*dbPath); p != "" {
		cfg.DBPath = p
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	log := logger.WithFields(logrus.Fields{"instance_id": cfg.InstanceID, "env": cfg.Env})

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	chains := chain.NewRegistry()
	defer chains.Close()
	for _, spec := range cfg.Chains {
		c, err := chain.DialEVM(ctx, spec.ID, spec.RPCURL, logging.Component(logger, "chain"))
		if err != nil {
			// One unreachable chain must not keep the others down.
			log.WithError(err).WithField("chain_id", spec.ID).Error("dial chain")
			continue
		}
		chains.Register(spec.ID, c)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobs.NewMetrics(reg)

	var (
		notifier bridge.Notifier
		hub      *ws.Hub
	)
	if cfg.Relay.URL != "" {
		relay, err := bridge.NewHTTPRelay(bridge.HTTPRelayConfig{
			URL:     cfg.Relay.URL,
			Token:   cfg.Relay.Token,
			Timeout: cfg.Relay.Timeout,
			Logger:  logging.Component(logger, "relay_client"),
		})
		if err != nil {
			return err
		}
		notifier = relay
	} else {
		hub = ws.NewHub(logging.Component(logger, "hub"))
		notifier = bridge.Local{Hub: hub}
		log.Info("no relay url; serving websocket sessions in-process")
	}

	c, purge, err := openCache(cfg.Cache, store, logger)
	if err != nil {
		return err
	}
	defer c.Wait()

	engine := board.NewEngine(store, notifier, board.Options{
		MoveInterval: cfg.Rail.MoveInterval,
		Cache:        c,
		BoardTTL:     cfg.Cache.BoardTTL,
		Logger:       logging.Component(logger, "board"),
	})

	worker := reconcile.NewWorker(store, chains, notifier, reconcile.Config{
		Designated: cfg.OwnershipSyncDesignated(),
		Logger:     logging.Component(logger, "reconcile"),
	})
	if !cfg.OwnershipSyncDesignated() {
		log.WithField("designated", cfg.OwnershipSyncInstance).Warn("not the ownership sync instance; ownership jobs will be acknowledged without effect")
	}

	journal := store.Journal()
	ownership, err := jobs.New(poolConfig("ownership_sync", cfg.Queues.OwnershipSync), worker.Handle, journal, metrics, logger)
	if err != nil {
		return err
	}
	rail, err := jobs.New(poolConfig("rail_tick", cfg.Queues.RailTick), engine.TickHandler(), journal, metrics, logger)
	if err != nil {
		return err
	}
	defer closeQueues(log, ownership, rail)

	if err := recoverJournals(ctx, log, cfg.OwnershipSyncDesignated(), ownership, rail); err != nil {
		return err
	}

	w := watcher.New(store, chains, ownership, logging.Component(logger, "watcher"))
	if _, err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	if cfg.ProductionLike() && cfg.OwnershipSyncDesignated() {
		go func() {
			if _, err := w.ResyncAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("ownership resync")
			}
		}()
	}

	sched, err := board.NewScheduler(store, rail, cfg.Rail.TickSchedule, logging.Component(logger, "scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()
	if purge != nil {
		stop := every(ctx, time.Minute, func(ctx context.Context, now time.Time) {
			if n, err := purge.Purge(ctx, now.UTC()); err != nil {
				log.WithError(err).Warn("purge cache entries")
			} else if n > 0 {
				log.WithField("entries", n).Debug("cache entries purged")
			}
		})
		defer stop()
	}
	// Contracts tracked or replaced by the admin tool are picked up here.
	stopReload := every(ctx, cfg.WatchReload, func(ctx context.Context, _ time.Time) {
		if _, _, err := w.Reload(ctx); err != nil {
			log.WithError(err).Warn("reload tracked contracts")
		}
	})
	defer stopReload()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: newRouter(routerDeps{
			store:   store,
			engine:  engine,
			watcher: w,
			hub:     hub,
			metrics: reg,
			log:     log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", cfg.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func poolConfig(name string, p config.Pool) jobs.Config {
	return jobs.Config{
		Name:          name,
		Concurrency:   p.Concurrency,
		MaxAttempts:   p.MaxAttempts,
		RetryBackoff:  p.RetryBackoff,
		RetryMaxDelay: p.RetryMax,
	}
}

type purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// openCache returns the board/preference cache and, for the sqlite backend,
// its expired-entry purger.
func openCache(cfg config.Cache, store *sqlite.Store, logger *logrus.Logger) (*cache.Cache, purger, error) {
	opts := []cache.Option{cache.WithLogger(logging.Component(logger, "cache"))}
	switch cfg.Backend {
	case "sqlite":
		cs := store.CacheStore()
		return cache.New(cs, opts...), cs, nil
	default:
		mem, err := cache.NewMemory(cfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("memory cache: %w", err)
		}
		return cache.New(mem, opts...), nil, nil
	}
}

// every runs fn on each tick until ctx ends. The returned func stops the
// loop and waits for a running fn.
func every(ctx context.Context, interval time.Duration, fn func(context.Context, time.Time)) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				fn(ctx, now)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// recoverJournals redelivers journaled jobs. The journal is shared by every
// instance, so ownership jobs are left for the designated instance; anywhere
// else they would be acknowledged without effect and lost.
func recoverJournals(ctx context.Context, log logrus.FieldLogger, designated bool, ownership, rail *jobs.Queue) error {
	qs := []*jobs.Queue{rail}
	if designated {
		qs = append(qs, ownership)
	}
	for _, q := range qs {
		n, err := q.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"queue": q.Name(), "jobs": n}).Info("journaled jobs redelivered")
		}
	}
	return nil
}

// closeQueues stops intake and waits for running jobs. Jobs cut short stay
// journaled and are redelivered on the next start.
func closeQueues(log logrus.FieldLogger, qs ...*jobs.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, q := range qs {
		if err := q.Close(ctx); err != nil {
			log.WithError(err).WithField("queue", q.Name()).Warn("close queue")
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
