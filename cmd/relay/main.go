// Command relay is the realtime process: it accepts notifications from
// engine instances and pushes them to websocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/config"
	"railwars.gg/internal/logging"
	persistlog "railwars.gg/internal/persistence/log"
	"railwars.gg/internal/transport/relay"
	"railwars.gg/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/railwars.yaml", "config file (optional)")
		envFile    = flag.String("env_file", ".env", "dotenv file (optional)")
		listen     = flag.String("listen", "", "listen address (overrides relay.listen)")
		noJournal  = flag.Bool("no_journal", false, "do not journal relayed notifications")
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
	addr := cfg.Relay.Listen
	if a := strings.TrimSpace(*listen); a != "" {
		addr = a
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err := run(cfg.Relay, addr, !*noJournal, logger); err != nil {
		logger.WithError(err).Fatal("relay stopped")
	}
}

func run(cfg config.Relay, addr string, journaled bool, logger *logrus.Logger) error {
	log := logging.Component(logger, "relay")

	hub := ws.NewHub(logging.Component(logger, "hub"))
	rcfg := relay.Config{
		Token:  cfg.Token,
		Hub:    hub,
		WS:     ws.NewServer(hub, logging.Component(logger, "ws")).Handler(),
		Logger: log,
	}
	if journaled {
		journal := persistlog.NewNotificationLog(cfg.JournalDir)
		defer journal.Close()
		rcfg.Recorder = journal
	}
	if rcfg.Token == "" {
		log.Warn("relay token is empty; any caller may publish")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewServer(rcfg).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
