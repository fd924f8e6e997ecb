// Command brokerd runs the in-memory Service-Bus-compatible broker: the
// HTTP transport (Atom/XML admin, JSON messaging), the background
// janitor sweep, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/localzure/brokerd/internal/broker"
	"github.com/localzure/brokerd/internal/config"
	"github.com/localzure/brokerd/internal/health"
	"github.com/localzure/brokerd/internal/janitor"
	"github.com/localzure/brokerd/internal/logging"
	"github.com/localzure/brokerd/transport/httpapi"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config)")
	cronExpr := flag.String("janitor-cron", "", "optional cron expression validated as a sanity check on the sweep cadence")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("brokerd", cfg.Logging.Level, cfg.Logging.Format)
	audit, err := logging.NewAuditSink()
	if err != nil {
		log.Fatalf("initialise audit sink: %v", err)
	}
	defer audit.Sync()

	b := broker.New(cfg, logger, audit)

	checker, err := health.New()
	if err != nil {
		logger.WithField("error", err.Error()).Warn("process health checker unavailable, /health will report limited detail")
	}

	sweepInterval := time.Duration(cfg.Janitor.SweepIntervalSeconds) * time.Second
	j, err := janitor.New(b, sweepInterval, *cronExpr, logger, b.Events)
	if err != nil {
		log.Fatalf("initialise janitor: %v", err)
	}
	j.Start()
	defer j.Stop()

	server := httpapi.New(b, checker)

	listenAddr := determineAddr(*addr, cfg)
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", listenAddr).Info("brokerd listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return host + ":" + strconv.Itoa(port)
}
