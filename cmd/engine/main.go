// Command engine runs the HK CBBC intraday trading engine: it loads a
// multi-underlying YAML config, wires the quote/indicator/strategy/verify/
// risk/trader pipeline for every configured monitor, and serves Prometheus
// metrics and a health check over HTTP.
//
// Boot sequence (grounded on the teacher's main.go):
//  1. flag.Parse() — config path and mock-broker override
//  2. config.Load() — nested YAML + ENGINE_* env overrides
//  3. logging.New() — structured logger for the whole process
//  4. broker wiring — mock gateway for local/dry-run, rest-ws otherwise
//  5. engine construction and Start() — subscribes quotes, launches ticks
//  6. HTTP /healthz + /metrics server
//  7. block on signal.NotifyContext, then graceful shutdown
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/logging"
)

func main() {
	var configPath string
	var forceMock bool
	flag.StringVar(&configPath, "config", "./config.yaml", "Path to the engine's YAML config")
	flag.BoolVar(&forceMock, "mock", false, "Force the in-memory mock gateway regardless of config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.Global.LogLevel, Format: cfg.Global.LogFormat})

	gw := buildGateway(cfg, logger, forceMock)

	eng, err := NewEngine(cfg, logger, gw)
	if err != nil {
		logger.Error("engine: build failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Error("engine: start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("engine started", "monitors", len(cfg.Monitors), "broker", gw.Name())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Global.Port), Handler: mux}
	go func() {
		logger.Info("serving http", "port", cfg.Global.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// buildGateway picks the brokerage gateway implementation from config
// (spec §6 "External interfaces"), matching the teacher's main.go broker
// switch but over the narrower broker.Gateway interface.
func buildGateway(cfg config.Config, logger *slog.Logger, forceMock bool) broker.Gateway {
	if forceMock || strings.EqualFold(cfg.Global.Broker, "mock") || cfg.Global.Broker == "" {
		return broker.NewMockGateway()
	}
	return broker.NewRestWSGateway(broker.Config{
		RESTBaseURL: cfg.Global.BridgeURL,
		WSURL:       cfg.Global.BridgeURL,
		Timeout:     10 * time.Second,
		RetryCount:  3,
		RetryWait:   200 * time.Millisecond,
	}, logging.Component(logger, "gateway"))
}
