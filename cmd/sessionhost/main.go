// Package main runs a lobby session host: the authoritative roster, the gRPC session
// service peers join through, and the optional HTTP roster feed.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	name := flag.String("name", "", "host display name (overrides session.host_name)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, observability.ProcessHost)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting session host",
		zap.String("grpc_addr", cfg.GameServer.Addr()),
		zap.Bool("http_enabled", cfg.HTTP.Enabled),
		zap.Int("capacity", cfg.Session.Capacity),
	)

	a, err := initializeApp(cfg, logger)
	if err != nil {
		logger.Fatal("assembling session host", zap.Error(err))
	}

	hostName := cfg.Session.HostName
	if *name != "" {
		hostName = *name
	}
	if err := a.coordinator.StartHost(hostName); err != nil {
		logger.Fatal("starting host", zap.Error(err))
	}

	logger.Info("session host initialized",
		zap.String("session_id", a.coordinator.Snapshot().SessionID),
		zap.Strings("services", a.lifecycle.Names()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := a.lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
