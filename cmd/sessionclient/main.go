// Package main joins a lobby session host and prints the replicated roster after
// every change. SIGUSR1 prints the roster on demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/frontend/bridge"
	"github.com/cory-johannsen/lobby/internal/frontend/render"
	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	addr := flag.String("addr", "", "host session service address (overrides client.host_addr)")
	name := flag.String("name", "", "display name (overrides session.client_name)")
	formatName := flag.String("format", "text", "roster output format: text or yaml")
	color := flag.Bool("color", true, "colorize text output")
	wait := flag.Duration("wait", 0, "wait up to this long for the host to report healthy")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}

	logger, err := observability.NewLogger(cfg.Logging, observability.ProcessClient)
	if err != nil {
		log.Printf("initializing logger: %v", err)
		return 1
	}
	defer logger.Sync()

	format, err := render.ParseFormat(*formatName)
	if err != nil {
		logger.Error("invalid format", zap.Error(err))
		return 2
	}

	hostAddr := cfg.Client.HostAddr
	if *addr != "" {
		hostAddr = *addr
	}
	displayName := cfg.Session.ClientName
	if *name != "" {
		displayName = *name
	}

	if *wait > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), *wait)
		err := bridge.WaitForHost(ctx, hostAddr, logger.Sugar().Debugf)
		cancel()
		if err != nil {
			logger.Error("host not healthy", zap.String("addr", hostAddr), zap.Error(err))
			return 1
		}
	}

	coord := session.NewCoordinator(nil, bridge.NewDialer(logger), session.OptionsFromConfig(cfg.Session), logger)
	defer coord.Stop()

	changed := make(chan struct{}, 1)
	defer coord.Subscribe(func(roster.Mutation) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})()

	dump := func() {
		out, err := render.Snapshot(coord.Snapshot(), format, *color)
		if err != nil {
			logger.Error("rendering roster", zap.Error(err))
			return
		}
		fmt.Print(out)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	start := time.Now()
	result, err := coord.StartClient(hostAddr, displayName)
	if err != nil {
		logger.Error("join failed", zap.String("addr", hostAddr), zap.Error(err))
		return 1
	}
	joinLog := logger.With(zap.String("addr", hostAddr))
	code := watch(coord, result, changed, sigCh, dump, joinLog)
	joinLog.Debug("client exiting", zap.Int("code", code), zap.Duration("elapsed", time.Since(start)))
	return code
}
