package main

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/gameserver"
	"github.com/cory-johannsen/lobby/internal/httpapi"
	"github.com/cory-johannsen/lobby/internal/server"
)

// app is the assembled session host.
type app struct {
	coordinator *session.Coordinator
	lifecycle   *server.Lifecycle
}

func provideOptions(cfg config.Config) session.Options {
	return session.OptionsFromConfig(cfg.Session)
}

// provideDialer returns no dialer: the host process never joins another session.
func provideDialer() session.Dialer {
	return nil
}

func provideGRPCService(cfg config.Config, sessions *gameserver.SessionServer, logger *zap.Logger) *gameserver.GRPCService {
	return gameserver.NewGRPCService(cfg.GameServer.Addr(), sessions, logger)
}

func provideHTTPService(cfg config.Config, coord *session.Coordinator, logger *zap.Logger) *httpapi.Service {
	return httpapi.NewService(cfg.HTTP.Addr(), httpapi.Routes(coord, logger), logger)
}

// newApp registers services in start order. The session is added last so it is
// stopped first, which ends every peer stream before the gRPC server drains.
func newApp(
	cfg config.Config,
	coord *session.Coordinator,
	grpcSvc *gameserver.GRPCService,
	httpSvc *httpapi.Service,
	lifecycle *server.Lifecycle,
) *app {
	lifecycle.Add("grpc", grpcSvc)
	if cfg.HTTP.Enabled {
		lifecycle.Add("http", httpSvc)
	}
	lifecycle.Add("session", server.BlockingService(coord.Stop))
	return &app{coordinator: coord, lifecycle: lifecycle}
}
