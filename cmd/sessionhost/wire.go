//go:build wireinject

package main

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/gameserver"
	"github.com/cory-johannsen/lobby/internal/server"
)

func initializeApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	wire.Build(
		gameserver.NewSessionServer,
		wire.Bind(new(session.Listener), new(*gameserver.SessionServer)),
		provideDialer,
		provideOptions,
		session.NewCoordinator,
		provideGRPCService,
		provideHTTPService,
		server.NewLifecycle,
		newApp,
	)
	return nil, nil
}
