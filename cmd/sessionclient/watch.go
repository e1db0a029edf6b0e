package main

import (
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/game/session"
)

// watch drives a started client until the join fails, the host ends the session or a
// stop signal arrives, and returns the process exit code. dump runs on every roster
// change and on SIGUSR1.
//
// Precondition: result is the channel StartClient returned for coord's current session.
func watch(coord *session.Coordinator, result <-chan error, changed <-chan struct{}, signals <-chan os.Signal, dump func(), logger *zap.Logger) int {
	done := coord.Done()
	joined := false
	for {
		select {
		case err := <-result:
			if err != nil {
				logger.Error("join failed", zap.Error(err))
				return 1
			}
			joined = true
			result = nil
			logger.Info("joined session")
		case <-changed:
			dump()
		case <-done:
			// The join outcome is queued before done closes, so this never blocks.
			if !joined {
				if err := <-result; err != nil {
					logger.Error("join failed", zap.Error(err))
					return 1
				}
			}
			logger.Info("session ended by host")
			return 0
		case sig := <-signals:
			if sig == syscall.SIGUSR1 {
				dump()
				continue
			}
			logger.Info("shutting down", zap.Stringer("signal", sig))
			coord.Stop()
			if !joined {
				return 1
			}
			return 0
		}
	}
}
