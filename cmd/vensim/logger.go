package main

import (
	"github.com/septivank/ven-fleet-simulator/internal/config"
	"github.com/septivank/ven-fleet-simulator/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
