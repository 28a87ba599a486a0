// Package logging constructs the node's structured logger. Most
// components take a *zap.SugaredLogger named after itself (e.g.
// "utxo", "tsdc", "syncengine"), following jeongkyun-oh-klaytn's use
// of zap throughout its services.
package logging

import "go.uber.org/zap"

// New builds the base logger for a node. Production config (JSON,
// info level) unless debug is requested.
func New(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Named returns a child logger tagged with component, or a no-op
// logger if base is nil (convenient in tests that don't wire logging).
func Named(base *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if base == nil {
		return zap.NewNop().Sugar()
	}
	return base.Named(component)
}
