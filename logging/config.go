package logging

import (
	"fmt"

	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Pretty *bool
	Level  zapcore.Level
}

func (c *Config) IsPretty() bool {
	return c.Pretty == nil || *c.Pretty
}

func (c *Config) CreateLogger() (*zap.Logger, error) {
	if c.IsPretty() {
		return prettyconsole.NewLogger(c.Level), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(c.Level)
	cfg.DisableStacktrace = c.Level > zapcore.DebugLevel

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	return log, nil
}
