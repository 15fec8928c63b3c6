package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithVen returns a logger with ven_id field
func WithVen(logger *zap.Logger, venID string) *zap.Logger {
	return logger.With(zap.String("ven_id", venID))
}

// WithTask returns a logger with task field
func WithTask(logger *zap.Logger, task string) *zap.Logger {
	return logger.With(zap.String("task", task))
}
