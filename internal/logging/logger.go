package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a structured logger for the given service. Development
// mode switches to the human-readable console encoder.
func NewLogger(serviceName, env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	return cfg.Build()
}
