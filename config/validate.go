package config

import (
	"fmt"
	"net"
	"strings"
)

// MaxUniformEpochs mirrors the width of the epoch window.
const MaxUniformEpochs = 1000

var logLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if _, ok := logLevels[c.LogLevel]; c.LogLevel != "" && !ok {
		return fmt.Errorf("LogLevel %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.Amortization.Strategy {
	case StrategyEra:
	case StrategyUniform:
		if c.Amortization.UniformEpochs < 1 || c.Amortization.UniformEpochs > MaxUniformEpochs {
			return fmt.Errorf("amortization: UniformEpochs must be within [1, %d]", MaxUniformEpochs)
		}
	default:
		return fmt.Errorf("amortization: unknown strategy %q", c.Amortization.Strategy)
	}
	if addr := strings.TrimSpace(c.MetricsAddress); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("MetricsAddress: %w", err)
		}
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry: ServiceName required when exporting")
	}
	return nil
}
