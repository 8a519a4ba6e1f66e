package config

// Amortization strategies understood by the storage fee amortizer factory.
const (
	StrategyEra     = "era"
	StrategyUniform = "uniform"
)

// Amortization selects how a closed epoch's storage fees are spread forward.
type Amortization struct {
	Strategy string `toml:"Strategy"`
	// UniformEpochs is the number of pools the uniform strategy spreads over.
	UniformEpochs int `toml:"UniformEpochs"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	ServiceName string `toml:"ServiceName"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	// Headers is a comma separated key=value list sent with every export.
	Headers string `toml:"Headers,omitempty"`
	Traces  bool   `toml:"Traces"`
	Metrics bool   `toml:"Metrics"`
}
