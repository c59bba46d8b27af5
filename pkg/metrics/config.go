package metrics

// Config holds configuration for the metrics provider
type Config struct {
	// Enabled determines whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled"`

	// Provider specifies which metrics provider to use (prometheus, noop)
	Provider string `mapstructure:"provider"`
}

// NewProviderFromConfig creates a metrics provider based on the configuration
func NewProviderFromConfig(cfg Config) Provider {
	if !cfg.Enabled {
		return &NoOpProvider{}
	}

	switch cfg.Provider {
	case "prometheus", "":
		return NewPrometheusProvider()
	default:
		return &NoOpProvider{}
	}
}
