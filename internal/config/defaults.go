package config

// Default values: layer 0 of the override chain.
const (
	defaultRoot            = "auto"
	defaultChunkSize       = "4MiB"
	defaultParallelUploads = 4
	defaultMaxStepRetries  = 5
	defaultLongPollTimeout = "30s"
	defaultBackoff         = "60s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "30s"
	defaultDataTimeout     = "5m"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
// Host fields stay empty; the client fills in the production hosts.
func DefaultConfig() *Config {
	return &Config{
		APIConfig: APIConfig{Root: defaultRoot},
		TransfersConfig: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			ParallelUploads: defaultParallelUploads,
			MaxStepRetries:  defaultMaxStepRetries,
		},
		SyncConfig: SyncConfig{
			LongPollTimeout: defaultLongPollTimeout,
			DefaultBackoff:  defaultBackoff,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
