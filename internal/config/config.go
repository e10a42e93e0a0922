// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for dropbox-go. Values pass through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags. The file is flat: every key lives at the top level.
package config

// Config is the parsed config file. The embedded sections only group related
// keys in code; in TOML they are all top-level.
type Config struct {
	AppConfig
	APIConfig
	TransfersConfig
	SyncConfig
	LoggingConfig
	NetworkConfig
}

// AppConfig holds the registered application's credentials, needed only
// for login.
type AppConfig struct {
	AppKey    string `toml:"app_key"`
	AppSecret string `toml:"app_secret"`
}

// APIConfig selects the namespace and endpoints.
type APIConfig struct {
	Root        string `toml:"root"`
	Locale      string `toml:"locale"`
	APIHost     string `toml:"api_host"`
	ContentHost string `toml:"content_host"`
	NotifyHost  string `toml:"notify_host"`
	WebHost     string `toml:"web_host"`
	APIVersion  string `toml:"api_version"`
}

// TransfersConfig controls chunked uploads. max_step_retries bounds how
// often one chunk or delta page is retried before the command gives up.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	ParallelUploads int    `toml:"parallel_uploads"`
	MaxStepRetries  int    `toml:"max_step_retries"`
}

// SyncConfig controls the delta mirror.
type SyncConfig struct {
	PathPrefix      string `toml:"path_prefix"`
	LongPollTimeout string `toml:"longpoll_timeout"`
	DefaultBackoff  string `toml:"default_backoff"`
	StateDir        string `toml:"state_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP transport.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	TrustedCerts   string `toml:"trusted_certs"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Root       *string // --root flag
	LogLevel   *string // --log-level, or derived from --verbose/--debug/--quiet
	ChunkSize  *string // --chunk-size flag
	PathPrefix *string // --path-prefix flag
}
