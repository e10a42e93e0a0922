package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// State file names inside the state directory.
const (
	tokenFileName  = "token.json"
	mirrorDBName   = "mirror.db"
	uploadsDirName = "uploads"
)

// Resolved is the effective configuration after every override layer, with
// sizes and durations parsed.
type Resolved struct {
	ConfigPath  string
	AccessToken string `json:"-"`

	AppKey    string
	AppSecret string `json:"-"`

	Root        dropbox.Root
	Locale      string
	APIHost     string
	ContentHost string
	NotifyHost  string
	WebHost     string
	APIVersion  string

	ChunkSize       int64
	ParallelUploads int
	MaxStepRetries  int

	PathPrefix      string
	LongPollTimeout time.Duration
	DefaultBackoff  time.Duration
	StateDir        string

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	UserAgent      string
	TrustedCerts   string
}

// resolve validates cfg and converts it to typed values. All problems are
// reported together.
func resolve(cfg *Config) (*Resolved, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	// Validate has already checked every value parsed below.
	root, _ := dropbox.ParseRoot(cfg.Root)
	chunk, _ := ParseSize(cfg.ChunkSize)
	longPoll, _ := time.ParseDuration(cfg.LongPollTimeout)
	backoff, _ := time.ParseDuration(cfg.DefaultBackoff)
	connect, _ := time.ParseDuration(cfg.ConnectTimeout)
	data, _ := time.ParseDuration(cfg.DataTimeout)

	stateDir := expandTilde(cfg.StateDir)
	if stateDir == "" {
		stateDir = DefaultDataDir()
	}

	return &Resolved{
		AppKey:          cfg.AppKey,
		AppSecret:       cfg.AppSecret,
		Root:            root,
		Locale:          cfg.Locale,
		APIHost:         cfg.APIHost,
		ContentHost:     cfg.ContentHost,
		NotifyHost:      cfg.NotifyHost,
		WebHost:         cfg.WebHost,
		APIVersion:      cfg.APIVersion,
		ChunkSize:       chunk,
		ParallelUploads: cfg.ParallelUploads,
		MaxStepRetries:  cfg.MaxStepRetries,
		PathPrefix:      cfg.PathPrefix,
		LongPollTimeout: longPoll,
		DefaultBackoff:  backoff,
		StateDir:        stateDir,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
		ConnectTimeout:  connect,
		DataTimeout:     data,
		UserAgent:       cfg.UserAgent,
		TrustedCerts:    expandTilde(cfg.TrustedCerts),
	}, nil
}

// ClientConfig is the dropbox.Config for this configuration. Empty hosts
// are left for the client to default.
func (r *Resolved) ClientConfig() dropbox.Config {
	return dropbox.Config{
		APIHost:     r.APIHost,
		ContentHost: r.ContentHost,
		NotifyHost:  r.NotifyHost,
		WebHost:     r.WebHost,
		APIVersion:  r.APIVersion,
		Root:        r.Root,
		Locale:      r.Locale,
		UserAgent:   r.UserAgent,
	}
}

// TransportOptions is the HTTP transport configuration.
func (r *Resolved) TransportOptions() dropbox.TransportOptions {
	return dropbox.TransportOptions{
		ConnectTimeout:   r.ConnectTimeout,
		DataTimeout:      r.DataTimeout,
		TrustedCertsFile: r.TrustedCerts,
	}
}

// AppInfo returns the app credentials, or an error naming the missing key.
func (r *Resolved) AppInfo() (dropbox.AppInfo, error) {
	var errs []error

	if r.AppKey == "" {
		errs = append(errs, errors.New("app_key: required for login"))
	}

	if r.AppSecret == "" {
		errs = append(errs, errors.New("app_secret: required for login"))
	}

	if len(errs) > 0 {
		return dropbox.AppInfo{}, fmt.Errorf("config %s: %w", r.ConfigPath, errors.Join(errs...))
	}

	return dropbox.AppInfo{Key: r.AppKey, Secret: r.AppSecret}, nil
}

// TokenPath is where the login is saved.
func (r *Resolved) TokenPath() string {
	return filepath.Join(r.StateDir, tokenFileName)
}

// MirrorDBPath is the SQLite database of the delta mirror.
func (r *Resolved) MirrorDBPath() string {
	return filepath.Join(r.StateDir, mirrorDBName)
}

// UploadsDir holds resumable upload records.
func (r *Resolved) UploadsDir() string {
	return filepath.Join(r.StateDir, uploadsDirName)
}
