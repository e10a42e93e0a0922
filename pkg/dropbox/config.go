package dropbox

import (
	"fmt"
	"strings"
	"time"
)

// Version is reported in the default User-Agent.
const Version = "0.3.0"

// Default hosts and protocol version of the v1 API.
const (
	DefaultAPIHost     = "api.dropbox.com"
	DefaultContentHost = "api-content.dropbox.com"
	DefaultNotifyHost  = "api-notify.dropbox.com"
	DefaultWebHost     = "www.dropbox.com"
	DefaultAPIVersion  = "1"

	// DefaultLongPollGrace is added to the requested long-poll timeout to
	// bound how long LongPollDelta may block.
	DefaultLongPollGrace = 10 * time.Second
)

// Root selects the namespace paths are resolved against.
type Root string

const (
	RootDropbox   Root = "dropbox"
	RootAppFolder Root = "app_folder"
	RootAuto      Root = "auto"
)

// ParseRoot validates s as a Root.
func ParseRoot(s string) (Root, error) {
	switch r := Root(strings.TrimSpace(s)); r {
	case RootDropbox, RootAppFolder, RootAuto:
		return r, nil
	case "":
		return RootAuto, nil
	default:
		return "", &ConfigError{Field: "root", Err: fmt.Errorf("%w: %q", ErrInvalidRoot, s)}
	}
}

// urlComponent is the root as it appears in request paths. App folders are
// addressed as "sandbox" on the wire.
func (r Root) urlComponent() string {
	if r == RootAppFolder {
		return "sandbox"
	}

	return string(r)
}

// HostRole selects which API host a request goes to.
type HostRole int

const (
	RoleAPI HostRole = iota
	RoleContent
	RoleNotify
)

func (r HostRole) String() string {
	switch r {
	case RoleAPI:
		return "api"
	case RoleContent:
		return "content"
	case RoleNotify:
		return "notify"
	default:
		return fmt.Sprintf("HostRole(%d)", int(r))
	}
}

// Config holds the endpoint settings of a Client. It is copied into the
// client at construction and never changed afterwards.
type Config struct {
	APIHost     string
	ContentHost string
	NotifyHost  string
	WebHost     string
	APIVersion  string
	Root        Root
	Locale      string
	UserAgent   string

	// LongPollGrace bounds LongPollDelta at timeout + LongPollGrace.
	LongPollGrace time.Duration

	// Scheme is "https" unless a test points the client at a plain listener.
	Scheme string
}

// DefaultConfig returns the production endpoints with root auto.
func DefaultConfig() Config {
	return Config{
		APIHost:       DefaultAPIHost,
		ContentHost:   DefaultContentHost,
		NotifyHost:    DefaultNotifyHost,
		WebHost:       DefaultWebHost,
		APIVersion:    DefaultAPIVersion,
		Root:          RootAuto,
		UserAgent:     "dropbox-go/" + Version,
		LongPollGrace: DefaultLongPollGrace,
		Scheme:        "https",
	}
}

// withDefaults fills empty fields from DefaultConfig and validates the root.
func (c Config) withDefaults() (Config, error) {
	d := DefaultConfig()

	if c.APIHost == "" {
		c.APIHost = d.APIHost
	}

	if c.ContentHost == "" {
		c.ContentHost = d.ContentHost
	}

	if c.NotifyHost == "" {
		c.NotifyHost = d.NotifyHost
	}

	if c.WebHost == "" {
		c.WebHost = d.WebHost
	}

	if c.APIVersion == "" {
		c.APIVersion = d.APIVersion
	}

	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}

	if c.LongPollGrace <= 0 {
		c.LongPollGrace = d.LongPollGrace
	}

	if c.Scheme == "" {
		c.Scheme = d.Scheme
	}

	root, err := ParseRoot(string(c.Root))
	if err != nil {
		return Config{}, err
	}

	c.Root = root

	return c, nil
}

// host returns the host name for role.
func (c Config) host(role HostRole) string {
	switch role {
	case RoleContent:
		return c.ContentHost
	case RoleNotify:
		return c.NotifyHost
	default:
		return c.APIHost
	}
}
