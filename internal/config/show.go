package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration, after every override
// layer, as annotated TOML-like text. It backs "config show". Secrets are
// never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[app]\n")
	ew.printf("  app_key          = %q\n", r.AppKey)
	ew.printf("  app_secret       = %s\n", redacted(r.AppSecret))

	ew.printf("\n[api]\n")
	ew.printf("  root             = %q\n", string(r.Root))
	ew.printf("  locale           = %q\n", r.Locale)
	ew.printf("  api_host         = %q\n", orDefault(r.APIHost))
	ew.printf("  content_host     = %q\n", orDefault(r.ContentHost))
	ew.printf("  notify_host      = %q\n", orDefault(r.NotifyHost))
	ew.printf("  web_host         = %q\n", orDefault(r.WebHost))

	ew.printf("\n[transfers]\n")
	ew.printf("  chunk_size       = %q\n", FormatSize(r.ChunkSize))
	ew.printf("  parallel_uploads = %d\n", r.ParallelUploads)
	ew.printf("  max_step_retries = %d\n", r.MaxStepRetries)

	ew.printf("\n[sync]\n")
	ew.printf("  path_prefix      = %q\n", r.PathPrefix)
	ew.printf("  longpoll_timeout = %q\n", r.LongPollTimeout.String())
	ew.printf("  default_backoff  = %q\n", r.DefaultBackoff.String())
	ew.printf("  state_dir        = %q\n", r.StateDir)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level        = %q\n", r.LogLevel)
	ew.printf("  log_format       = %q\n", r.LogFormat)

	ew.printf("\n[network]\n")
	ew.printf("  connect_timeout  = %q\n", r.ConnectTimeout.String())
	ew.printf("  data_timeout     = %q\n", r.DataTimeout.String())
	ew.printf("  user_agent       = %q\n", r.UserAgent)
	ew.printf("  trusted_certs    = %q\n", r.TrustedCerts)

	if r.AccessToken != "" {
		ew.printf("\n# access token taken from %s\n", EnvAccessToken)
	}

	return ew.err
}

// errWriter keeps the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func redacted(s string) string {
	if s == "" {
		return `""`
	}

	return `"<redacted>"`
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}

	return s
}
