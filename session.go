package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/dropbox-go/internal/tokenfile"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

var errNotLoggedIn = errors.New("not logged in: run 'dropbox-go login' first")

// Session is an authenticated client for one command invocation.
type Session struct {
	Client *dropbox.Client
	HTTP   *http.Client
	Token  *tokenfile.File
}

// clientConfig is the dropbox.Config for this invocation.
func (cc *CLIContext) clientConfig() dropbox.Config {
	cfg := cc.Cfg.ClientConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "dropbox-go/" + version
	}

	if cc.clientConfigHook != nil {
		cc.clientConfigHook(&cfg)
	}

	return cfg
}

// httpClient builds the transport from the network settings.
func (cc *CLIContext) httpClient() (*http.Client, error) {
	hc, err := dropbox.NewHTTPClient(cc.Cfg.TransportOptions())
	if err != nil {
		return nil, fmt.Errorf("configuring HTTP transport: %w", err)
	}

	return hc, nil
}

// NewSession loads credentials and builds a client. A token in the
// environment takes precedence over the saved login.
func NewSession(_ context.Context, cc *CLIContext) (*Session, error) {
	var (
		creds dropbox.CredentialSource
		saved *tokenfile.File
	)

	if cc.Cfg.AccessToken != "" {
		cc.Logger.Debug("using access token from environment")
		creds = dropbox.StaticToken(cc.Cfg.AccessToken)
	} else {
		f, err := tokenfile.Load(cc.Cfg.TokenPath())
		if err != nil {
			return nil, fmt.Errorf("loading saved login: %w", err)
		}

		if f == nil {
			return nil, errNotLoggedIn
		}

		saved = f
		creds = dropbox.FromTokenSource(oauth2.StaticTokenSource(f.Token))
	}

	hc, err := cc.httpClient()
	if err != nil {
		return nil, err
	}

	client, err := dropbox.NewClient(cc.clientConfig(), hc, creds, cc.Logger)
	if err != nil {
		return nil, err
	}

	if saved != nil {
		cc.Logger.Debug("session ready", slog.String("uid", saved.Account.UID))
	}

	return &Session{Client: client, HTTP: hc, Token: saved}, nil
}
