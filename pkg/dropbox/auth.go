package dropbox

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Authorization errors returned by the OAuth2 flows.
var (
	ErrAuthBadRequest  = errors.New("dropbox: bad authorization redirect")
	ErrAuthBadState    = errors.New("dropbox: authorization state not found")
	ErrAuthCSRF        = errors.New("dropbox: authorization CSRF token mismatch")
	ErrAuthNotApproved = errors.New("dropbox: user did not approve the app")
	ErrAuthProvider    = errors.New("dropbox: authorization provider error")
	ErrAuthTokenType   = errors.New("dropbox: unexpected token type")
	ErrAuthMissingUID  = errors.New("dropbox: token response missing uid")
)

// csrfTokenBytes is the entropy of a web-flow CSRF token. Encoded with
// unpadded URL-safe base64 it is csrfTokenLen characters long.
const (
	csrfTokenBytes = 16
	csrfTokenLen   = 22
)

// AppInfo identifies the registered application.
type AppInfo struct {
	Key    string
	Secret string
}

func (a AppInfo) validate() error {
	if a.Key == "" {
		return &ConfigError{Field: "app_key", Err: errors.New("must not be empty")}
	}

	if a.Secret == "" {
		return &ConfigError{Field: "app_secret", Err: errors.New("must not be empty")}
	}

	return nil
}

// AuthResult is a completed authorization. URLState is the caller state
// passed to WebFlow.Start, empty for the no-redirect flow.
type AuthResult struct {
	Token    *oauth2.Token
	UID      string
	URLState string
}

// oauthFlow holds what both flows share: endpoints, client and logger.
type oauthFlow struct {
	conf       *oauth2.Config
	httpClient *http.Client
	locale     string
	logger     *slog.Logger
}

func newOAuthFlow(app AppInfo, cfg Config, redirectURI string, hc *http.Client, logger *slog.Logger) (oauthFlow, error) {
	if err := app.validate(); err != nil {
		return oauthFlow{}, err
	}

	resolved, err := cfg.withDefaults()
	if err != nil {
		return oauthFlow{}, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	if hc == nil {
		hc = http.DefaultClient
	}

	base := func(host string) string {
		return resolved.Scheme + "://" + host + "/" + resolved.APIVersion
	}

	return oauthFlow{
		conf: &oauth2.Config{
			ClientID:     app.Key,
			ClientSecret: app.Secret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base(resolved.WebHost) + "/oauth2/authorize",
				TokenURL:  base(resolved.APIHost) + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: redirectURI,
		},
		httpClient: hc,
		locale:     resolved.Locale,
		logger:     logger,
	}, nil
}

func (f oauthFlow) authorizeURL(state string, extra ...oauth2.AuthCodeOption) string {
	if f.locale != "" {
		extra = append(extra, oauth2.SetAuthURLParam("locale", f.locale))
	}

	return f.conf.AuthCodeURL(state, extra...)
}

// exchange trades an authorization code for a bearer token and the uid of
// the authorizing user.
func (f oauthFlow) exchange(ctx context.Context, code string) (*oauth2.Token, string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	tok, err := f.conf.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("dropbox: token exchange failed: %w", err)
	}

	if !strings.EqualFold(tok.TokenType, "bearer") {
		return nil, "", fmt.Errorf("%w: %q", ErrAuthTokenType, tok.TokenType)
	}

	uid := extraString(tok.Extra("uid"))
	if uid == "" {
		return nil, "", ErrAuthMissingUID
	}

	f.logger.Info("authorization code exchanged", slog.String("uid", uid))

	return tok, uid, nil
}

func extraString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// NoRedirectFlow authorizes apps that cannot receive a redirect: the user
// opens the URL from Start, approves, and pastes the shown code into Finish.
type NoRedirectFlow struct {
	oauthFlow
}

// NewNoRedirectFlow creates a NoRedirectFlow. Only the hosts, version and
// locale of cfg are used.
func NewNoRedirectFlow(app AppInfo, cfg Config, hc *http.Client, logger *slog.Logger) (*NoRedirectFlow, error) {
	f, err := newOAuthFlow(app, cfg, "", hc, logger)
	if err != nil {
		return nil, err
	}

	return &NoRedirectFlow{oauthFlow: f}, nil
}

// Start returns the URL the user visits to approve the app.
func (f *NoRedirectFlow) Start() string {
	return f.authorizeURL("")
}

// Finish exchanges the code the user copied from the approval page.
func (f *NoRedirectFlow) Finish(ctx context.Context, code string) (*AuthResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrAuthBadRequest)
	}

	tok, uid, err := f.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Token: tok, UID: uid}, nil
}

// StateStore keeps the CSRF token between WebFlow.Start and Finish, usually
// in the user's web session.
type StateStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryStateStore is an in-process StateStore.
type MemoryStateStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{m: make(map[string]string)}
}

func (s *MemoryStateStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[key]

	return v, ok
}

func (s *MemoryStateStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = value
}

func (s *MemoryStateStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, key)
}

// WebFlow is the redirect-based authorization flow. Start stores a CSRF
// token under sessionKey and embeds it in the state parameter as
// "<csrf>|<url state>"; Finish checks it against the redirect.
type WebFlow struct {
	oauthFlow
	store      StateStore
	sessionKey string
}

// NewWebFlow creates a WebFlow redirecting to redirectURI.
func NewWebFlow(
	app AppInfo, cfg Config, redirectURI string, store StateStore, sessionKey string,
	hc *http.Client, logger *slog.Logger,
) (*WebFlow, error) {
	if redirectURI == "" {
		return nil, &ConfigError{Field: "redirect_uri", Err: errors.New("must not be empty")}
	}

	if store == nil {
		return nil, &ConfigError{Field: "state_store", Err: errors.New("must not be nil")}
	}

	if sessionKey == "" {
		sessionKey = "dropbox-auth-csrf-token"
	}

	f, err := newOAuthFlow(app, cfg, redirectURI, hc, logger)
	if err != nil {
		return nil, err
	}

	return &WebFlow{oauthFlow: f, store: store, sessionKey: sessionKey}, nil
}

// Start generates and stores a CSRF token and returns the authorization URL.
// urlState is handed back by Finish. forceReapprove makes the server ask
// the user again even if the app is already approved.
func (f *WebFlow) Start(urlState string, forceReapprove bool) (string, error) {
	csrf, err := newCSRFToken()
	if err != nil {
		return "", fmt.Errorf("dropbox: generating CSRF token: %w", err)
	}

	state := csrf
	if urlState != "" {
		state += "|" + urlState
	}

	f.store.Set(f.sessionKey, csrf)

	var opts []oauth2.AuthCodeOption
	if forceReapprove {
		opts = append(opts, oauth2.SetAuthURLParam("force_reapprove", "true"))
	}

	return f.authorizeURL(state, opts...), nil
}

// Finish validates the redirect query parameters and, when the user
// approved, exchanges the code. Exactly one of code and error must be set.
func (f *WebFlow) Finish(ctx context.Context, params map[string][]string) (*AuthResult, error) {
	get := func(k string) string {
		if vs := params[k]; len(vs) > 0 {
			return vs[0]
		}

		return ""
	}

	state, code, errParam := get("state"), get("code"), get("error")

	if state == "" {
		return nil, fmt.Errorf("%w: missing query parameter 'state'", ErrAuthBadRequest)
	}

	if (code == "") == (errParam == "") {
		return nil, fmt.Errorf("%w: expected exactly one of 'code' and 'error'", ErrAuthBadRequest)
	}

	stored, ok := f.store.Get(f.sessionKey)
	if !ok {
		return nil, fmt.Errorf("%w: missing CSRF token in session", ErrAuthBadState)
	}

	if len(stored) != csrfTokenLen {
		return nil, fmt.Errorf("%w: stored CSRF token is malformed", ErrAuthBadState)
	}

	givenCSRF, urlState, _ := strings.Cut(state, "|")

	if subtle.ConstantTimeCompare([]byte(stored), []byte(givenCSRF)) != 1 {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrAuthCSRF, stored, givenCSRF)
	}

	f.store.Delete(f.sessionKey)

	if errParam != "" {
		desc := get("error_description")
		if desc == "" {
			desc = "no additional description"
		}

		if errParam == "access_denied" {
			return nil, fmt.Errorf("%w: %s", ErrAuthNotApproved, desc)
		}

		return nil, fmt.Errorf("%w: %s: %s", ErrAuthProvider, errParam, desc)
	}

	tok, uid, err := f.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Token: tok, UID: uid, URLState: urlState}, nil
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
