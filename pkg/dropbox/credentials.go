package dropbox

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// CredentialSource provides OAuth2 bearer tokens. Token is called once per
// request, so implementations may refresh between calls.
type CredentialSource interface {
	Token() (string, error)
}

// StaticToken is a fixed access token.
type StaticToken string

// Token returns the token, or an error when it is empty.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("dropbox: empty access token")
	}

	return string(t), nil
}

// oauth2Source adapts an oauth2.TokenSource.
type oauth2Source struct {
	ts oauth2.TokenSource
}

func (s oauth2Source) Token() (string, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("dropbox: obtaining token: %w", err)
	}

	return tok.AccessToken, nil
}

// FromTokenSource adapts ts to a CredentialSource.
func FromTokenSource(ts oauth2.TokenSource) CredentialSource {
	return oauth2Source{ts: ts}
}

// NewCredentialSource accepts an access token string, an
// oauth2.TokenSource, an *oauth2.Token or a CredentialSource. Any other
// value is rejected with a *ConfigError wrapping ErrInvalidCredential.
func NewCredentialSource(v any) (CredentialSource, error) {
	switch c := v.(type) {
	case string:
		if c == "" {
			return nil, &ConfigError{Field: "credential", Err: fmt.Errorf("%w: empty token", ErrInvalidCredential)}
		}

		return StaticToken(c), nil
	case CredentialSource:
		return c, nil
	case oauth2.TokenSource:
		return FromTokenSource(c), nil
	case *oauth2.Token:
		if c == nil || c.AccessToken == "" {
			return nil, &ConfigError{Field: "credential", Err: fmt.Errorf("%w: empty token", ErrInvalidCredential)}
		}

		return FromTokenSource(oauth2.StaticTokenSource(c)), nil
	default:
		return nil, &ConfigError{Field: "credential", Err: fmt.Errorf("%w: %T", ErrInvalidCredential, v)}
	}
}
