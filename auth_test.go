package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/dropbox-go/internal/tokenfile"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

const accountInfoJSON = `{
	"display_name": "Ada Lovelace", "uid": 12345, "email": "ada@example.com",
	"country": "GB", "referral_link": "https://db.tt/ref", "is_paired": false,
	"team": {"name": "Engines"},
	"quota_info": {"quota": 2147483648, "normal": 1048576, "shared": 0, "datastores": null}
}`

// authServer answers the token exchange, account info and token revocation.
type authServer struct {
	t        *testing.T
	redirect atomic.Value
	revoked  atomic.Bool
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/1/oauth2/token":
		require.NoError(s.t, r.ParseForm())
		s.redirect.Store(r.PostForm.Get("redirect_uri"))

		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, `{"error": "invalid_grant"}`)
			return
		}

		writeJSON(w, http.StatusOK, `{"access_token": "fresh-token", "token_type": "bearer", "uid": "12345"}`)

	case "/1/account/info":
		assert.Equal(s.t, "Bearer fresh-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, accountInfoJSON)

	case "/1/disable_access_token":
		s.revoked.Store(true)
		writeJSON(w, http.StatusOK, `{}`)

	default:
		s.t.Errorf("unexpected request %s", r.URL.Path)
		http.NotFound(w, r)
	}
}

// newAuthCLI returns a CLI that has no access token configured, so the
// saved token file is used.
func newAuthCLI(t *testing.T) (*testCLI, *authServer) {
	srv := &authServer{t: t}
	tc := newTestCLI(t, srv)
	tc.cc.Cfg.AccessToken = ""

	return tc, srv
}

func saveTestToken(t *testing.T, tc *testCLI) {
	t.Helper()

	require.NoError(t, tokenfile.Save(tc.cc.Cfg.TokenPath(), &tokenfile.File{
		Token:   &oauth2.Token{AccessToken: "fresh-token", TokenType: "bearer"},
		Account: tokenfile.Account{UID: "12345"},
	}))
}

func TestLogin_WithCode(t *testing.T) {
	tc, srv := newAuthCLI(t)
	tc.stdin = strings.NewReader("good-code\n")

	require.NoError(t, tc.run("login"))

	assert.Contains(t, tc.stderr.String(), "/1/oauth2/authorize?")
	assert.Contains(t, tc.stderr.String(), "Logged in as Ada Lovelace.")

	f, err := tokenfile.Load(tc.cc.Cfg.TokenPath())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "fresh-token", f.Token.AccessToken)
	assert.Equal(t, "ada@example.com", f.Account.Email)
	assert.Equal(t, "", srv.redirect.Load())
}

func TestLogin_BadCode(t *testing.T) {
	tc, _ := newAuthCLI(t)
	tc.stdin = strings.NewReader("wrong\n")

	require.Error(t, tc.run("login"))

	f, err := tokenfile.Load(tc.cc.Cfg.TokenPath())
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLogin_EmptyInput(t *testing.T) {
	tc, _ := newAuthCLI(t)
	tc.stdin = strings.NewReader("")

	assert.ErrorContains(t, tc.run("login"), "reading authorization code")
}

func TestLoginWithBrowser_CallbackCompletesFlow(t *testing.T) {
	tc, srv := newAuthCLI(t)

	app, err := tc.cc.Cfg.AppInfo()
	require.NoError(t, err)

	var page string

	open := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}

		q := u.Query()
		assert.Equal(t, "true", q.Get("force_reapprove"))

		cb := q.Get("redirect_uri") + "?" + url.Values{"state": {q.Get("state")}, "code": {"good-code"}}.Encode()

		resp, err := http.Get(cb) //nolint:noctx // test-only request to the local callback
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		buf := new(strings.Builder)
		_, _ = io.Copy(buf, resp.Body)
		page = buf.String()

		return nil
	}

	res, err := loginWithBrowser(context.Background(), tc.cc, app, http.DefaultClient,
		browserOptions{forceReapprove: true, open: open})
	require.NoError(t, err)

	assert.Equal(t, "fresh-token", res.Token.AccessToken)
	assert.Equal(t, "12345", res.UID)
	assert.Contains(t, page, "Authorized")
	assert.Regexp(t, `^http://localhost:\d+/callback$`, srv.redirect.Load())
}

func TestLoginWithBrowser_DeniedAccess(t *testing.T) {
	tc, _ := newAuthCLI(t)

	app, err := tc.cc.Cfg.AppInfo()
	require.NoError(t, err)

	open := func(authURL string) error {
		u, _ := url.Parse(authURL)
		q := u.Query()

		cb := q.Get("redirect_uri") + "?" + url.Values{"state": {q.Get("state")}, "error": {"access_denied"}}.Encode()

		resp, err := http.Get(cb) //nolint:noctx // test-only request to the local callback
		if err != nil {
			return err
		}

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		return resp.Body.Close()
	}

	_, err = loginWithBrowser(context.Background(), tc.cc, app, http.DefaultClient, browserOptions{open: open})
	assert.ErrorIs(t, err, dropbox.ErrAuthNotApproved)
}

func TestLoginWithBrowser_PrintsURLAndHonorsCancel(t *testing.T) {
	tc, _ := newAuthCLI(t)

	app, err := tc.cc.Cfg.AppInfo()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = loginWithBrowser(ctx, tc.cc, app, http.DefaultClient, browserOptions{
		open: func(string) error { return errors.New("no display") },
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, tc.stderr.String(), "Open this URL in your browser:")
}

func TestWhoami_JSON(t *testing.T) {
	tc, _ := newAuthCLI(t)
	saveTestToken(t, tc)

	require.NoError(t, tc.run("--json", "whoami"))

	out := tc.stdout.String()
	assert.Contains(t, out, `"uid": "12345"`)
	assert.Contains(t, out, `"team": "Engines"`)
	assert.Contains(t, out, `"quota_used": 1048576`)
}

func TestWhoami_Text(t *testing.T) {
	tc, _ := newAuthCLI(t)
	saveTestToken(t, tc)

	require.NoError(t, tc.run("whoami"))

	out := tc.stdout.String()
	assert.Contains(t, out, "Ada Lovelace <ada@example.com> (uid 12345)")
	assert.Contains(t, out, "Quota: 1.0 MiB of 2.0 GiB used")
}

func TestLogout_RevokesAndForgets(t *testing.T) {
	tc, srv := newAuthCLI(t)
	saveTestToken(t, tc)

	require.NoError(t, tc.run("logout"))
	assert.True(t, srv.revoked.Load())

	f, err := tokenfile.Load(tc.cc.Cfg.TokenPath())
	require.NoError(t, err)
	assert.Nil(t, f)

	require.NoError(t, tc.run("logout"))
	assert.Contains(t, tc.stderr.String(), "Not logged in.")
}

func TestLogout_LocalSkipsRevocation(t *testing.T) {
	tc, srv := newAuthCLI(t)
	saveTestToken(t, tc)

	require.NoError(t, tc.run("logout", "--local"))
	assert.False(t, srv.revoked.Load())
}
