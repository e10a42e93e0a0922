package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/tokenfile"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize this app with a Dropbox account",
		Long: `Authorize with Dropbox. By default an authorization URL is printed and
the code shown by Dropbox is read from standard input. With --browser a
local callback server receives the redirect instead; its URL
(http://localhost:PORT/callback) must be registered for the app.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("browser", false, "use a browser redirect to a local callback server")
	cmd.Flags().Int("callback-port", 0, "port for the local callback server (0 picks a free port)")
	cmd.Flags().Bool("force-reapprove", false, "ask for approval even if the app is already authorized")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved access token and forget it",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}

	cmd.Flags().Bool("local", false, "only delete the saved token, without revoking it")

	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account and its quota",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	app, err := cc.Cfg.AppInfo()
	if err != nil {
		return err
	}

	hc, err := cc.httpClient()
	if err != nil {
		return err
	}

	browser, _ := cmd.Flags().GetBool("browser")
	port, _ := cmd.Flags().GetInt("callback-port")
	force, _ := cmd.Flags().GetBool("force-reapprove")

	var res *dropbox.AuthResult

	if browser {
		res, err = loginWithBrowser(ctx, cc, app, hc, browserOptions{port: port, forceReapprove: force, open: openBrowser})
	} else {
		res, err = loginWithCode(ctx, cc, app, hc, cmd.InOrStdin())
	}

	if err != nil {
		return err
	}

	tf := &tokenfile.File{Token: res.Token, Account: tokenfile.Account{UID: res.UID}}
	if err := tokenfile.Save(cc.Cfg.TokenPath(), tf); err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("uid", res.UID))

	name := res.UID

	if info := fetchAccount(ctx, cc); info != nil {
		name = info.DisplayName
	}

	cc.Statusf("Logged in as %s.\n", name)

	return nil
}

// loginWithCode runs the no-redirect flow: the user pastes the code.
func loginWithCode(
	ctx context.Context, cc *CLIContext, app dropbox.AppInfo, hc *http.Client, in io.Reader,
) (*dropbox.AuthResult, error) {
	flow, err := dropbox.NewNoRedirectFlow(app, cc.clientConfig(), hc, cc.Logger)
	if err != nil {
		return nil, err
	}

	// The prompt is needed even with --quiet.
	fmt.Fprintf(cc.Stderr, "1. Go to: %s\n2. Click \"Allow\" (you might have to log in first).\n3. Enter the authorization code: ", flow.Start())

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || code == "") {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}

	return flow.Finish(ctx, strings.TrimSpace(code))
}

// fetchAccount caches the account's name and email in the token file.
// Failures are logged; login has already succeeded.
func fetchAccount(ctx context.Context, cc *CLIContext) *model.AccountInfo {
	s, err := NewSession(ctx, cc)
	if err != nil {
		cc.Logger.Warn("account lookup skipped", slog.String("error", err.Error()))
		return nil
	}

	info, err := s.Client.AccountInfo(ctx)
	if err != nil {
		cc.Logger.Warn("account lookup failed", slog.String("error", err.Error()))
		return nil
	}

	if s.Token != nil {
		acct := tokenfile.Account{UID: info.UID, DisplayName: info.DisplayName, Email: info.Email}
		if err := tokenfile.UpdateAccount(cc.Cfg.TokenPath(), acct); err != nil {
			cc.Logger.Warn("caching account failed", slog.String("error", err.Error()))
		}
	}

	return info
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	local, _ := cmd.Flags().GetBool("local")

	saved, err := tokenfile.Load(cc.Cfg.TokenPath())
	if err != nil {
		return err
	}

	if saved == nil {
		cc.Statusf("Not logged in.\n")
		return nil
	}

	if !local {
		s, err := NewSession(ctx, cc)
		if err != nil {
			return err
		}

		if err := s.Client.DisableAccessToken(ctx); err != nil {
			cc.Logger.Warn("revoking token failed, deleting it anyway", slog.String("error", err.Error()))
		}
	}

	if err := tokenfile.Remove(cc.Cfg.TokenPath()); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country,omitempty"`
	Team        string `json:"team,omitempty"`
	QuotaTotal  int64  `json:"quota_total"`
	QuotaUsed   int64  `json:"quota_used"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	info := fetchAccount(cmd.Context(), cc)
	if info == nil {
		s, err := NewSession(cmd.Context(), cc)
		if err != nil {
			return err
		}

		if info, err = s.Client.AccountInfo(cmd.Context()); err != nil {
			return fmt.Errorf("fetching account: %w", err)
		}
	}

	out := whoamiOutput{
		UID:         info.UID,
		DisplayName: info.DisplayName,
		Email:       info.Email,
		Country:     info.Country,
		QuotaTotal:  info.Quota.Quota,
		QuotaUsed:   info.Quota.Used(),
	}

	if info.Team != nil {
		out.Team = info.Team.Name
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	fmt.Fprintf(cc.Stdout, "%s <%s> (uid %s)\n", out.DisplayName, out.Email, out.UID)

	if out.Team != "" {
		fmt.Fprintf(cc.Stdout, "Team:  %s\n", out.Team)
	}

	fmt.Fprintf(cc.Stdout, "Quota: %s of %s used\n", formatSize(out.QuotaUsed), formatSize(out.QuotaTotal))

	return nil
}
