package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// callbackPath is the path Dropbox redirects to on the local server. The
// full redirect URI must be registered for the app.
const callbackPath = "/callback"

// callbackShutdownTimeout bounds draining the callback server.
const callbackShutdownTimeout = 5 * time.Second

// csrfSessionKey names the CSRF token in the in-memory state store.
const csrfSessionKey = "dropbox-auth-csrf-token"

type browserOptions struct {
	port           int
	forceReapprove bool
	open           func(string) error
}

// callbackResult carries the outcome of the redirect.
type callbackResult struct {
	res *dropbox.AuthResult
	err error
}

// loginWithBrowser runs the redirect flow against a callback server on
// 127.0.0.1. The URL is printed when no browser can be launched.
func loginWithBrowser(
	ctx context.Context, cc *CLIContext, app dropbox.AppInfo, hc *http.Client, opts browserOptions,
) (*dropbox.AuthResult, error) {
	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, opts.port, resultCh, cc.Logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, cc.Logger)

	redirect := fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	flow, err := dropbox.NewWebFlow(app, cc.clientConfig(), redirect,
		dropbox.NewMemoryStateStore(), csrfSessionKey, hc, cc.Logger)
	if err != nil {
		return nil, err
	}

	authURL, err := flow.Start("", opts.forceReapprove)
	if err != nil {
		return nil, err
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, flow, resultCh)
	})

	launchBrowser(authURL, opts.open, cc.Stderr, cc.Logger)

	return waitForCallback(ctx, resultCh)
}

// startCallbackServer listens on 127.0.0.1 at port, or a free port when it
// is 0, and serves mux in the background.
func startCallbackServer(
	ctx context.Context, mux *http.ServeMux, port int, resultCh chan<- callbackResult, logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, 0, fmt.Errorf("binding callback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("callback listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackShutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("callback server: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleCallback finishes the flow with the redirect's query parameters.
// Only the first redirect is reported; later ones are answered and dropped.
func handleCallback(w http.ResponseWriter, r *http.Request, flow *dropbox.WebFlow, resultCh chan<- callbackResult) {
	res, err := flow.Finish(r.Context(), r.URL.Query())
	if err != nil {
		http.Error(w, "Authorization failed: "+err.Error(), http.StatusBadRequest)
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Authorized</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")
	}

	select {
	case resultCh <- callbackResult{res: res, err: err}:
	default:
	}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser opens authURL, falling back to printing it.
func launchBrowser(authURL string, open func(string) error, stderr io.Writer, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if open == nil {
		open = openBrowser
	}

	if err := open(authURL); err != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (*dropbox.AuthResult, error) {
	select {
	case result := <-resultCh:
		return result.res, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("browser login canceled: %w", ctx.Err())
	}
}

// openBrowser starts the platform's URL handler without waiting for it.
func openBrowser(u string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	go cmd.Wait() //nolint:errcheck // reaps the child only

	return nil
}
