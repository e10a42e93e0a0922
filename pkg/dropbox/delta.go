package dropbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// DefaultLongPollTimeout is the server-side wait requested when the caller
// passes zero.
const DefaultLongPollTimeout = 30 * time.Second

// Delta errors.
var (
	ErrPrefixMismatch = errors.New("dropbox: path prefix differs from the one bound to the cursor")
	ErrNoCursor       = errors.New("dropbox: long-poll requires a cursor")
)

// DeltaPage and DeltaEntry are the decoded /delta payloads.
type (
	DeltaPage  = model.DeltaPage
	DeltaEntry = model.DeltaEntry
)

// LongPollResult reports whether changes are waiting. Backoff is the delay
// the server asks for before the next long-poll; zero when it sent none.
type LongPollResult struct {
	Changes bool
	Backoff time.Duration
}

// Delta fetches one page of changes since cursor (empty for the initial
// enumeration), limited to pathPrefix when it is non-empty. The returned
// cursor must be passed back verbatim together with the same prefix.
func (c *Client) Delta(ctx context.Context, cursor, pathPrefix string) (*DeltaPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	if pathPrefix != "" {
		params.Set("path_prefix", FormatPath(pathPrefix, false))
	}

	c.logger.Debug("fetching delta page",
		slog.Bool("initial", cursor == ""),
		slog.String("path_prefix", pathPrefix),
	)

	page, err := callJSON(ctx, c, http.MethodPost, RoleAPI, "/delta", params, model.DecodeDeltaPage)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched delta page",
		slog.Int("entries", len(page.Entries)),
		slog.Bool("reset", page.Reset),
		slog.Bool("has_more", page.HasMore),
	)

	return &page, nil
}

// pollSeconds is timeout in whole seconds, rounded up and never below 1.
func pollSeconds(timeout time.Duration) int {
	return max(int((timeout+time.Second-1)/time.Second), 1)
}

// LongPollDelta blocks until changes are available after cursor or the
// server-side timeout passes. The call never blocks longer than timeout
// plus the configured grace: when that bound elapses it returns
// {Changes: false} and no error. Cancellation of ctx returns an error
// matching ErrCanceled.
func (c *Client) LongPollDelta(
	ctx context.Context, cursor string, timeout time.Duration, pathPrefix string,
) (*LongPollResult, error) {
	if cursor == "" {
		return nil, ErrNoCursor
	}

	if timeout <= 0 {
		timeout = DefaultLongPollTimeout
	}

	params := url.Values{
		"cursor":  {cursor},
		"timeout": {strconv.Itoa(pollSeconds(timeout))},
	}

	if pathPrefix != "" {
		params.Set("path_prefix", FormatPath(pathPrefix, false))
	}

	bound := timeout + c.cfg.LongPollGrace

	pollCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	// The request is expected to outlive the client's data timeout.
	hc := *c.httpClient
	hc.Timeout = 0

	c.logger.Debug("long-polling for changes",
		slog.Duration("timeout", timeout),
		slog.Duration("bound", bound),
	)

	res, err := c.longPoll(pollCtx, &hc, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
			c.logger.Debug("long-poll bound elapsed", slog.Duration("bound", bound))
			return &LongPollResult{}, nil
		}

		return nil, err
	}

	return res, nil
}

func (c *Client) longPoll(ctx context.Context, hc *http.Client, params url.Values) (*LongPollResult, error) {
	resp, err := c.do(ctx, hc, http.MethodGet, RoleNotify, "/longpoll_delta", params, nil, nil)
	if err != nil {
		return nil, err
	}

	lp, err := decodeResponse(resp, model.DecodeLongPollResponse)
	if err != nil {
		return nil, err
	}

	res := &LongPollResult{Changes: lp.Changes}
	if lp.Backoff != nil && *lp.Backoff > 0 {
		res.Backoff = time.Duration(*lp.Backoff) * time.Second
	}

	return res, nil
}

// DeltaSync follows one cursor lineage: the prefix is fixed at creation and
// the cursor advances only when a page is received successfully. It does not
// retry. A DeltaSync is not safe for concurrent use.
type DeltaSync struct {
	client *Client
	cursor string
	prefix string
}

// NewDeltaSync starts a lineage from an initial enumeration.
func NewDeltaSync(c *Client, pathPrefix string) *DeltaSync {
	return &DeltaSync{client: c, prefix: normalizePrefix(pathPrefix)}
}

// ResumeDeltaSync continues a lineage from a saved cursor. pathPrefix must
// be the prefix the cursor was obtained with.
func ResumeDeltaSync(c *Client, cursor, pathPrefix string) *DeltaSync {
	return &DeltaSync{client: c, cursor: cursor, prefix: normalizePrefix(pathPrefix)}
}

// Cursor is the latest cursor, empty before the first page.
func (d *DeltaSync) Cursor() string { return d.cursor }

// Prefix is the path prefix bound to this lineage.
func (d *DeltaSync) Prefix() string { return d.prefix }

// MatchPrefix returns ErrPrefixMismatch when pathPrefix is not the bound prefix.
func (d *DeltaSync) MatchPrefix(pathPrefix string) error {
	if p := normalizePrefix(pathPrefix); p != d.prefix {
		return fmt.Errorf("%w: bound %q, got %q", ErrPrefixMismatch, d.prefix, p)
	}

	return nil
}

// Poll fetches the next page and adopts its cursor. On error the cursor is
// unchanged, so the same call can be repeated.
func (d *DeltaSync) Poll(ctx context.Context) (*DeltaPage, error) {
	page, err := d.client.Delta(ctx, d.cursor, d.prefix)
	if err != nil {
		return nil, err
	}

	d.cursor = page.Cursor

	return page, nil
}

// LongPoll waits for changes after the current cursor.
func (d *DeltaSync) LongPoll(ctx context.Context, timeout time.Duration) (*LongPollResult, error) {
	return d.client.LongPollDelta(ctx, d.cursor, timeout, d.prefix)
}

func normalizePrefix(p string) string {
	if p == "" {
		return ""
	}

	return FormatPath(p, false)
}
