// Package monzo is the transport for the account API: listing accounts and
// fetching bounded windows of transactions with a bearer credential.
package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

const (
	DefaultBaseURL = "https://api.monzo.com"
	// MaxPageLimit is the largest page the transactions endpoint returns.
	MaxPageLimit = 100
	// MaxWindow is the widest since/before span the endpoint accepts.
	MaxWindow = 8760 * time.Hour
)

// TokenProvider returns the bearer credential for the next request.
type TokenProvider func(ctx context.Context) (string, error)

func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	// Timeout applies when HTTPClient is nil.
	Timeout   time.Duration
	UserAgent string
	// MaxRetries is zero by default: a failed call surfaces immediately.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var out AccountList
	if err := c.getJSON(ctx, "/accounts", nil, validateAccounts, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// ListTransactions fetches one window. Since is inclusive and Before is
// exclusive; records come back ascending by creation time.
func (c *Client) ListTransactions(ctx context.Context, query TransactionsQuery) (TransactionsPage, error) {
	if err := query.validate(); err != nil {
		return TransactionsPage{}, err
	}
	limit := query.Limit
	if limit == 0 {
		limit = MaxPageLimit
	}
	q := url.Values{}
	q.Set("account_id", query.AccountID)
	q.Set("since", ledger.FormatTimestamp(query.Since))
	q.Set("before", ledger.FormatTimestamp(query.Before))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("expand[]", "merchant")
	var out TransactionsPage
	if err := c.getJSON(ctx, "/transactions", q, validateTransactions, &out); err != nil {
		return TransactionsPage{}, err
	}
	return out, nil
}

func (q TransactionsQuery) validate() error {
	if strings.TrimSpace(q.AccountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidQuery)
	}
	if q.Limit < 0 || q.Limit > MaxPageLimit {
		return fmt.Errorf("%w: limit %d outside 1..%d", ErrInvalidQuery, q.Limit, MaxPageLimit)
	}
	if !q.Before.After(q.Since) {
		return fmt.Errorf("%w: before %s is not after since %s", ErrInvalidQuery,
			ledger.FormatTimestamp(q.Before), ledger.FormatTimestamp(q.Since))
	}
	if q.Before.Sub(q.Since) > MaxWindow {
		return fmt.Errorf("%w: window %s exceeds %s", ErrInvalidQuery, q.Before.Sub(q.Since), MaxWindow)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, requestPath string, query url.Values, validate func([]byte) error, out any) error {
	if c.tokenProvider == nil {
		return &AuthError{Err: errors.New("token provider is required")}
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return &AuthError{Err: errors.New("access token is empty")}
	}
	target := c.baseURL + requestPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID())
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &TransportError{Method: http.MethodGet, Path: requestPath, Err: err}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return &TransportError{Method: http.MethodGet, Path: requestPath, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if validate != nil {
				if err := validate(payload); err != nil {
					return &PayloadError{Path: requestPath, Err: err}
				}
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return &PayloadError{Path: requestPath, Err: err}
			}
			return nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &AuthError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Code:       errPayload.Code,
				Message:    errPayload.Message,
			}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}
	}
}

func correlationID() string {
	return "txnsync_" + uuid.NewString()
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
