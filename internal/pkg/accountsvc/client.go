// Package accountsvc talks to the external account service. The ledger treats
// it as a soft dependency: unreachable means ErrUnavailable, and callers decide
// whether to skip the dependent action.
package accountsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const defaultTimeout = 10 * time.Second

var (
	// ErrUserNotFound is returned when the account service reports no such user
	ErrUserNotFound = errors.New("user not found in account service")

	// ErrUnavailable is returned on timeouts and network failures
	ErrUnavailable = errors.New("account service unavailable")
)

// Client represents the account service HTTP client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// SubscriptionCredits describes the credits granted for one subscription period.
type SubscriptionCredits struct {
	Amount    int64     `json:"amount"`
	PeriodEnd time.Time `json:"period_end"`
}

// NewClient creates a new account service client. An empty baseURL yields a
// client whose calls all report ErrUnavailable.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// UserExists verifies that the user is known to the account service.
func (c *Client) UserExists(ctx context.Context, userID uuid.UUID) error {
	resp, err := c.get(ctx, "/internal/users/"+userID.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUserNotFound
	}
	return fmt.Errorf("account service user check: status=%d", resp.StatusCode)
}

// GetSubscriptionCredits looks up the credit grant for the user's current
// subscription period.
func (c *Client) GetSubscriptionCredits(ctx context.Context, userID uuid.UUID) (*SubscriptionCredits, error) {
	resp, err := c.get(ctx, "/internal/users/"+userID.String()+"/subscription-credits")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("account service subscription lookup: status=%d body=%s", resp.StatusCode, string(body))
	}

	var sc SubscriptionCredits
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		return nil, fmt.Errorf("account service subscription lookup: %w", err)
	}
	return &sc, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c == nil || c.http == nil || c.baseURL == "" {
		return nil, ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("account service request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutError(ctx, err) || isNetworkError(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("account service request: %w", err)
	}
	return resp, nil
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	return false
}
