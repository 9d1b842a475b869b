// Package apiclient is the single shared HTTP client for the Kings
// Collections REST backend: JSON in and out, credentials, 401 handling,
// classified retry with exponential backoff and an optional circuit breaker.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kings-storefront/internal/logger"
	"kings-storefront/internal/telemetry"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:3005"

const maxBodyBytes = 10 << 20

// Executor sends a prepared request. *http.Client satisfies it.
type Executor interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	exec           Executor
	auth           AuthStrategy
	retry          RetryPolicy
	pathPolicies   []pathPolicy
	breaker        *Breaker
	onUnauthorized UnauthorizedHandler
	log            *logrus.Entry
}

type pathPolicy struct {
	prefix string
	policy RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithExecutor replaces the default traced *http.Client.
func WithExecutor(e Executor) Option { return func(c *Client) { c.exec = e } }

// WithAuth sets the credential strategy. The default is CookieAuth.
func WithAuth(a AuthStrategy) Option { return func(c *Client) { c.auth = a } }

// WithRetryPolicy sets the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option { return func(c *Client) { c.retry = p } }

// WithPathPolicy overrides the retry policy for paths starting with prefix.
// The longest matching prefix wins.
func WithPathPolicy(prefix string, p RetryPolicy) Option {
	return func(c *Client) {
		c.pathPolicies = append(c.pathPolicies, pathPolicy{prefix: prefix, policy: p})
	}
}

// WithBreaker enables a circuit breaker shared by all requests.
func WithBreaker(b *Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithUnauthorizedHandler sets the hook run on every 401.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) { c.onUnauthorized = h }
}

// WithLogger sets the log entry used for retry and failure logging.
func WithLogger(l *logrus.Entry) Option { return func(c *Client) { c.log = l } }

// NewHTTPClient builds the default executor: a cookie jar (the session cookie
// travels with every request) and a traced transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: telemetry.Transport(nil),
	}
}

// New creates a Client for baseURL ("" means DefaultBaseURL).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		auth:    CookieAuth{},
		retry:   DefaultRetryPolicy(),
		log:     logger.WithModule("apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.exec = NewHTTPClient(30 * time.Second)
	}
	sort.SliceStable(c.pathPolicies, func(i, j int) bool {
		return len(c.pathPolicies[i].prefix) > len(c.pathPolicies[j].prefix)
	})
	return c, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// RequestOption adjusts a single outgoing request.
type RequestOption func(*http.Request)

// WithHeader sets a header on one request.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// Do sends method path with an optional JSON body and decodes a JSON
// response into out (which may be nil). Failures are retried according to
// the policy for path; the last error is returned once attempts run out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("apiclient: encoding %s %s body: %w", method, path, err)
		}
	}

	policy := c.policyFor(path)
	maxAttempts := policy.attempts()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.once(ctx, method, path, payload, out, opts)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !policy.shouldRetry(err) {
			if attempt > 1 {
				return fmt.Errorf("apiclient: giving up after %d attempts: %w", attempt, err)
			}
			return err
		}
		delay := policy.Delay(attempt)
		c.log.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("request failed, retrying")
		if err := policy.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Get is Do with GET.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post is Do with POST.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put is Do with PUT.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Delete is Do with DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) policyFor(path string) RetryPolicy {
	for _, pp := range c.pathPolicies {
		if strings.HasPrefix(path, pp.prefix) {
			return pp.policy
		}
	}
	return c.retry
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid path %q: %w", path, err)
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any, opts []RequestOption) error {
	u, err := c.resolve(path)
	if err != nil {
		return err
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("apiclient: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.Apply(req); err != nil {
		return fmt.Errorf("apiclient: applying credentials: %w", err)
	}
	for _, opt := range opts {
		opt(req)
	}

	// Allow may hand out the half-open trial slot, so it is taken only once
	// the request is certain to be sent.
	if c.breaker != nil && !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	resp, err := c.exec.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.releaseBreaker()
			return ctx.Err()
		}
		c.recordFailure()
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.releaseBreaker()
		if c.onUnauthorized != nil {
			c.onUnauthorized(ctx, req)
		}
		return fmt.Errorf("%w (%s %s)", ErrUnauthorized, method, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("apiclient: reading %s %s response: %w", method, path, err)
	}
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
		if isJSON(contentType, body) {
			apiErr.Message = extractMessage(body)
		} else if len(bytes.TrimSpace(body)) > 0 {
			apiErr.Err = ErrNotJSON
			apiErr.Message = fmt.Sprintf("server returned %s instead of JSON", describeType(contentType))
		}
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		if apiErr.Temporary() {
			c.recordFailure()
		} else {
			c.releaseBreaker()
		}
		return apiErr
	}

	c.recordSuccess()
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if !isJSON(contentType, body) {
		return &APIError{
			Status:  resp.StatusCode,
			Method:  method,
			Path:    path,
			Err:     ErrNotJSON,
			Message: fmt.Sprintf("expected JSON but received %s: %s", describeType(contentType), snippet(body)),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("apiclient: decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.Failure()
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.Success()
	}
}

func (c *Client) releaseBreaker() {
	if c.breaker != nil {
		c.breaker.Release()
	}
}

// isJSON decides by content type, sniffing the body when the header is absent.
func isJSON(contentType string, body []byte) bool {
	if contentType != "" {
		ct := strings.ToLower(contentType)
		return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func extractMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	switch {
	case m.Message != "":
		return m.Message
	case m.Error != "":
		return m.Error
	default:
		return m.Msg
	}
}

func describeType(contentType string) string {
	if contentType == "" {
		return "a response without content type"
	}
	return contentType
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}
