package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// VerifyEndpoint is the path of the claim verification endpoint.
	VerifyEndpoint = "/api/claims/verify"

	DefaultBaseURL = "http://13.60.241.86:5000"
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBodyLen  = 512
)

// Verifier checks a single claim.
type Verifier interface {
	Verify(ctx context.Context, claim string) (*Result, error)
}

// VerifyRequest is the body of a verification call.
type VerifyRequest struct {
	Claim string `json:"claim"`
}

// Client talks to the claim verification service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	userAgent  string
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every call. A zero timeout disables the client-side bound.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRateLimit limits the client to perSecond calls per second with the given
// burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient creates a Client pointed at DefaultBaseURL unless overridden.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		userAgent:  "go-go-golems/verinews",
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Timeout returns the configured per-call bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Endpoint returns the full verification URL.
func (c *Client) Endpoint() string {
	return c.baseURL + VerifyEndpoint
}

// Verify posts the claim and decodes the verdict. Every error returned wraps
// one of ErrTransport, ErrTimeout, ErrCanceled, ErrHTTPStatus or ErrProtocol.
func (c *Client) Verify(ctx context.Context, claim string) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// the limiter refuses early when the wait would overrun the deadline
				return nil, errors.Wrap(ErrTimeout, err.Error())
			}
			return nil, classifyTransportError(ctx, err)
		}
	}

	requestBody, err := json.Marshal(VerifyRequest{Claim: claim})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling verification request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(requestBody))
	if err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = classifyTransportError(ctx, err)
		log.Debug().Err(err).Str("endpoint", c.Endpoint()).Dur("elapsed", time.Since(start)).Msg("verification request failed")
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("verification response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBodyLen {
			snippet = snippet[:maxErrorBodyLen]
		}
		return nil, errors.WithStack(&StatusError{Code: resp.StatusCode, Body: snippet})
	}

	return DecodeResult(body)
}

var _ Verifier = (*Client)(nil)

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, claim string) (*Result, error)

func (f VerifierFunc) Verify(ctx context.Context, claim string) (*Result, error) {
	return f(ctx, claim)
}
