// Package boss talks to the browser-automation sidecar that drives the
// recruiter session on the job platform. The sidecar exposes the candidate
// lists, résumés and messaging actions as a small JSON API.
package boss

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIURL     = "http://127.0.0.1:5001"
	defaultUserAgent  = "spigell/hr-assistant"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second
	maxRetryDelay     = 15 * time.Second
	// Max value for list requests per page.
	perPage = "50"
)

type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	// MaxRetries is the number of extra attempts for transport errors and 5xx responses.
	MaxRetries int
	RetryDelay time.Duration
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	APIURL     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

func New(logger *zap.Logger, token string, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		token:      token,
		logger:     logger,
		APIURL:     defaultAPIURL,
		UserAgent:  defaultUserAgent,
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	if url := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/"); url != "" {
		c.APIURL = url
	}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		c.UserAgent = ua
	}
	if opts.Timeout > 0 {
		c.HTTPClient.Timeout = opts.Timeout
	}
	if opts.MaxRetries > 0 {
		c.MaxRetries = opts.MaxRetries
	}

	return c
}
