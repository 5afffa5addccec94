package boss

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/utils"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	maxErrorBody    = 512
)

type ItemResponse struct {
	Items   []Item
	Found   int
	Pages   int
	Page    int
	PerPage int `json:"per_page"`
}

type Item interface{}

// StatusError is returned for unexpected sidecar responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: bad status: %s: %s", e.Method, e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: bad status: %s", e.Method, e.URL, e.Status)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// getItems makes GET requests to the sidecar and returns items from all pages.
func (c *Client) getItems(ctx context.Context, path string, q url.Values) ([]Item, error) {
	if q == nil {
		q = url.Values{}
	}
	if q.Get("per_page") == "" {
		q.Set("per_page", perPage)
	}

	var items []Item
	page := 0
	for {
		q.Set("page", strconv.Itoa(page))

		var response ItemResponse
		if err := c.getJSON(ctx, path, q, &response); err != nil {
			return nil, err
		}

		c.logger.Debug("got response from sidecar",
			zap.String("path", path),
			zap.Int("page", response.Page),
			zap.Int("pages", response.Pages),
			zap.Int("max items per page", response.PerPage),
		)

		items = append(items, response.Items...)

		if response.Page >= response.Pages-1 {
			return items, nil
		}

		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))
		page = response.Page + 1
	}
}

// decodeItems converts loosely typed list items into target using json tags.
func decodeItems(items []Item, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(items)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, target any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, target)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, target any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, body, target)
}

// do sends the request, retrying temporary failures, and decodes the JSON response into target.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, target any) error {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.Backoff(c.RetryDelay, maxRetryDelay, attempt)
			c.logger.Debug("retrying sidecar request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := utils.WaitFor(ctx, delay); err != nil {
				return err
			}
		}

		err := c.once(ctx, method, path, q, body, target)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			return err
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.MaxRetries+1, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, q url.Values, body []byte, target any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIURL+path, reader)
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gzipReader.Close()
		payload = gzipReader
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return &StatusError{
			Method: method,
			URL:    path,
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   string(bytes.TrimSpace(data)),
		}
	}

	if target == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
