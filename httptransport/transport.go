// Package httptransport implements m3api.Transport over HTTP using resty.
//
// The underlying client keeps a cookie jar, so session cookies returned by
// the API (for example after logging in) are sent with later requests.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/simon04/m3api"
)

// Option configures a Transport.
type Option func(*Transport)

// Transport sends API requests with a resty client.
type Transport struct {
	client  *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
}

var _ m3api.Transport = (*Transport)(nil)

// New returns a transport with its own cookie jar.
func New(options ...Option) *Transport {
	t := &Transport{
		client: resty.New(),
	}
	for _, option := range options {
		option(t)
	}
	if t.timeout > 0 {
		t.client.SetTimeout(t.timeout)
	}
	return t
}

// WithHTTPClient builds the resty client on top of hc. hc should carry a
// cookie jar if the session logs in.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transport) {
		if hc != nil {
			t.client = resty.NewWithClient(hc)
		}
	}
}

// WithTimeout limits the duration of a single HTTP round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithRateLimit limits outgoing requests to r per second with the given
// burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(t *Transport) {
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(r, burst)
	}
}

// Get sends all parameters in the query string.
func (t *Transport) Get(ctx context.Context, apiURL string, params, headers map[string]string) (*m3api.RawResponse, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(params).
		Get(apiURL)
	if err != nil {
		return nil, err
	}
	return rawResponse(resp)
}

// Post sends urlParams in the query string and bodyParams as a form body.
func (t *Transport) Post(ctx context.Context, apiURL string, urlParams, bodyParams, headers map[string]string) (*m3api.RawResponse, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(urlParams).
		SetFormData(bodyParams).
		Post(apiURL)
	if err != nil {
		return nil, err
	}
	return rawResponse(resp)
}

func (t *Transport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// rawResponse converts resp. The body of a non-200 response is not
// decoded; a 200 response must be a JSON object.
func rawResponse(resp *resty.Response) (*m3api.RawResponse, error) {
	raw := &m3api.RawResponse{
		Status:  resp.StatusCode(),
		Headers: lowerHeaders(resp.Header()),
	}
	if raw.Status != http.StatusOK {
		return raw, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(resp.Body()))
	decoder.UseNumber()
	var body m3api.Response
	if err := decoder.Decode(&body); err != nil {
		return nil, &m3api.RequestError{
			Type:       m3api.ErrorTypeDecode,
			Message:    "API response is not a JSON object",
			Cause:      err,
			StatusCode: raw.Status,
		}
	}
	raw.Body = body
	return raw, nil
}

// lowerHeaders flattens h with lowercase names. Set-Cookie is left to the
// cookie jar.
func lowerHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for name, values := range h {
		name = strings.ToLower(name)
		if name == "set-cookie" || len(values) == 0 {
			continue
		}
		headers[name] = strings.Join(values, ", ")
	}
	return headers
}
