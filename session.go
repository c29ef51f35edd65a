package m3api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aidarkhanov/nanoid"

	"github.com/simon04/m3api/internal/clock"
)

const requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// urlParamNames are the only parameters sent in the URL of a POST request.
var urlParamNames = []string{"action", "origin"}

// Session makes requests against one API endpoint. It is safe for
// concurrent use.
type Session struct {
	apiURL         string
	transport      Transport
	defaultParams  Params
	defaultOptions []RequestOption
	logger         Logger
	debug          bool
	requestIDGen   func() string
	metrics        *MetricsCollector
	combiner       *combiner
	clock          clock.Clock
	tokens         *tokenCache

	warnedDefaultUserAgent atomic.Bool
}

// call is one logical request threaded through every retry.
type call struct {
	requestID string
	params    Params
	opts      Options
	warn      WarnFunc
	userAgent string
	// deadline is fixed when the logical request starts.
	deadline time.Time
}

// New creates a session for apiURL. A bare host such as "en.wikipedia.org"
// expands to "https://en.wikipedia.org/w/api.php".
func New(apiURL string, options ...Option) *Session {
	s := &Session{
		apiURL:        expandAPIURL(apiURL),
		defaultParams: Params{},
		logger:        NewZapLogger(nil),
		requestIDGen:  defaultRequestID,
		clock:         clock.Real{},
		tokens:        newTokenCache(),
	}

	for _, option := range options {
		option(s)
	}

	if s.debug {
		info := GetVersionInfo()
		s.logger.Debug("Session created", "apiURL", s.apiURL, "version", info["version"], "goVersion", info["go_version"])
	}

	return s
}

// APIURL returns the endpoint the session talks to.
func (s *Session) APIURL() string {
	return s.apiURL
}

// Request makes one API request and returns the response body. Transient
// conditions (Retry-After, maxlag, readonly, bad token) are retried while
// the retry budget lasts. Response errors are returned as *APIErrors;
// warnings go to the warning handler.
func (s *Session) Request(ctx context.Context, params Params, opts ...RequestOption) (Response, error) {
	return s.do(ctx, params, composeOptions(s.defaultOptions, opts))
}

// do routes a request through the combiner when it can be merged.
// Continuation requests are never combined: a first-page request merged
// with one carrying "continue" would get a later page.
func (s *Session) do(ctx context.Context, params Params, opts Options) (Response, error) {
	_, continued := params["continue"]
	if s.combiner != nil && opts.Method == MethodGet && opts.TokenType == "" && !continued {
		return s.combiner.request(ctx, params, opts)
	}
	return s.request(ctx, params, opts)
}

func (s *Session) request(ctx context.Context, params Params, opts Options) (Response, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	start := s.clock.Now()
	c := &call{
		requestID: s.requestIDGen(),
		params:    s.fullParams(params),
		opts:      opts,
		warn:      s.warnFunc(opts),
		deadline:  start.Add(seconds(opts.MaxRetriesSeconds)),
	}
	if opts.removedMaxRetries {
		c.warn(fmt.Errorf("%w: maxRetries was replaced by maxRetriesSeconds", ErrRemovedOption))
	}
	c.userAgent = s.userAgent(opts, c.warn)
	if opts.TokenType != "" {
		c.params[opts.TokenName] = tokenPlaceholder{}
	}

	s.debugLog("Starting request", "requestID", c.requestID, "method", opts.Method, "action", c.params["action"])
	s.metrics.RecordRequestStart(opts.Method)

	resp, err := s.dispatchWithRetry(ctx, c, start)

	s.metrics.RecordRequestEnd(opts.Method)
	s.metrics.RecordRequest(opts.Method, outcome(err), s.clock.Now().Sub(start))

	return resp, err
}

// dispatchWithRetry runs the dispatch/evaluate loop until a terminal
// outcome. Retries reuse the original parameters and deadline.
func (s *Session) dispatchWithRetry(ctx context.Context, c *call, start time.Time) (Response, error) {
	for attempt := 1; ; attempt++ {
		raw, err := s.dispatch(ctx, c, attempt)
		if err != nil {
			return nil, s.wrapError(err, c, attempt, start)
		}

		if raw.Status != http.StatusOK {
			s.metrics.RecordError(ErrorTypeStatus, c.opts.Method)
			return nil, &RequestError{
				Type:       ErrorTypeStatus,
				Message:    fmt.Sprintf("API request returned non-200 HTTP status code: %d", raw.Status),
				StatusCode: raw.Status,
				Method:     c.opts.Method,
				RequestID:  c.requestID,
				Attempt:    attempt,
				Duration:   s.clock.Now().Sub(start),
			}
		}
		if raw.Body == nil {
			return nil, &RequestError{
				Type:      ErrorTypeDecode,
				Message:   "API response has no body",
				Method:    c.opts.Method,
				RequestID: c.requestID,
				Attempt:   attempt,
			}
		}

		errs := ResponseErrors(raw.Body)
		if delay, reason, ok := s.retryDelay(c, raw, errs); ok {
			s.debugLog("Scheduling retry", "requestID", c.requestID, "reason", reason, "delay", delay, "attempt", attempt+1)
			s.metrics.RecordRetry(reason)
			if err := s.clock.Sleep(ctx, delay); err != nil {
				return nil, s.wrapError(err, c, attempt, start)
			}
			continue
		}

		if len(errs) > 0 {
			s.metrics.RecordError("API", c.opts.Method)
			return nil, &APIErrors{Errors: errs}
		}

		if warnings := ResponseWarnings(raw.Body); len(warnings) > 0 {
			c.warn(&APIWarnings{Warnings: warnings})
		}
		return raw.Body, nil
	}
}

// dispatch resolves the token placeholder, normalizes the parameters and
// performs one transport call.
func (s *Session) dispatch(ctx context.Context, c *call, attempt int) (*RawResponse, error) {
	params := c.params
	if _, ok := params[c.opts.TokenName].(tokenPlaceholder); ok {
		remaining := c.deadline.Sub(s.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		tokenOpts := c.opts
		tokenOpts.MaxRetriesSeconds = remaining.Seconds()
		tokenOpts.Warn = c.warn

		token, found, err := s.getToken(ctx, c.opts.TokenType, tokenOpts)
		if err != nil {
			return nil, err
		}
		params = mergeParams(params)
		if found {
			params[c.opts.TokenName] = token
		} else {
			s.debugLog("Token not available", "requestID", c.requestID, "tokenType", c.opts.TokenType)
			delete(params, c.opts.TokenName)
		}
	}

	wire := NormalizeParams(params)
	headers := map[string]string{"user-agent": c.userAgent}

	s.debugLog("Sending request", "requestID", c.requestID, "attempt", attempt)
	if c.opts.Method == MethodPost {
		urlParams := make(map[string]string, len(urlParamNames))
		for _, name := range urlParamNames {
			if v, ok := wire[name]; ok {
				urlParams[name] = v
				delete(wire, name)
			}
		}
		return s.transport.Post(ctx, s.apiURL, urlParams, wire, headers)
	}
	return s.transport.Get(ctx, s.apiURL, wire, headers)
}

// retryDelay decides whether the response should be retried and after
// how long. A retry that would end after the deadline is not attempted.
func (s *Session) retryDelay(c *call, raw *RawResponse, errs []Object) (time.Duration, string, bool) {
	withinDeadline := func(d time.Duration) bool {
		return !s.clock.Now().Add(d).After(c.deadline)
	}

	if header, ok := raw.Headers["retry-after"]; ok {
		if d, valid := parseRetryAfter(header, s.clock.Now()); valid && withinDeadline(d) {
			return d, "retry-after", true
		}
	} else if hasErrorCode(errs, "maxlag") {
		if d := seconds(c.opts.RetryAfterMaxlagSeconds); withinDeadline(d) {
			return d, "maxlag", true
		}
	} else if hasErrorCode(errs, "readonly") {
		if d := seconds(c.opts.RetryAfterReadonlySeconds); withinDeadline(d) {
			return d, "readonly", true
		}
	}

	if c.opts.TokenType != "" && hasErrorCode(errs, "badtoken") {
		s.tokens.clear()
		s.metrics.RecordTokenInvalidation()
		if withinDeadline(0) {
			return 0, "badtoken", true
		}
	}

	return 0, "", false
}

func (s *Session) wrapError(err error, c *call, attempt int, start time.Time) error {
	var apiErrs *APIErrors
	if errors.As(err, &apiErrs) {
		return err
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if reqErr.RequestID == "" {
			reqErr.Method = c.opts.Method
			reqErr.RequestID = c.requestID
			reqErr.Attempt = attempt
			reqErr.Duration = s.clock.Now().Sub(start)
			s.metrics.RecordError(reqErr.Type, c.opts.Method)
		}
		return reqErr
	}

	errorType := ErrorTypeNetwork
	message := "transport request failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		errorType = ErrorTypeCancelled
		message = "request cancelled"
	}
	s.metrics.RecordError(errorType, c.opts.Method)

	return &RequestError{
		Type:      errorType,
		Message:   message,
		Cause:     err,
		Method:    c.opts.Method,
		RequestID: c.requestID,
		Attempt:   attempt,
		Duration:  s.clock.Now().Sub(start),
	}
}

// fullParams applies the session defaults and forces format=json.
func (s *Session) fullParams(params Params) Params {
	return mergeParams(s.defaultParams, params, Params{"format": "json"})
}

// warnFunc returns the effective warning handler for opts.
func (s *Session) warnFunc(opts Options) WarnFunc {
	warn := opts.Warn
	if warn == nil {
		warn = LogWarnings(s.logger)
	}
	if opts.DropTruncatedResultWarning {
		warn = dropTruncatedResultWarnings(warn)
	}
	return warn
}

// userAgent returns the header value for opts, warning once per session
// if the caller did not set one.
func (s *Session) userAgent(opts Options, warn WarnFunc) string {
	if opts.UserAgent != "" {
		return opts.UserAgent + " " + LibraryUserAgent()
	}
	if s.warnedDefaultUserAgent.CompareAndSwap(false, true) {
		warn(ErrDefaultUserAgent)
	}
	return LibraryUserAgent()
}

func (s *Session) debugLog(msg string, keysAndValues ...any) {
	if s.debug {
		s.logger.Debug(msg, keysAndValues...)
	}
}

// dropTruncatedResultWarnings filters "result truncated" warnings before
// they reach warn; nothing is forwarded if no other warning remains.
func dropTruncatedResultWarnings(warn WarnFunc) WarnFunc {
	return func(err error) {
		apiWarnings, ok := err.(*APIWarnings)
		if !ok {
			warn(err)
			return
		}
		kept := make([]Object, 0, len(apiWarnings.Warnings))
		for _, w := range apiWarnings.Warnings {
			if !IsTruncatedResultWarning(w) {
				kept = append(kept, w)
			}
		}
		if len(kept) > 0 {
			warn(&APIWarnings{Warnings: kept})
		}
	}
}

// parseRetryAfter parses a Retry-After value in seconds or as an HTTP date
// relative to now.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func expandAPIURL(apiURL string) string {
	if apiURL != "" && !strings.Contains(apiURL, "/") {
		return "https://" + apiURL + "/w/api.php"
	}
	return apiURL
}

func defaultRequestID() string {
	id, err := nanoid.Generate(requestIDAlphabet, 12)
	if err != nil {
		return ""
	}
	return id
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var apiErrs *APIErrors
	if errors.As(err, &apiErrs) {
		return "api_error"
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return strings.ToLower(reqErr.Type)
	}
	return "error"
}
