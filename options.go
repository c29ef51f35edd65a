package m3api

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simon04/m3api/internal/clock"
)

// Options is the fully composed configuration of one request.
type Options struct {
	// Method is MethodGet or MethodPost.
	Method string
	// TokenType, if set, fetches a token of this type ("csrf", "login", ...)
	// and sends it as the TokenName parameter.
	TokenType string
	TokenName string
	// UserAgent identifies the caller; the library version is appended.
	UserAgent string
	// MaxRetriesSeconds is the total time budget for retrying one logical
	// request.
	MaxRetriesSeconds         float64
	RetryAfterMaxlagSeconds   float64
	RetryAfterReadonlySeconds float64
	// Warn receives API and advisory warnings. nil means the session
	// logger.
	Warn                       WarnFunc
	DropTruncatedResultWarning bool

	removedMaxRetries bool
}

// DefaultOptions returns the built-in request defaults.
func DefaultOptions() Options {
	return Options{
		Method:                    MethodGet,
		TokenName:                 "token",
		MaxRetriesSeconds:         65,
		RetryAfterMaxlagSeconds:   5,
		RetryAfterReadonlySeconds: 30,
	}
}

// composeOptions applies the option layers to the defaults in order.
func composeOptions(layers ...[]RequestOption) Options {
	opts := DefaultOptions()
	for _, layer := range layers {
		for _, o := range layer {
			if o != nil {
				o(&opts)
			}
		}
	}
	return opts
}

// WithMethod sets the request method; anything but POST means GET.
func WithMethod(method string) RequestOption {
	return func(o *Options) {
		if method == MethodPost {
			o.Method = MethodPost
		} else {
			o.Method = MethodGet
		}
	}
}

// WithTokenType requests a token of the given type; "" disables tokens.
func WithTokenType(tokenType string) RequestOption {
	return func(o *Options) {
		o.TokenType = tokenType
	}
}

// WithTokenName sets the parameter the token is sent as.
func WithTokenName(name string) RequestOption {
	return func(o *Options) {
		if name != "" {
			o.TokenName = name
		}
	}
}

// WithUserAgent sets the caller's user agent.
func WithUserAgent(userAgent string) RequestOption {
	return func(o *Options) {
		o.UserAgent = userAgent
	}
}

// WithMaxRetriesSeconds sets the retry budget. Negative values are ignored;
// zero disables retries.
func WithMaxRetriesSeconds(seconds float64) RequestOption {
	return func(o *Options) {
		if seconds >= 0 {
			o.MaxRetriesSeconds = seconds
		}
	}
}

// WithRetryAfterMaxlagSeconds sets the delay before retrying a maxlag error.
func WithRetryAfterMaxlagSeconds(seconds float64) RequestOption {
	return func(o *Options) {
		if seconds >= 0 {
			o.RetryAfterMaxlagSeconds = seconds
		}
	}
}

// WithRetryAfterReadonlySeconds sets the delay before retrying a readonly
// error.
func WithRetryAfterReadonlySeconds(seconds float64) RequestOption {
	return func(o *Options) {
		if seconds >= 0 {
			o.RetryAfterReadonlySeconds = seconds
		}
	}
}

// WithWarn sets the warning handler.
func WithWarn(warn WarnFunc) RequestOption {
	return func(o *Options) {
		o.Warn = warn
	}
}

// WithDropTruncatedResultWarning suppresses "result truncated" warnings.
func WithDropTruncatedResultWarning(drop bool) RequestOption {
	return func(o *Options) {
		o.DropTruncatedResultWarning = drop
	}
}

// WithMaxRetries has no effect and emits an advisory warning.
//
// Deprecated: the retry budget is time based; use WithMaxRetriesSeconds.
func WithMaxRetries(int) RequestOption {
	return func(o *Options) {
		o.removedMaxRetries = true
	}
}

// WithTransport sets the transport used for network calls.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithDefaultParams sets parameters added to every request.
func WithDefaultParams(params Params) Option {
	return func(s *Session) {
		s.defaultParams = mergeParams(s.defaultParams, params)
	}
}

// WithDefaultOptions sets request options applied before call-site options.
func WithDefaultOptions(opts ...RequestOption) Option {
	return func(s *Session) {
		s.defaultOptions = append(s.defaultOptions, opts...)
	}
}

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebug enables debug logging of the request lifecycle.
func WithDebug() Option {
	return func(s *Session) {
		s.debug = true
	}
}

// WithRequestIDGenerator sets the generator for request ids used in logs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(s *Session) {
		s.requestIDGen = gen
	}
}

// WithMetrics enables Prometheus metrics on the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(s *Session) {
		s.metrics = NewMetricsCollectorWithRegistry(registerer)
	}
}

// WithMetricsCollector sets a shared metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(s *Session) {
		s.metrics = collector
	}
}

// WithCombining merges compatible GET requests issued within window of
// each other into a single network call. Requests with a token and
// continuation requests (carrying "continue") are sent on their own.
func WithCombining(window time.Duration) Option {
	return func(s *Session) {
		if window >= 0 {
			s.combiner = newCombiner(s, window)
		}
	}
}

// WithClock replaces the time source; intended for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// Validate reports configuration problems of the session.
func (s *Session) Validate() error {
	var problems []string

	if s.apiURL == "" {
		problems = append(problems, "API URL must be set")
	}
	if s.transport == nil {
		problems = append(problems, "transport must be set")
	}
	if s.logger == nil {
		problems = append(problems, "logger cannot be nil")
	}
	if s.requestIDGen == nil {
		problems = append(problems, "request id generator cannot be nil")
	}

	opts := composeOptions(s.defaultOptions)
	if opts.MaxRetriesSeconds > 24*60*60 {
		problems = append(problems, "maxRetriesSeconds > 1 day is unreasonable")
	}
	if opts.TokenType != "" && opts.TokenName == "" {
		problems = append(problems, "tokenName must be set when tokenType is set")
	}

	if len(problems) > 0 {
		return &RequestError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}
