package m3api

import (
	"context"
)

// Params holds request parameters keyed by name. Supported value kinds are
// string, bool, nil, the integer and float families, json.Number, Set and
// slices of scalars; see NormalizeParams for their wire form.
type Params map[string]any

// Response is a decoded API response body.
type Response map[string]any

// Object is a single structured error or warning from a response body,
// e.g. {"code": "badtoken", "module": "main", "text": "..."}.
type Object map[string]any

// RawResponse is what a Transport returns for one network call.
type RawResponse struct {
	Status int
	// Headers maps lower-case header names to values. Cookie-setting
	// headers are excluded.
	Headers map[string]string
	Body    Response
}

// Transport performs the network calls for a Session. Parameters are
// already normalized; headers include the user agent.
type Transport interface {
	Get(ctx context.Context, apiURL string, params map[string]string, headers map[string]string) (*RawResponse, error)
	// Post sends urlParams in the query string and bodyParams in the body.
	Post(ctx context.Context, apiURL string, urlParams, bodyParams map[string]string, headers map[string]string) (*RawResponse, error)
}

// TransportFunc adapts a single function to the Transport interface for
// both methods. method is "GET" or "POST"; urlParams is nil for GET.
type TransportFunc func(ctx context.Context, method, apiURL string, urlParams, params, headers map[string]string) (*RawResponse, error)

// Get implements Transport.
func (f TransportFunc) Get(ctx context.Context, apiURL string, params, headers map[string]string) (*RawResponse, error) {
	return f(ctx, MethodGet, apiURL, nil, params, headers)
}

// Post implements Transport.
func (f TransportFunc) Post(ctx context.Context, apiURL string, urlParams, bodyParams, headers map[string]string) (*RawResponse, error) {
	return f(ctx, MethodPost, apiURL, urlParams, bodyParams, headers)
}

// WarnFunc receives API warnings (*APIWarnings) and advisory warnings
// generated by the session. Its return is ignored.
type WarnFunc func(err error)

// Request methods.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// Option configures a Session.
type Option func(*Session)

// RequestOption configures a single request.
type RequestOption func(*Options)

// tokenPlaceholder marks a token parameter whose value is fetched right
// before dispatch. No caller-supplied value can have this type.
type tokenPlaceholder struct{}

// Continue returns the continuation parameters of the response, or nil.
func (r Response) Continue() map[string]any {
	c, _ := r["continue"].(map[string]any)
	return c
}

// BatchComplete reports whether the response marks the end of a batch.
// formatversion=2 sends true; formatversion=1 sends an empty string.
func (r Response) BatchComplete() bool {
	switch v := r["batchcomplete"].(type) {
	case bool:
		return v
	case string:
		return true
	default:
		return false
	}
}

// Query returns the "query" member of the response, or nil.
func (r Response) Query() map[string]any {
	q, _ := r["query"].(map[string]any)
	return q
}

// Code returns the error or warning code, if any.
func (o Object) Code() string {
	s, _ := o["code"].(string)
	return s
}

// Module returns the API module that produced the object.
func (o Object) Module() string {
	s, _ := o["module"].(string)
	return s
}

// Text returns the human readable message. Objects in the legacy format
// carry it under "*" (formatversion=1) or "warnings"/"info".
func (o Object) Text() string {
	for _, key := range []string{"text", "html", "*", "warnings", "info"} {
		if s, ok := o[key].(string); ok {
			return s
		}
	}
	return ""
}
