// Package m3api is a client for MediaWiki-style action APIs.
//
//   - Parameter normalization (lists, booleans, numbers) into wire form
//   - Classification of response errors and warnings
//   - Deadline based retries for Retry-After, maxlag, readonly and bad tokens
//   - Token fetching and caching (csrf, login, ...)
//   - Continuation, including reduction of pages into batches
//   - Combining of compatible concurrent GET requests
//   - Prometheus metrics and structured zap logging
//
// A Session needs a Transport; httptransport provides one over HTTP:
//
//	session := m3api.New("en.wikipedia.org",
//	    m3api.WithTransport(httptransport.New()),
//	    m3api.WithDefaultOptions(m3api.WithUserAgent("my-tool (https://example.org/my-tool)")),
//	)
//	resp, err := session.Request(ctx, m3api.Params{
//	    "action": "query",
//	    "meta":   m3api.NewSet("siteinfo"),
//	})
//
// Responses with errors are returned as *APIErrors. Warnings are passed to
// the request's WarnFunc, which logs them by default.
package m3api
