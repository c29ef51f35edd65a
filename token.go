package m3api

import (
	"context"
	"sync"

	"github.com/simon04/m3api/internal/singleflight"
)

// tokenCache maps token types to the last fetched token. Concurrent
// fetches of one type share a single request.
type tokenCache struct {
	mu     sync.RWMutex
	tokens map[string]string

	fetches *singleflight.Group[fetchedToken]
}

type fetchedToken struct {
	value string
	found bool
}

func newTokenCache() *tokenCache {
	return &tokenCache{
		tokens:  make(map[string]string),
		fetches: singleflight.New[fetchedToken](),
	}
}

func (tc *tokenCache) get(tokenType string) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	token, ok := tc.tokens[tokenType]
	return token, ok
}

func (tc *tokenCache) set(tokenType, token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[tokenType] = token
}

// clear drops every token, not only the one that failed. Fetches still in
// flight are forgotten so the next caller does not join one of them.
func (tc *tokenCache) clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for tokenType := range tc.tokens {
		tc.fetches.Forget(tokenType)
	}
	tc.tokens = make(map[string]string)
}

// GetToken returns a token of the given type ("csrf", "login", ...),
// fetching it if it is not cached. found is false, without error, if the
// server never returned a token of that type.
func (s *Session) GetToken(ctx context.Context, tokenType string, opts ...RequestOption) (token string, found bool, err error) {
	return s.getToken(ctx, tokenType, composeOptions(s.defaultOptions, opts))
}

func (s *Session) getToken(ctx context.Context, tokenType string, opts Options) (string, bool, error) {
	if token, ok := s.tokens.get(tokenType); ok {
		return token, true, nil
	}

	opts.Method = MethodGet
	opts.TokenType = ""
	opts.DropTruncatedResultWarning = true

	fetched, err, shared := s.tokens.fetches.Do(ctx, tokenType, func(ctx context.Context) (fetchedToken, error) {
		return s.fetchToken(ctx, tokenType, opts)
	})
	if err != nil {
		return "", false, err
	}
	if shared {
		s.debugLog("Shared token fetch", "tokenType", tokenType)
	}
	return fetched.value, fetched.found, nil
}

// fetchToken queries the API for a token, following continuation until
// the token shows up.
func (s *Session) fetchToken(ctx context.Context, tokenType string, opts Options) (fetchedToken, error) {
	s.debugLog("Fetching token", "tokenType", tokenType)
	pages := s.pages(Params{
		"action": "query",
		"meta":   NewSet("tokens"),
		"type":   NewSet(tokenType),
	}, opts)

	for pages.Next(ctx) {
		tokens, _ := pages.Response().Query()["tokens"].(map[string]any)
		if token, ok := tokens[tokenType+"token"].(string); ok {
			s.tokens.set(tokenType, token)
			s.metrics.RecordTokenFetch(tokenType)
			return fetchedToken{value: token, found: true}, nil
		}
	}
	return fetchedToken{}, pages.Err()
}
