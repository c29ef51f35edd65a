package m3api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func tokenResponse(tokens map[string]any) *RawResponse {
	return okResponse(Response{"batchcomplete": true, "query": map[string]any{"tokens": tokens}})
}

func TestGetTokenCaches(t *testing.T) {
	transport := &scriptedTransport{handler: responses(tokenResponse(map[string]any{"csrftoken": "abc+\\"}))}
	registry := prometheus.NewRegistry()
	session, _ := newTestSession(transport, WithMetrics(registry))

	for i := 0; i < 3; i++ {
		token, found, err := session.GetToken(context.Background(), "csrf")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if !found || token != "abc+\\" {
			t.Errorf("GetToken() = %q, %v", token, found)
		}
	}

	calls := transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("transport calls = %d, want 1", len(calls))
	}
	params := calls[0].params
	if params["meta"] != "tokens" || params["type"] != "csrf" || params["action"] != "query" {
		t.Errorf("token request params = %v", params)
	}
	if got := testutil.ToFloat64(session.metrics.tokenFetches.WithLabelValues("csrf")); got != 1 {
		t.Errorf("token fetches metric = %v, want 1", got)
	}
}

func TestGetTokenMissing(t *testing.T) {
	transport := &scriptedTransport{handler: responses(tokenResponse(map[string]any{}))}
	session, _ := newTestSession(transport)

	token, found, err := session.GetToken(context.Background(), "login")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if found || token != "" {
		t.Errorf("GetToken() = %q, %v; want not found", token, found)
	}
}

func TestMissingTokenOmitsParameter(t *testing.T) {
	transport := &scriptedTransport{}
	transport.handler = func(n int, call recordedCall) (*RawResponse, error) {
		if call.method == MethodGet {
			return tokenResponse(map[string]any{}), nil
		}
		return okResponse(Response{}), nil
	}
	session, _ := newTestSession(transport)

	_, err := session.Request(context.Background(), Params{"action": "edit"},
		WithMethod(MethodPost), WithTokenType("csrf"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	calls := transport.Calls()
	post := calls[len(calls)-1]
	if _, ok := post.params["token"]; ok {
		t.Errorf("token parameter should be omitted, got %v", post.params)
	}
}

func TestCustomTokenName(t *testing.T) {
	transport := &scriptedTransport{}
	transport.handler = func(n int, call recordedCall) (*RawResponse, error) {
		if call.method == MethodGet {
			return tokenResponse(map[string]any{"logintoken": "L"}), nil
		}
		return okResponse(Response{}), nil
	}
	session, _ := newTestSession(transport)

	_, err := session.Request(context.Background(), Params{"action": "login", "lgname": "user"},
		WithMethod(MethodPost), WithTokenType("login"), WithTokenName("lgtoken"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	calls := transport.Calls()
	post := calls[len(calls)-1]
	if post.params["lgtoken"] != "L" {
		t.Errorf("lgtoken = %q, want L", post.params["lgtoken"])
	}
	if _, ok := post.params["token"]; ok {
		t.Error("default token name should not be sent")
	}
}

func TestTokenCacheClear(t *testing.T) {
	cache := newTokenCache()
	cache.set("csrf", "a")
	cache.set("login", "b")

	cache.clear()

	if _, ok := cache.get("csrf"); ok {
		t.Error("csrf token should be cleared")
	}
	if _, ok := cache.get("login"); ok {
		t.Error("login token should be cleared")
	}
}

func TestConcurrentTokenFetchesShareRequest(t *testing.T) {
	transport := &scriptedTransport{}
	transport.handler = func(int, recordedCall) (*RawResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return tokenResponse(map[string]any{"csrftoken": "shared"}), nil
	}
	session, _ := newTestSession(transport)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, found, err := session.GetToken(context.Background(), "csrf")
			if err != nil || !found || token != "shared" {
				t.Errorf("GetToken() = %q, %v, %v", token, found, err)
			}
		}()
	}
	wg.Wait()

	if n := len(transport.Calls()); n != 1 {
		t.Errorf("transport calls = %d, want 1", n)
	}
}

func TestTokenCacheClearForgetsInFlightFetch(t *testing.T) {
	cache := newTokenCache()
	cache.set("csrf", "old")

	release := make(chan struct{})
	defer close(release)
	go func() {
		_, _, _ = cache.fetches.Do(context.Background(), "csrf", func(context.Context) (fetchedToken, error) {
			<-release
			return fetchedToken{value: "stale", found: true}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	cache.clear()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fetched, err, _ := cache.fetches.Do(ctx, "csrf", func(context.Context) (fetchedToken, error) {
		return fetchedToken{value: "fresh", found: true}, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if fetched.value != "fresh" {
		t.Errorf("fetch after clear = %q, want fresh", fetched.value)
	}
}
