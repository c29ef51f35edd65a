package m3api

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRequestAndContinue(t *testing.T) {
	transport := &scriptedTransport{handler: responses(
		okResponse(Response{"continue": map[string]any{"c": "x"}, "n": 1}),
		okResponse(Response{"continue": map[string]any{"c": "y"}, "n": 2}),
		okResponse(Response{"n": 3}),
	)}
	session, _ := newTestSession(transport)

	pages := session.RequestAndContinue(Params{"action": "query", "list": "allpages"})
	if n := len(transport.Calls()); n != 0 {
		t.Fatalf("no request should be made before Next, got %d", n)
	}

	var got []any
	for resp, err := range pages.All(context.Background()) {
		if err != nil {
			t.Fatalf("page error = %v", err)
		}
		got = append(got, resp["n"])
	}
	if !reflect.DeepEqual(got, []any{1, 2, 3}) {
		t.Errorf("pages = %v", got)
	}

	calls := transport.Calls()
	if len(calls) != 3 {
		t.Fatalf("transport calls = %d, want 3", len(calls))
	}
	if _, ok := calls[0].params["c"]; ok {
		t.Error("first request should not carry continuation")
	}
	if calls[1].params["c"] != "x" || calls[2].params["c"] != "y" {
		t.Errorf("continuation params = %q, %q", calls[1].params["c"], calls[2].params["c"])
	}
	if calls[2].params["list"] != "allpages" {
		t.Error("original params should be kept on continuation")
	}
}

func TestRequestAndContinueNotRestartable(t *testing.T) {
	transport := &scriptedTransport{handler: responses(okResponse(Response{}))}
	session, _ := newTestSession(transport)

	pages := session.RequestAndContinue(Params{"action": "query"})
	for range pages.All(context.Background()) {
	}

	for _, err := range pages.All(context.Background()) {
		if !errors.Is(err, ErrPagesConsumed) {
			t.Errorf("second iteration error = %v, want ErrPagesConsumed", err)
		}
	}
	if pages.Next(context.Background()) {
		t.Error("Next after exhaustion should return false")
	}
}

func TestRequestAndContinueStopsOnError(t *testing.T) {
	transport := &scriptedTransport{handler: responses(
		okResponse(Response{"continue": map[string]any{"c": "x"}}),
		okResponse(apiError("badcontinue")),
	)}
	session, _ := newTestSession(transport)

	pages := session.RequestAndContinue(Params{"action": "query"})
	ctx := context.Background()

	if !pages.Next(ctx) {
		t.Fatalf("first Next() = false, err = %v", pages.Err())
	}
	if pages.Next(ctx) {
		t.Fatal("second Next() should fail")
	}
	var apiErrs *APIErrors
	if !errors.As(pages.Err(), &apiErrs) || !apiErrs.HasCode("badcontinue") {
		t.Errorf("Err() = %v", pages.Err())
	}
	if pages.Next(ctx) {
		t.Error("Next after an error should return false")
	}
}

func collectTitles(acc map[string]any, resp Response) map[string]any {
	titles, _ := acc["titles"].([]any)
	for _, page := range resp.Query()["pages"].([]any) {
		titles = append(titles, page.(map[string]any)["title"])
	}
	acc["titles"] = titles
	return acc
}

func pageResponse(title string, batchComplete bool, cont bool) *RawResponse {
	body := Response{"query": map[string]any{"pages": []any{map[string]any{"title": title}}}}
	if batchComplete {
		body["batchcomplete"] = true
	}
	if cont {
		body["continue"] = map[string]any{"c": title}
	}
	return okResponse(body)
}

func TestRequestAndContinueReducingBatch(t *testing.T) {
	transport := &scriptedTransport{handler: responses(
		pageResponse("A", false, true),
		pageResponse("B", true, true),
		pageResponse("C", false, true),
		pageResponse("D", true, false),
	)}
	session, _ := newTestSession(transport)

	batches := session.RequestAndContinueReducingBatch(Params{"action": "query"}, collectTitles, nil)

	var got [][]any
	for batch, err := range batches.All(context.Background()) {
		if err != nil {
			t.Fatalf("batch error = %v", err)
		}
		got = append(got, batch["titles"].([]any))
	}
	want := [][]any{{"A", "B"}, {"C", "D"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
}

func TestIncompleteTrailingBatchNotEmitted(t *testing.T) {
	transport := &scriptedTransport{handler: responses(
		pageResponse("A", true, true),
		pageResponse("B", false, false),
	)}
	session, _ := newTestSession(transport)

	batches := session.RequestAndContinueReducingBatch(Params{"action": "query"}, collectTitles, nil)
	ctx := context.Background()

	count := 0
	for batches.Next(ctx) {
		count++
	}
	if count != 1 || batches.Err() != nil {
		t.Errorf("batches = %d, err = %v; want 1, nil", count, batches.Err())
	}
}

func TestReducingBatchDropsTruncatedWarnings(t *testing.T) {
	body := Response{
		"batchcomplete": true,
		"query":         map[string]any{"pages": []any{}},
		"warnings": []any{map[string]any{
			"code": "truncatedresult",
			"text": "This result was truncated because it would otherwise be larger than the limit of 12,582,912 bytes",
		}},
	}
	transport := &scriptedTransport{handler: responses(okResponse(body))}
	recorder := &warnRecorder{}
	session, _ := newTestSession(transport)

	batches := session.RequestAndContinueReducingBatch(Params{"action": "query"}, collectTitles, nil, WithWarn(recorder.warn))
	for range batches.All(context.Background()) {
	}

	if n := len(recorder.Errors()); n != 0 {
		t.Errorf("warn calls = %d, want 0", n)
	}
}

func TestReduceBatchesGeneric(t *testing.T) {
	transport := &scriptedTransport{handler: responses(
		pageResponse("A", false, true),
		pageResponse("B", true, false),
	)}
	session, _ := newTestSession(transport)

	count := func(n int, resp Response) int {
		return n + len(resp.Query()["pages"].([]any))
	}
	batches := ReduceBatches(session.RequestAndContinue(Params{"action": "query"}), count, nil)

	if !batches.Next(context.Background()) {
		t.Fatalf("Next() = false, err = %v", batches.Err())
	}
	if batches.Value() != 2 {
		t.Errorf("Value() = %d, want 2", batches.Value())
	}
	if batches.Next(context.Background()) {
		t.Error("expected a single batch")
	}
}
