package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tmarchini/personaforge/internal/prompt"
)

func testPrompt() prompt.Prompt {
	return prompt.Prompt{Messages: []prompt.Message{
		{Role: prompt.RoleSystem, Content: "You are a test."},
		{Role: prompt.RoleUser, Content: "hello"},
	}}
}

func TestHTTPClientCompleteSuccess(t *testing.T) {
	var gotReq chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer token", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi!"}}]}`))
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "secret", 0)
	res, err := c.Complete(context.Background(), testPrompt(), Params{Model: "m1", Temperature: 0.5, MaxTokens: 64, TopP: 0.9}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "hi!" {
		t.Fatalf("Text = %q, want %q", res.Text, "hi!")
	}
	if gotReq.Model != "m1" || gotReq.Temperature != 0.5 || gotReq.MaxTokens != 64 || gotReq.TopP != 0.9 {
		t.Fatalf("request params = %+v", gotReq)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("request messages = %+v", gotReq.Messages)
	}
}

func TestHTTPClientClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		header http.Header
		want   Kind
	}{
		{status: 429, header: http.Header{"Retry-After": []string{"3"}}, want: KindRateLimited},
		{status: 400, want: KindInvalidParams},
		{status: 503, want: KindBackendUnavailable},
		{status: 504, want: KindTimeout},
	}

	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			for k, vs := range tc.header {
				for _, v := range vs {
					w.Header().Set(k, v)
				}
			}
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		c := NewHTTPClient(ts.URL, "", 0)
		_, err := c.Complete(context.Background(), testPrompt(), testParams(), nil)
		if KindOf(err) != tc.want {
			t.Fatalf("status %d: KindOf = %s, want %s (err=%v)", tc.status, KindOf(err), tc.want, err)
		}
		if tc.status == 429 {
			var infErr *Error
			if !errors.As(err, &infErr) || infErr.RetryAfter != 3*time.Second {
				t.Fatalf("RetryAfter not parsed: %v", err)
			}
		}
		ts.Close()
	}
}

func TestHTTPClientRejectsBadParamsLocally(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", 0)
	_, err := c.Complete(context.Background(), testPrompt(), Params{Temperature: 3.0, MaxTokens: 10, TopP: 0.5}, nil)
	if KindOf(err) != KindInvalidParams {
		t.Fatalf("KindOf = %s, want invalid_params", KindOf(err))
	}
	if called {
		t.Fatalf("backend should not be called for locally invalid params")
	}
}

func TestHTTPClientStreamsSSE(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			t.Errorf("expected streaming request, got %+v (err=%v)", req, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range []string{
			`: keepalive`,
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		} {
			w.Write([]byte(frame + "\n\n"))
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", 0)
	var deltas []string
	res, err := c.Complete(context.Background(), testPrompt(), testParams(), func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want Hello", res.Text)
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Fatalf("deltas = %v, want to join to Hello", deltas)
	}
}
