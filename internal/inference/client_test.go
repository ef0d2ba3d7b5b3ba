package inference

import (
	"context"
	"testing"
)

func TestNewClientModes(t *testing.T) {
	if _, err := NewClient(Config{Mode: "http"}); err == nil {
		t.Fatalf("NewClient(http) without URL should fail")
	}
	if _, err := NewClient(Config{Mode: "teleport"}); err == nil {
		t.Fatalf("NewClient with unknown mode should fail")
	}
	c, err := NewClient(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewClient(auto) error = %v", err)
	}
	if _, ok := c.(*RetryingClient); !ok {
		t.Fatalf("NewClient should wrap the backend in RetryingClient, got %T", c)
	}
}

func TestMockClientDeterministic(t *testing.T) {
	c := NewMockClient()
	first, err := c.Complete(context.Background(), testPrompt(), testParams(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	second, err := c.Complete(context.Background(), testPrompt(), testParams(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if first.Text == "" || first.Text != second.Text {
		t.Fatalf("mock replies differ: %q vs %q", first.Text, second.Text)
	}
}

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"valid", Params{Temperature: 0.7, MaxTokens: 10, TopP: 0.9}, true},
		{"temperature high", Params{Temperature: 3.0, MaxTokens: 10, TopP: 0.9}, false},
		{"zero max tokens", Params{Temperature: 0.7, MaxTokens: 0, TopP: 0.9}, false},
		{"top_p high", Params{Temperature: 0.7, MaxTokens: 10, TopP: 1.2}, false},
	}
	for _, tc := range cases {
		err := ValidateParams(tc.p)
		if tc.ok && err != nil {
			t.Fatalf("%s: ValidateParams() error = %v, want nil", tc.name, err)
		}
		if !tc.ok {
			if err == nil || err.Kind != KindInvalidParams {
				t.Fatalf("%s: ValidateParams() = %v, want invalid_params", tc.name, err)
			}
		}
	}
}
