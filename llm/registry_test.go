package llm

import (
	"context"
	"errors"
	"testing"
)

type nopClient struct{ model string }

func (c *nopClient) Generate(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}

func (c *nopClient) GenerateStream(ctx context.Context, messages []Message) (Stream, error) {
	return SingleTextStream(""), nil
}

func TestRegistryNew(t *testing.T) {
	Register("test-backend", Registration{
		New: func(opts Options) (Client, error) {
			return &nopClient{model: opts.Model}, nil
		},
		RequiresCredential: true,
	})

	client, err := New("test-backend", Options{Model: "m1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if client.(*nopClient).model != "m1" {
		t.Errorf("Constructor did not receive options, got model %q", client.(*nopClient).model)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := New("no-such-backend", Options{})
	if err == nil {
		t.Fatal("Expected error for unknown provider")
	}
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownProviderError, got %T", err)
	}
	if unknown.Provider != "no-such-backend" {
		t.Errorf("Expected provider name in error, got %q", unknown.Provider)
	}
}

func TestRequiresCredential(t *testing.T) {
	Register("test-keyless", Registration{
		New: func(opts Options) (Client, error) { return &nopClient{}, nil },
	})

	requires, err := RequiresCredential("test-keyless")
	if err != nil {
		t.Fatalf("RequiresCredential failed: %v", err)
	}
	if requires {
		t.Error("Keyless backend should not require a credential")
	}

	var unknown *UnknownProviderError
	if _, err := RequiresCredential("no-such-backend"); !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownProviderError for unknown provider, got %v", err)
	}
}

func TestSingleTextStream(t *testing.T) {
	s := SingleTextStream("hello")
	if !s.Next() {
		t.Fatal("Expected one fragment")
	}
	if s.Text() != "hello" {
		t.Errorf("Expected fragment %q, got %q", "hello", s.Text())
	}
	if s.Next() {
		t.Error("Expected stream to be exhausted after one fragment")
	}
	if s.Err() != nil {
		t.Errorf("Unexpected stream error: %v", s.Err())
	}
}
