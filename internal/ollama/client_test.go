package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aishah914/smolpc-gimp/internal/llm"
)

type mockRT struct {
	roundTrip func(req *http.Request) (*http.Response, error)
}

func (m *mockRT) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.roundTrip(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testClient(rt func(req *http.Request) (*http.Response, error)) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Transport: &mockRT{roundTrip: rt}},
	}
}

func TestChat(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/chat" {
			t.Fatalf("expected /api/chat, got %s", req.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload["model"] != "llama3" || payload["stream"] != false {
			t.Fatalf("unexpected payload %v", payload)
		}
		if _, ok := payload["format"]; ok {
			t.Fatalf("plain chat must not send format")
		}
		messages := payload["messages"].([]any)
		first := messages[0].(map[string]any)
		if first["role"] != "user" || first["content"] != "hi" {
			t.Fatalf("unexpected message %v", first)
		}
		return response(http.StatusOK, `{"model":"llama3","message":{"role":"assistant","content":"Hello"},"done":true}`), nil
	})
	got, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestChatJSONSendsFormatAndProfile(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		var payload struct {
			Format  json.RawMessage `json:"format"`
			Options map[string]any  `json:"options"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if string(payload.Format) != `{"type":"object"}` {
			t.Fatalf("unexpected format %s", payload.Format)
		}
		if payload.Options["temperature"] != float64(0) || payload.Options["seed"] != float64(42) {
			t.Fatalf("unexpected options %v", payload.Options)
		}
		return response(http.StatusOK, `{"message":{"content":"{\"steps\":[]}"}}`), nil
	})
	ctx := llm.WithRequestProfile(context.Background(), llm.Deterministic())
	got, err := client.ChatJSON(ctx, []llm.Message{llm.User("plan")}, json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("chat json failed: %v", err)
	}
	if got != `{"steps":[]}` {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestChatHTTPError(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusInternalServerError, `{"error":"out of memory"}`), nil
	})
	_, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected llm.ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestChatModelNotFound(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusNotFound, `{"error":"model 'llama3' not found"}`), nil
	})
	_, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, llm.ErrModelNotFound) {
		t.Fatalf("expected llm.ErrModelNotFound, got %v", err)
	}
}

func TestChatUnexpectedShape(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"done":true}`), nil
	})
	_, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, llm.ErrInvalidResponse) {
		t.Fatalf("expected llm.ErrInvalidResponse, got %v", err)
	}
	if !strings.Contains(err.Error(), `{"done":true}`) {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestChatTransportFailure(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected llm.ErrUnavailable, got %v", err)
	}
}

func TestRemoteHostBlockedByDefault(t *testing.T) {
	client := NewClient(Options{BaseURL: "https://ollama.example.com"})
	_, err := client.Chat(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("expected llm.ErrEgressBlocked, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	client := testClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/tags" {
			t.Fatalf("expected /api/tags, got %s", req.URL.Path)
		}
		return response(http.StatusOK, `{"models":[{"name":"llava:latest"},{"name":"llama3:latest"}]}`), nil
	})
	if err := client.Validate(context.Background()); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	client.model = "qwen2.5"
	if err := client.Validate(context.Background()); !errors.Is(err, llm.ErrModelNotFound) {
		t.Fatalf("expected llm.ErrModelNotFound, got %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://localhost:11434/"})
	if client.BaseURL() != DefaultBaseURL {
		t.Fatalf("expected trimmed base url, got %s", client.BaseURL())
	}
	if client.Model() != DefaultModel {
		t.Fatalf("expected default model, got %s", client.Model())
	}
}
