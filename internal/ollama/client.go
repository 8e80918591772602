package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aishah914/smolpc-gimp/internal/egress"
	"github.com/aishah914/smolpc-gimp/internal/llm"
)

const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "llama3"
	maxErrorBodyBytes = 2048
)

type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// AllowHosts are non-loopback hosts the client may reach.
	AllowHosts []string
}

// Client talks to a local Ollama server with non-streaming chat requests.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout:   timeout,
			Transport: egress.NewLocalOnlyRoundTripper(http.DefaultTransport, opts.AllowHosts),
		},
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat sends messages and returns the assistant's reply text.
func (c *Client) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return c.send(ctx, chatRequest{Model: c.model, Messages: messages})
}

// ChatJSON constrains the reply to the given JSON schema. Ollama accepts a
// schema object in the format field.
func (c *Client) ChatJSON(ctx context.Context, messages []llm.Message, schema json.RawMessage) (string, error) {
	format := schema
	if len(bytes.TrimSpace(format)) == 0 {
		format = json.RawMessage(`"json"`)
	}
	return c.send(ctx, chatRequest{Model: c.model, Messages: messages, Format: format})
}

// ListModels returns the names of the locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrInvalidResponse, err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

// Validate checks that the server answers and the configured model is installed.
func (c *Client) Validate(ctx context.Context) error {
	names, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == c.model || strings.TrimSuffix(name, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", llm.ErrModelNotFound, c.model)
}

func (c *Client) send(ctx context.Context, payload chatRequest) (string, error) {
	payload.Messages = normalizeMessages(payload.Messages)
	if profile, ok := llm.RequestProfileFromContext(ctx); ok {
		payload.Options = &chatOptions{Temperature: profile.Temperature, Seed: profile.Seed}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Message == nil || parsed.Message.Content == nil {
		return "", fmt.Errorf("%w: unexpected response shape: %s", llm.ErrInvalidResponse, truncate(string(raw)))
	}
	content := *parsed.Message.Content
	if strings.TrimSpace(content) == "" {
		return "", llm.ErrEmptyResponse
	}
	return content, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return nil, llm.ErrEgressBlocked
		}
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", llm.ErrModelNotFound, strings.TrimSpace(string(errorBody)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama returned HTTP %s - %s", llm.ErrUnavailable, resp.Status, strings.TrimSpace(string(errorBody)))
	}
	return resp, nil
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []llm.Message   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *chatOptions    `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
}

type chatResponse struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func normalizeMessages(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		switch role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: msg.Content})
	}
	return out
}

func truncate(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxErrorBodyBytes {
		return value[:maxErrorBodyBytes] + "..."
	}
	return value
}
