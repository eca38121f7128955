package convert

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

	"photodeck/pkg/config"
	"photodeck/pkg/models"
)

const decksPath = "/v1/decks"

// ServerError carries the conversion service's own error text so it can be
// surfaced to the user verbatim.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Options controls optional parameters for NewClientWithOptions.
type Options struct {
	Timeout time.Duration
}

// NewOptions returns sensible defaults.
func NewOptions() Options {
	return Options{Timeout: 2 * time.Minute}
}

// Client talks to the remote deck conversion service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a converter client with default options.
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithOptions(baseURL, NewOptions())
}

// NewClientWithOptions allows specifying the request timeout.
func NewClientWithOptions(baseURL string, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("empty base URL")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = NewOptions().Timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// NewFromConfig constructs a client from app config.
func NewFromConfig(cfg config.Config) (*Client, error) {
	return NewClientWithOptions(cfg.ConverterURL, Options{Timeout: cfg.ConverterTimeout()})
}

// Convert sends the assembled deck request and returns the binary
// artifact. Non-2xx responses become a ServerError carrying the response
// body text when the service provided one.
func (c *Client) Convert(ctx context.Context, req models.DeckRequest) (models.DeckArtifact, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.DeckArtifact{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+decksPath, bytes.NewReader(payload))
	if err != nil {
		return models.DeckArtifact{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.DeckArtifact{}, fmt.Errorf("converter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.DeckArtifact{}, fmt.Errorf("read converter response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("converter returned status %d", resp.StatusCode)
		}
		return models.DeckArtifact{}, &ServerError{Status: resp.StatusCode, Message: msg}
	}

	return models.DeckArtifact{
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
