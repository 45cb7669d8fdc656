package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// DefaultPaths maps each stage to the endpoint that accepts it.
var DefaultPaths = map[gazette.Stage]string{
	gazette.StageDownload: "/api/download-pdf",
	gazette.StageProcess:  "/api/process-pdf",
}

// HTTP posts each message as JSON to the endpoint for its stage.
type HTTP struct {
	baseURL string
	paths   map[gazette.Stage]string
	client  *http.Client
}

// NewHTTP builds an HTTP relay rooted at baseURL. A nil client uses one with a MaxTimeout limit.
func NewHTTP(baseURL string, paths map[gazette.Stage]string, client *http.Client) (*HTTP, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("relay base url is required")
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	if client == nil {
		client = &http.Client{Timeout: MaxTimeout}
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), paths: paths, client: client}, nil
}

// Dispatch POSTs msg and discards the response body. Non-2xx responses are errors.
func (h *HTTP) Dispatch(ctx context.Context, msg gazette.Message) error {
	path, ok := h.paths[msg.Stage]
	if !ok {
		return fmt.Errorf("no endpoint for stage %q", msg.Stage)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
