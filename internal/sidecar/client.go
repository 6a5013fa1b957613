// Package sidecar parla con l'endpoint di backup esposto dalle app
// gestite: verifica il contratto capabilities e scarica l'export in
// streaming verso il tool di upload.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

const capabilitiesVersion = "v1"

// Capabilities è il contratto pubblicato da un sidecar
type Capabilities struct {
	Version    string   `json:"version"`
	Types      []string `json:"types"`
	EstSeconds *int64   `json:"est_seconds,omitempty"`
	EstSize    *int64   `json:"est_size,omitempty"`
}

// Client è il client HTTP verso i sidecar delle app
type Client struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient crea il client. Il timeout copre la sola fase di handshake:
// il corpo dell'export viene letto in streaming senza limite.
func NewClient(logger *logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		logger: logger,
	}
}

func (c *Client) request(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("sidecar returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// Capabilities interroga e valida il contratto del sidecar
func (c *Client) Capabilities(ctx context.Context, baseURL, token string) (*Capabilities, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/backup/capabilities"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.request(req, token)
	if err != nil {
		return nil, fmt.Errorf("capabilities check failed: %w", err)
	}
	defer resp.Body.Close()

	var caps Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("invalid capabilities payload: %w", err)
	}
	if caps.Version != capabilitiesVersion {
		return nil, fmt.Errorf("unsupported capabilities version: %s", caps.Version)
	}
	if caps.Types == nil {
		return nil, fmt.Errorf("capabilities payload has no types field")
	}
	return &caps, nil
}

// Export avvia l'export e restituisce il body da consumare in streaming
// insieme al checksum dichiarato (vuoto se il sidecar non lo espone).
// Il chiamante chiude il reader.
func (c *Client) Export(ctx context.Context, baseURL, token string) (io.ReadCloser, string, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/backup/export"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.request(req, token)
	if err != nil {
		return nil, "", fmt.Errorf("export request failed: %w", err)
	}
	return resp.Body, resp.Header.Get("X-Checksum-Sha256"), nil
}
