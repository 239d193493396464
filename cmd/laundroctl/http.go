package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

type httpClient struct {
	base   string
	admin  string
	token  string
	hc     *http.Client
	logger *zap.Logger
}

// newHTTPClient talks to the API at base. Ping goes to the admin listener.
func newHTTPClient(base, admin, token string, logger *zap.Logger) *httpClient {
	return &httpClient{
		base:   strings.TrimRight(base, "/"),
		admin:  strings.TrimRight(admin, "/"),
		token:  token,
		hc:     &http.Client{},
		logger: logger,
	}
}

func (c *httpClient) Close() error { return nil }

func (c *httpClient) Ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.admin+"/ping", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ping: status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(b)), nil
}

func (c *httpClient) RequestMachine(ctx context.Context, locationID, jobID string) (models.Result, error) {
	body, _ := json.Marshal(map[string]string{"locationId": locationID, "jobId": jobID})
	return c.do(ctx, http.MethodPost, "/machine/request", body)
}

func (c *httpClient) GetMachine(ctx context.Context, id string) (models.Result, error) {
	return c.do(ctx, http.MethodGet, "/machine/"+url.PathEscape(id), nil)
}

func (c *httpClient) StartMachine(ctx context.Context, id string) (models.Result, error) {
	return c.do(ctx, http.MethodPost, "/machine/"+url.PathEscape(id)+"/start", nil)
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte) (models.Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return models.Result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	c.logger.Debug("http response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", resp.Header.Get("X-Request-Id")),
	)

	var res models.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.Result{}, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	return res, nil
}
