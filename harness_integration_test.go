//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/testhelpers"
)

// APITestHarness runs the bridge against a mock Vika API.
// Cleanup is handled automatically via t.Cleanup().
type APITestHarness struct {
	t        *testing.T
	Server   *httptest.Server
	VikaMock *testhelpers.MockVikaServer
}

// APITestHarnessOption adjusts the environment the bridge is configured from.
type APITestHarnessOption func(env map[string]string)

// WithoutStartupClient leaves the Vika client unconfigured at startup.
func WithoutStartupClient() APITestHarnessOption {
	return func(env map[string]string) {
		delete(env, "VIKA_USER_TOKEN")
	}
}

// WithRateLimit sets the startup rate limit quota.
func WithRateLimit(qps int) APITestHarnessOption {
	return func(env map[string]string) {
		env["VIKA_RATE_LIMIT_QPS"] = fmt.Sprint(qps)
	}
}

func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockVikaServer(t)

	env := map[string]string{
		"VIKA_USER_TOKEN":     mock.Token,
		"VIKA_API_BASE":       mock.URL(),
		"VIKA_RATE_LIMIT_QPS": "100",
	}
	for _, opt := range options {
		opt(env)
	}

	var cfg config.Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	})
	require.NoError(t, err)

	svc, err := configureService(context.Background(), cfg)
	require.NoError(t, err)

	h := &APITestHarness{
		t:        t,
		Server:   httptest.NewServer(configureServerRoutes(svc)),
		VikaMock: mock,
	}
	t.Cleanup(h.Server.Close)

	return h
}

func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// TestClient provides typed access to bridge endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// RequestJSON performs a request and returns the parsed JSON response.
func (c *TestClient) RequestJSON(method, path string, body any) (map[string]any, int, error) {
	resp, err := c.Request(method, path, body)
	if err != nil {
		return nil, 0, err
	}

	var result map[string]any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("unmarshal JSON: %w", err)
		}
	}

	return result, resp.StatusCode, nil
}
