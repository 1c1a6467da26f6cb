package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBase        = "https://api.vika.cn/fusion/v1"
	DefaultRateLimitQuota = 2
)

// ClientConfig is the runtime configuration of the upstream Vika client. It
// can be replaced while the process is running.
type ClientConfig struct {
	Credential     string `json:"user_token" yaml:"user_token"`
	BaseURL        string `json:"api_base" yaml:"api_base"`
	RateLimitQuota int    `json:"rate_limit_qps" yaml:"rate_limit_qps"`
}

// WithDefaults fills unset optional values.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultAPIBase
	}
	if c.RateLimitQuota == 0 {
		c.RateLimitQuota = DefaultRateLimitQuota
	}
	return c
}

func (c ClientConfig) Validate() error {
	if c.Credential == "" {
		return errors.New("user_token is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api_base: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("api_base must be an absolute URL: %s", c.BaseURL)
	}

	if c.RateLimitQuota < 1 {
		return fmt.Errorf("rate_limit_qps must be at least 1, got %d", c.RateLimitQuota)
	}

	return nil
}

// LoadClientFile reads a YAML client configuration file.
func LoadClientFile(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("reading client configuration %s: %w", path, err)
	}

	var cc ClientConfig
	if err := yaml.Unmarshal(data, &cc); err != nil {
		return ClientConfig{}, fmt.Errorf("parsing client configuration %s: %w", path, err)
	}

	return cc, nil
}
