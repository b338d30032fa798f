// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that marshals to and from strings
// like "500ms" or "60s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("zonetest: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config carries the test-environment settings: where the service
// lives and how patiently to poll it. Tests typically obtain one via
// [LoadConfig] and then derive components from it.
type Config struct {
	// Endpoint is the base URL of the DNS service API.
	Endpoint string `yaml:"endpoint"`

	// Token is an optional auth token sent as X-Auth-Token on every
	// request of a derived [Client].
	Token string `yaml:"token"`

	// BuildInterval is the sleep between waiter polls.
	BuildInterval Duration `yaml:"build_interval"`

	// BuildTimeout is the wall-clock budget of each wait.
	BuildTimeout Duration `yaml:"build_timeout"`

	// Nameservers are the authoritative servers to probe for
	// propagation, as "host:port" endpoints.
	Nameservers []string `yaml:"nameservers"`

	// QueryTimeout bounds each DNS exchange during a probe.
	QueryTimeout Duration `yaml:"query_timeout"`
}

// DefaultConfig returns the settings used when nothing overrides
// them: poll every second and give up after a minute.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      "http://127.0.0.1:9001",
		BuildInterval: Duration(time.Second),
		BuildTimeout:  Duration(60 * time.Second),
		QueryTimeout:  Duration(3 * time.Second),
	}
}

// LoadConfig builds a [*Config] from [DefaultConfig], an optional
// YAML file, and ZONETEST_* environment variables, in that order of
// precedence with the environment winning. An empty path skips the
// file.
//
// The recognized variables are ZONETEST_ENDPOINT, ZONETEST_TOKEN,
// ZONETEST_NAMESERVERS (comma separated), ZONETEST_BUILD_INTERVAL,
// ZONETEST_BUILD_TIMEOUT, and ZONETEST_QUERY_TIMEOUT.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays ZONETEST_* environment variables.
func (c *Config) applyEnv() error {
	if value := os.Getenv("ZONETEST_ENDPOINT"); value != "" {
		c.Endpoint = value
	}
	if value := os.Getenv("ZONETEST_TOKEN"); value != "" {
		c.Token = value
	}
	if value := os.Getenv("ZONETEST_NAMESERVERS"); value != "" {
		c.Nameservers = strings.Split(value, ",")
	}
	durations := []struct {
		name string
		dst  *Duration
	}{
		{"ZONETEST_BUILD_INTERVAL", &c.BuildInterval},
		{"ZONETEST_BUILD_TIMEOUT", &c.BuildTimeout},
		{"ZONETEST_QUERY_TIMEOUT", &c.QueryTimeout},
	}
	for _, entry := range durations {
		value := os.Getenv(entry.name)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("zonetest: %s: invalid duration %q: %w", entry.name, value, err)
		}
		*entry.dst = Duration(parsed)
	}
	return nil
}

// Client returns a [*Client] targeting the configured endpoint. When a
// Token is configured it is attached first, so explicit options can
// still override the header.
func (c *Config) Client(options ...ClientOption) *Client {
	if c.Token != "" {
		options = append([]ClientOption{WithHeader("X-Auth-Token", c.Token)}, options...)
	}
	return NewClient(c.Endpoint, options...)
}

// Waiter returns a [*Waiter] polling every BuildInterval with a
// BuildTimeout budget.
func (c *Config) Waiter() *Waiter {
	return NewWaiter(c.BuildInterval.Std(), c.BuildTimeout.Std())
}

// QueryClient returns a [*QueryClient] probing the configured
// nameservers.
func (c *Config) QueryClient() *QueryClient {
	return NewQueryClient(c.Nameservers, c.QueryTimeout.Std())
}
