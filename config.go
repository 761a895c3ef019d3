package affinity

import (
	"errors"
	"fmt"
	"strings"
)

// Environment selects which Affinity deployment the client talks to.
type Environment string

const (
	// Sandbox targets a local development deployment.
	Sandbox Environment = "sandbox"

	// Live targets the production deployment.
	Live Environment = "live"
)

// environmentBaseURLs maps each environment to its fixed base address.
// Addresses are not user-configurable.
var environmentBaseURLs = map[Environment]string{
	Sandbox: "http://localhost:5000",
	Live:    "https://api.affinityml.com",
}

// API paths relative to the environment base address.
const (
	metricsPath   = "/metrics"
	recommendPath = "/api/v1/ml/recommend"
	predictPath   = "/api/v1/ml/predict"
)

// Config configures a Client.
type Config struct {
	// APIKey is the bearer credential presented on every request and on
	// the channel handshake.
	APIKey string

	// Environment picks the deployment to target. It decides the base
	// address for both the ML endpoints and the metrics channel.
	Environment Environment

	// OnError, when set, is called with every asynchronous channel
	// error. Calls are sequential; a slow callback delays delivery of
	// subsequent errors.
	OnError func(error)
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	if c.Environment == "" {
		return errors.New("environment is required")
	}
	if _, ok := environmentBaseURLs[c.Environment]; !ok {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}

// channelURL derives the WebSocket address of the metrics endpoint from
// an HTTP base address.
func channelURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		baseURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		baseURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL + metricsPath
}
