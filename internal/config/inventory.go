package config

import (
	"fmt"
	"strings"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// AddEndpoint adds a worker endpoint to the inventory.
func (c *Config) AddEndpoint(id, rawURL string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if !isValidURL(rawURL) {
		return fmt.Errorf("endpoint %s: %q is not an http or https url", id, rawURL)
	}
	for _, ep := range c.Backend.Endpoints {
		if ep.ID == id {
			return fmt.Errorf("endpoint %s already configured", id)
		}
	}
	c.Backend.Endpoints = append(c.Backend.Endpoints, EndpointConfig{ID: id, URL: strings.TrimRight(rawURL, "/")})
	return nil
}

// RemoveEndpoint removes a worker endpoint from the inventory.
func (c *Config) RemoveEndpoint(id string) error {
	for i, ep := range c.Backend.Endpoints {
		if ep.ID == id {
			c.Backend.Endpoints = append(c.Backend.Endpoints[:i], c.Backend.Endpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("endpoint %s is not configured", id)
}

// Endpoints returns the inventory as backend endpoints.
func (c *Config) Endpoints() []types.Endpoint {
	eps := make([]types.Endpoint, len(c.Backend.Endpoints))
	for i, ep := range c.Backend.Endpoints {
		eps[i] = types.Endpoint{ID: ep.ID, Address: ep.URL}
	}
	return eps
}

// SetAPIKey stores the key used to authenticate with worker endpoints.
func (c *Config) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key must not be empty")
	}
	c.Backend.APIKey = key
	return nil
}

// ClearAPIKey forgets the stored API key.
func (c *Config) ClearAPIKey() {
	c.Backend.APIKey = ""
}

// Authenticated reports whether an API key is stored.
func (c *Config) Authenticated() bool {
	return c.Backend.APIKey != ""
}
