// Package camunda holds the Zeebe client used to start review processes and open
// job workers.
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"advertiser-onboarding/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

const serviceName = "zeebe"

type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	MaxRetries             int
	BaseDelay              time.Duration
	MaxDelay               time.Duration
}

// DefaultClientConfig is a plaintext local gateway setup.
func DefaultClientConfig(address string) *ClientConfig {
	return &ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         30 * time.Second,
		MaxRetries:             3,
		BaseDelay:              time.Second,
		MaxDelay:               10 * time.Second,
	}
}

func NewClient(address string) (*Client, error) {
	return NewClientWithConfig(DefaultClientConfig(address))
}

// NewClientWithConfig connects and checks the broker topology once.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionTimeout)
	defer cancel()

	if _, err := zeebeClient.NewTopologyCommand().Send(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}

	return &Client{client: zeebeClient, config: config}, nil
}

// GetClient returns the raw Zeebe client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// StartProcess creates an instance of the latest version of processID and returns
// its key. Transient gateway failures are retried with backoff.
func (c *Client) StartProcess(ctx context.Context, processID string, vars map[string]interface{}) (int64, error) {
	var lastErr error
	delay := c.config.BaseDelay

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		key, err := c.createInstance(ctx, processID, vars)
		if err == nil {
			return key, nil
		}
		lastErr = err

		if !isTransient(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, classify(ctx.Err(), processID)
		}
		delay *= 2
		if delay > c.config.MaxDelay {
			delay = c.config.MaxDelay
		}
	}

	return 0, classify(lastErr, processID)
}

func (c *Client) createInstance(ctx context.Context, processID string, vars map[string]interface{}) (int64, error) {
	cmd, err := c.client.NewCreateInstanceCommand().
		BPMNProcessId(processID).
		LatestVersion().
		VariablesFromMap(vars)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var resp *pb.CreateProcessInstanceResponse
	if resp, err = cmd.Send(ctx); err != nil {
		return 0, err
	}
	return resp.GetProcessInstanceKey(), nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// classify maps a gateway failure onto the application error codes.
func classify(err error, processID string) error {
	wrapped := fmt.Errorf("start process %s: %w", processID, err)
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errors.NewTimeoutError(serviceName, wrapped)
	case isTransient(err):
		return errors.NewNetworkError(serviceName, wrapped)
	case strings.Contains(msg, "not found"):
		return errors.NewResourceNotFoundError(serviceName, wrapped.Error())
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "unauthorized"):
		return errors.NewAuthenticationError(wrapped.Error())
	default:
		return errors.NewExternalServiceError(serviceName, wrapped)
	}
}
