// Package qdrant retrieves sparse and dense candidate lists from a Qdrant
// collection of passages.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/ricesearch/rice-eval/internal/config"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

const (
	// DefaultHost is the default Qdrant host.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultTimeout is the default operation timeout.
	DefaultTimeout = 30 * time.Second

	// BreakerName labels the search circuit breaker in logs and metrics.
	BreakerName = "qdrant"
)

// StateObserver receives circuit breaker transitions.
type StateObserver interface {
	SetBreakerState(name string, state int)
}

// ClientConfig holds configuration for the Qdrant client.
type ClientConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Timeout bounds each search call.
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerOpenFor.
	BreakerFailures uint32
	BreakerOpenFor  time.Duration

	// Keepalive is the gRPC client keepalive ping interval. Zero disables pings.
	Keepalive time.Duration
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Timeout:         DefaultTimeout,
		BreakerFailures: 5,
		BreakerOpenFor:  30 * time.Second,
		Keepalive:       30 * time.Second,
	}
}

// ConfigFrom converts the application's Qdrant section into a ClientConfig.
func ConfigFrom(cfg config.QdrantConfig) (ClientConfig, error) {
	out := DefaultClientConfig()
	if cfg.URL != "" {
		host, port, tls, err := parseURL(cfg.URL)
		if err != nil {
			return ClientConfig{}, err
		}
		out.Host, out.Port, out.UseTLS = host, port, tls
	}
	out.APIKey = cfg.APIKey
	if cfg.Timeout > 0 {
		out.Timeout = cfg.Timeout
	}
	if cfg.BreakerFailures > 0 {
		out.BreakerFailures = cfg.BreakerFailures
	}
	if cfg.BreakerOpenFor > 0 {
		out.BreakerOpenFor = cfg.BreakerOpenFor
	}
	out.Keepalive = time.Duration(cfg.KeepaliveSeconds) * time.Second
	return out, nil
}

// parseURL splits a Qdrant URL such as http://localhost:6334 into its gRPC
// host, port and TLS flag. A URL without a port uses DefaultPort.
func parseURL(raw string) (string, int, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", 0, false, apperrors.ConfigError(fmt.Sprintf("invalid qdrant url %q", raw))
	}

	var tls bool
	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		tls = true
	default:
		return "", 0, false, apperrors.ConfigError(fmt.Sprintf("unsupported qdrant url scheme %q", u.Scheme))
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, false, apperrors.ConfigError(fmt.Sprintf("invalid qdrant port %q", p))
		}
	}
	return u.Hostname(), port, tls, nil
}

// dialOptions returns the extra gRPC options for cfg.
func dialOptions(cfg ClientConfig) []grpc.DialOption {
	if cfg.Keepalive <= 0 {
		return nil
	}
	return []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.Keepalive,
			Timeout:             cfg.Keepalive / 3,
			PermitWithoutStream: true,
		}),
	}
}

// Client wraps the Qdrant Go client. Search calls go through a circuit
// breaker so a down Qdrant fails fast instead of stalling every query.
type Client struct {
	client  *qdrant.Client
	config  ClientConfig
	breaker *gobreaker.CircuitBreaker[[]*qdrant.ScoredPoint]
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new Qdrant client wrapper. obs may be nil.
func NewClient(cfg ClientConfig, log *logger.Logger, obs StateObserver) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Discard()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: dialOptions(cfg),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "failed to create qdrant client", err)
	}

	return &Client{
		client:  client,
		config:  cfg,
		breaker: newBreaker(cfg, log, obs),
		log:     log,
	}, nil
}

func newBreaker(cfg ClientConfig, log *logger.Logger, obs StateObserver) *gobreaker.CircuitBreaker[[]*qdrant.ScoredPoint] {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	if obs != nil {
		obs.SetBreakerState(BreakerName, int(gobreaker.StateClosed))
	}

	return gobreaker.NewCircuitBreaker[[]*qdrant.ScoredPoint](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Caller cancellation says nothing about Qdrant's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			if obs != nil {
				obs.SetBreakerState(name, int(to))
			}
		},
	})
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.client.Close()
}

// HealthCheck verifies the Qdrant server is reachable and the collection exists.
func (c *Client) HealthCheck(ctx context.Context, collection string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.ServiceUnavailableError("qdrant client")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if _, err := c.client.HealthCheck(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "qdrant health check failed", err)
	}

	exists, err := c.client.CollectionExists(ctx, collection)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "checking collection", err)
	}
	if !exists {
		return apperrors.NotFoundError(fmt.Sprintf("collection %s", collection))
	}
	return nil
}

// query runs one query through the breaker.
func (c *Client) query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.ServiceUnavailableError("qdrant client")
	}

	points, err := c.breaker.Execute(func() ([]*qdrant.ScoredPoint, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		return c.client.Query(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.ServiceUnavailableError("qdrant")
		}
		return nil, apperrors.RetrievalError("qdrant query failed", err)
	}
	return points, nil
}
