package base

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// HandshakeFunc installs the security handshake on a connection that has not been
// started yet, starts it and returns the pending outcome.
type HandshakeFunc func(conn *Conn, creds common.Credentials, tlsConfig *tls.Config, startTLS bool) *Exchange

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection represents a single socket to one endpoint
type clientConnection struct {
	endpoint   string
	connMu     sync.Mutex // held across issue and wait: one request in flight per connection
	conn       *Conn
	correlator *Correlator
	parent     *clientTransport
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	handshake     HandshakeFunc
	config        common.ClientConfig
	tlsConfigs    *xsync.MapOf[string, *tls.Config] // per endpoint, built once
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector.
// handshake is run on every new connection if credentials are configured.
func NewBaseClientTransport(connector IClientConnector, handshake HandshakeFunc) transport.IRPCClientTransport {
	return &clientTransport{
		connector:  connector,
		handshake:  handshake,
		tlsConfigs: xsync.NewMapOf[string, *tls.Config](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Close all existing connections
	t.closeConnections()

	// Store the config
	t.config = config
	t.stopping.Store(false)
	t.tlsConfigs.Clear()

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}
	total := len(config.Transport.Endpoints) * connectionsPerEP

	// Dial and authenticate all connections in parallel. Unreachable endpoints are
	// skipped, but a rejection by the server (bad credentials, bad certificate,
	// protocol mismatch) is a configuration error and aborts the whole connect.
	g, ctx := errgroup.WithContext(context.Background())
	var mu sync.Mutex
	var lastErr error
	connections := make([]*clientConnection, 0, total)

	for _, endpoint := range config.Transport.Endpoints {
		endpoint := endpoint
		for i := 0; i < connectionsPerEP; i++ {
			i := i
			clientConn := &clientConnection{
				endpoint: endpoint,
				parent:   t,
			}

			g.Go(func() error {
				clientConn.connMu.Lock()
				err := clientConn.reconnectLocked(ctx)
				clientConn.connMu.Unlock()

				if err != nil {
					if !common.IsRetryable(err) {
						return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
					}
					Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
					mu.Lock()
					lastErr = err
					mu.Unlock()
					return nil
				}

				Logger.Infof("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)
				mu.Lock()
				connections = append(connections, clientConn)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		for _, c := range connections {
			c.close()
		}
		return err
	}

	// Check if we have at least one connection
	if len(connections) == 0 {
		return fmt.Errorf("failed to connect to any endpoint: %w", lastErr)
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected to %d out of %d connections to %d endpoints using %s transport",
		len(connections), total, len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, req common.Frame) (resp common.Frame, err error) {
	// Retry logic with exponential backoff
	var lastErr error

	// We always try at least once, and up to maxRetries times
	maxRetries := t.config.Transport.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	for i := 0; i < maxRetries; i++ {
		if t.stopping.Load() {
			return common.Frame{}, fmt.Errorf("transport is closed")
		}

		conn := t.getNextConnection()
		if conn == nil {
			return common.Frame{}, fmt.Errorf("no active connections available")
		}

		// Try with this connection
		resp, err := conn.send(ctx, req)
		if err == nil {
			return resp, nil
		}

		// An explicit answer of the server or a cancelled caller is final
		if !common.IsRetryable(err) {
			return common.Frame{}, err
		}

		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i+1 < maxRetries {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-ctx.Done():
				return common.Frame{}, ctx.Err()
			}
			backoffMs *= 2
		}
	}

	// All attempts failed
	return common.Frame{}, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}

	// Simple Round Robin algorithm
	var index uint64
	if len(t.connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	}
	return t.connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		conn.close()
	}

	// Empty the list
	t.connections = nil
}

// tlsConfigFor returns the client TLS configuration for an endpoint (nil if TLS is disabled)
func (t *clientTransport) tlsConfigFor(endpoint string) (*tls.Config, error) {
	if !t.config.TLS.Enabled {
		return nil, nil
	}
	if cfg, ok := t.tlsConfigs.Load(endpoint); ok {
		return cfg, nil
	}
	cfg, err := t.config.TLS.BuildClientTLSConfig(endpoint)
	if err != nil {
		return nil, err
	}
	cfg, _ = t.tlsConfigs.LoadOrStore(endpoint, cfg)
	return cfg, nil
}

// send issues one request on this connection and waits for its response.
// A broken connection is re-established first.
func (c *clientConnection) send(ctx context.Context, req common.Frame) (common.Frame, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Test if connection is still valid
	if c.conn == nil || c.conn.IsClosed() {
		if err := c.reconnectLocked(ctx); err != nil {
			return common.Frame{}, err
		}
	}

	ex, err := c.correlator.Issue(req)
	if err != nil {
		return common.Frame{}, err
	}

	resp, err := ex.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// the response may still arrive and would be taken for the next request's
		c.conn.Close()
	}
	return resp, err
}

// reconnectLocked establishes or restores the connection and runs the handshake.
// The caller holds connMu.
func (c *clientConnection) reconnectLocked(ctx context.Context) error {
	t := c.parent

	// Close the old connection if it exists
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.correlator = nil
	}

	tlsConfig, err := t.tlsConfigFor(c.endpoint)
	if err != nil {
		return err
	}

	// Connect to the endpoint
	raw, err := t.connector.Connect(ctx, c.endpoint)
	if err != nil {
		return common.NewTransportError(fmt.Sprintf("failed to connect to %s", c.endpoint), err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(raw, t.config); err != nil {
		raw.Close()
		return common.NewTransportError(fmt.Sprintf("failed to upgrade connection to %s", c.endpoint), err)
	}

	conn := NewConn(raw, ConnOptions{Timeout: t.config.Timeout()})
	correlator := NewCorrelator(conn)
	conn.Push(correlator)

	if t.config.Credentials.IsSet() && t.handshake != nil {
		outcome := t.handshake(conn, t.config.Credentials, tlsConfig, t.config.TLS.StartTLS)
		if _, err := outcome.Wait(ctx); err != nil {
			conn.Close()
			return err
		}
	} else {
		conn.Start()
	}

	c.conn = conn
	c.correlator = correlator
	return nil
}

// close closes the underlying connection
func (c *clientConnection) close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
