package common

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Credentials
// --------------------------------------------------------------------------

// Credentials are the username and password sent once in the AuthReq frame
type Credentials struct {
	Username string
	Password string
}

// IsSet reports whether a username was configured
func (c Credentials) IsSet() bool {
	return c.Username != ""
}

// --------------------------------------------------------------------------
// TLS configuration
// --------------------------------------------------------------------------

var (
	ErrTLSCAFileRequired     = errors.New("tls: ca file required (or insecure-skip-verify)")
	ErrTLSKeyPairIncomplete  = errors.New("tls: cert file and key file must be set together")
	ErrTLSRequiresAuth       = errors.New("tls: credentials are required when tls is enabled")
	ErrTLSServerCertRequired = errors.New("tls: server cert file and key file required")
	ErrTLSServerNameRequired = errors.New("tls: server name required for endpoints without a host (unix sockets)")
)

// TLSConf holds the TLS settings of a client or server
type TLSConf struct {
	// Enabled turns on TLS for the connection
	Enabled bool
	// StartTLS negotiates the upgrade in-band with a StartTLS frame.
	// If false the TLS handshake starts as soon as the connection is active.
	StartTLS bool
	// CAFile is a PEM bundle used to verify the peer
	CAFile string
	// CertFile and KeyFile are the own certificate (client certificate or server certificate)
	CertFile string
	KeyFile  string
	// ServerName overrides the name used to verify the server certificate
	ServerName string
	// InsecureSkipVerify disables certificate verification (testing only)
	InsecureSkipVerify bool
}

// ValidateClient checks that the client side TLS settings are consistent
func (c TLSConf) ValidateClient() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrTLSKeyPairIncomplete
	}
	return nil
}

// ValidateServer checks that the server side TLS settings are consistent
func (c TLSConf) ValidateServer() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return ErrTLSServerCertRequired
	}
	return nil
}

// BuildClientTLSConfig loads the configured files into a *tls.Config for the client side.
// It returns nil if TLS is disabled. endpoint is used to derive the server name if none is set;
// a socket path has no host, so ServerName must be set for TLS over unix sockets.
func (c TLSConf) BuildClientTLSConfig(endpoint string) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if cfg.ServerName == "" {
		cfg.ServerName = hostOf(endpoint)
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, ErrTLSServerNameRequired
	}

	if c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// BuildServerTLSConfig loads the configured files into a *tls.Config for the server side.
// If a CA file is configured, client certificates are verified against it when presented.
func (c TLSConf) BuildServerTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load server key pair: %w", err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tls: no certificates found in %s", path)
	}
	return pool, nil
}

// hostOf strips the port. A unix socket path (anything containing a slash) yields an empty name.
func hostOf(endpoint string) string {
	if strings.Contains(endpoint, "/") {
		return ""
	}
	if i := strings.LastIndex(endpoint, ":"); i >= 0 {
		return strings.Trim(endpoint[:i], "[]")
	}
	return endpoint
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the protocol server
type ServerConfig struct {
	// Endpoint is the listen address (host:port for tcp, a path for unix)
	Endpoint string

	// TimeoutSecond is the read/write deadline per frame (0 = none)
	TimeoutSecond int64

	// TLS settings (StartTLS selects in-band upgrade instead of implicit TLS)
	TLS TLSConf

	// Users maps usernames to passwords. An empty map disables authentication.
	Users map[string]string

	// Node name and version reported by GetServerInfo
	NodeName      string
	ServerVersion string

	// MaxFrameSize limits the size of incoming frames (0 = default)
	MaxFrameSize uint32

	// Socket options applied to accepted connections
	SocketConf
	TCPConf

	// MetricsEndpoint serves the prometheus metrics (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// Timeout returns the configured timeout as a duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Protocol Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Node Name", c.NodeName)
	addField("Server Version", c.ServerVersion)
	addField("Metrics", c.MetricsEndpoint)

	addSection("Security")
	addField("TLS", fmt.Sprintf("%t", c.TLS.Enabled))
	if c.TLS.Enabled {
		addField("StartTLS", fmt.Sprintf("%t", c.TLS.StartTLS))
		addField("Cert File", c.TLS.CertFile)
		addField("CA File", c.TLS.CAFile)
	}

	// Sort usernames for consistent output, never print passwords
	users := make([]string, 0, len(c.Users))
	for u := range c.Users {
		users = append(users, u)
	}
	sort.Strings(users)
	addField("Users", strings.Join(users, ","))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes (0 = system default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig holds the transport level settings of the client
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// ClientConfig holds the client configuration
type ClientConfig struct {
	// TimeoutSecond is the read timeout for every exchange, including the handshake steps
	TimeoutSecond int
	// Credentials are sent after the optional TLS upgrade. Empty username skips authentication.
	Credentials Credentials
	TLS         TLSConf
	Transport   ClientTransportConfig
}

// Timeout returns the configured timeout as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Validate checks the client configuration for consistency
func (c *ClientConfig) Validate() error {
	if len(c.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if err := c.TLS.ValidateClient(); err != nil {
		return err
	}
	// The server only accepts TLS as part of the authenticated handshake
	if c.TLS.Enabled && !c.Credentials.IsSet() {
		return ErrTLSRequiresAuth
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Security
	addSection("Security")
	addField("User", c.Credentials.Username)
	addField("TLS", fmt.Sprintf("%t", c.TLS.Enabled))
	if c.TLS.Enabled {
		addField("StartTLS", fmt.Sprintf("%t", c.TLS.StartTLS))
		addField("CA File", c.TLS.CAFile)
		addField("Insecure Skip Verify", fmt.Sprintf("%t", c.TLS.InsecureSkipVerify))
	}

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
