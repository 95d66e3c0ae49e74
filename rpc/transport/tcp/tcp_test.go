package tcp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/client"
	"github.com/ValentinKolb/pbwire/rpc/common"
	pbtesting "github.com/ValentinKolb/pbwire/rpc/testing"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
	"github.com/ValentinKolb/pbwire/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	msgEchoReq  common.MessageCode = 100
	msgEchoResp common.MessageCode = 101
)

var users = map[string]string{"u": "p"}

func echoHandler(req common.Frame) common.Frame {
	if req.Code != msgEchoReq {
		return common.NewFrame(common.MsgCErrorResp, nil)
	}
	return common.NewFrame(msgEchoResp, req.Payload)
}

// startServer runs a TCP server on a free loopback port and returns its address
func startServer(t *testing.T, config common.ServerConfig) string {
	t.Helper()

	config.Endpoint = "127.0.0.1:0"
	if config.NodeName == "" {
		config.NodeName = "node-1"
		config.ServerVersion = "1.0.0"
	}

	srv := tcp.NewTCPServerTransport()
	srv.RegisterHandler(echoHandler)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(config) }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		require.NoError(t, <-errCh)
	})

	return srv.Addr().String()
}

func clientConfig(endpoints ...string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 2,
		Credentials:   common.Credentials{Username: "u", Password: "p"},
		Transport: common.ClientTransportConfig{
			Endpoints:  endpoints,
			RetryCount: 2,
			TCPConf:    common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 30},
		},
	}
}

func newClient(t *testing.T, config common.ClientConfig) *client.Client {
	t.Helper()
	c, err := client.NewClient(config, tcp.NewTCPClientTransport())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func exerciseClient(t *testing.T, c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))

	info, err := c.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-1", info.Node)
	assert.Equal(t, "1.0.0", info.ServerVersion)

	payload, err := c.Exchange(ctx, msgEchoReq, []byte("hello"), msgEchoResp)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPlaintext(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})
	exerciseClient(t, newClient(t, clientConfig(addr)))
}

func TestStartTLS(t *testing.T) {
	dir := t.TempDir()
	ca := pbtesting.NewAuthority(t, dir, "pbwire test ca")
	certFile, keyFile := ca.IssueServerCert(t, dir, "localhost")

	addr := startServer(t, common.ServerConfig{
		TimeoutSecond: 5,
		Users:         users,
		TLS:           common.TLSConf{Enabled: true, StartTLS: true, CertFile: certFile, KeyFile: keyFile},
	})

	config := clientConfig(addr)
	config.TLS = common.TLSConf{Enabled: true, StartTLS: true, CAFile: ca.CAFile()}
	exerciseClient(t, newClient(t, config))
}

func TestImplicitTLSWithClientCert(t *testing.T) {
	dir := t.TempDir()
	ca := pbtesting.NewAuthority(t, dir, "pbwire test ca")
	certFile, keyFile := ca.IssueServerCert(t, dir, "localhost")
	clientCert, clientKey := ca.IssueClientCert(t, dir, "client")

	addr := startServer(t, common.ServerConfig{
		TimeoutSecond: 5,
		Users:         users,
		TLS:           common.TLSConf{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: ca.CAFile()},
	})

	config := clientConfig(addr)
	config.TLS = common.TLSConf{Enabled: true, CAFile: ca.CAFile(), CertFile: clientCert, KeyFile: clientKey}
	exerciseClient(t, newClient(t, config))
}

func TestWrongPassword(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})

	config := clientConfig(addr)
	config.Credentials.Password = "wrong"
	_, err := client.NewClient(config, tcp.NewTCPClientTransport())

	var perr *common.Error
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, common.KindRemoteError, perr.Kind)
	assert.Equal(t, base.ErrCodeAuthFailed, perr.Code)
	assert.Equal(t, "Authentication failed", perr.Msg)
}

func TestAuthenticationRequired(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})

	config := clientConfig(addr)
	config.Credentials = common.Credentials{}
	c := newClient(t, config)

	err := c.Ping(context.Background())
	var perr *common.Error
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, base.ErrCodeAuthRequired, perr.Code)
}

func TestStartTLSUnavailable(t *testing.T) {
	dir := t.TempDir()
	ca := pbtesting.NewAuthority(t, dir, "pbwire test ca")
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})

	config := clientConfig(addr)
	config.TLS = common.TLSConf{Enabled: true, StartTLS: true, CAFile: ca.CAFile()}
	_, err := client.NewClient(config, tcp.NewTCPClientTransport())

	var perr *common.Error
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, common.KindRemoteError, perr.Kind)
	assert.Equal(t, base.ErrCodeTLSUnavailable, perr.Code)
}

func TestUnknownCode(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})
	c := newClient(t, clientConfig(addr))

	// the handler answers anything but echo with an empty error body
	_, err := c.Exchange(context.Background(), 42, nil, 43)
	assert.True(t, errors.Is(err, common.ErrProtocolViolation), "got %v", err)

	// the connection is still usable afterwards
	require.NoError(t, c.Ping(context.Background()))
}

func TestUnreachableEndpointSkipped(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})

	// a port that was just free is almost certainly closed
	dead := startDeadEndpoint(t)
	c := newClient(t, clientConfig(dead, addr))

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Ping(context.Background()))
	}
}

func TestNoReachableEndpoint(t *testing.T) {
	_, err := client.NewClient(clientConfig(startDeadEndpoint(t)), tcp.NewTCPClientTransport())
	assert.Error(t, err)
}

func TestReconnectAfterServerRestart(t *testing.T) {
	config := common.ServerConfig{TimeoutSecond: 5, Users: users, NodeName: "node-1", ServerVersion: "1.0.0"}
	config.Endpoint = "127.0.0.1:0"

	first := tcp.NewTCPServerTransport()
	go func() { _ = first.Listen(config) }()
	addr := first.Addr().String()

	c := newClient(t, clientConfig(addr))
	require.NoError(t, c.Ping(context.Background()))

	// restart on the same address, the old connection is dead
	require.NoError(t, first.Close())
	config.Endpoint = addr
	second := tcp.NewTCPServerTransport()
	errCh := make(chan error, 1)
	go func() { errCh <- second.Listen(config) }()
	second.Addr()
	t.Cleanup(func() {
		second.Close()
		<-errCh
	})

	require.NoError(t, c.Ping(context.Background()))
}

func TestClosedTransport(t *testing.T) {
	addr := startServer(t, common.ServerConfig{TimeoutSecond: 5, Users: users})
	c := newClient(t, clientConfig(addr))
	require.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}

func TestConfigValidation(t *testing.T) {
	var tr transport.IRPCClientTransport = tcp.NewTCPClientTransport()

	assert.Error(t, tr.Connect(common.ClientConfig{}), "no endpoints")

	config := clientConfig("127.0.0.1:1")
	config.TLS = common.TLSConf{Enabled: true}
	assert.ErrorIs(t, tr.Connect(config), common.ErrTLSCAFileRequired)

	config = clientConfig("127.0.0.1:1")
	config.Credentials = common.Credentials{}
	config.TLS = common.TLSConf{Enabled: true, InsecureSkipVerify: true}
	assert.ErrorIs(t, tr.Connect(config), common.ErrTLSRequiresAuth)
}

// startDeadEndpoint returns an address nobody listens on
func startDeadEndpoint(t *testing.T) string {
	t.Helper()
	srv := pbtesting.NewScriptedServer(t, func(p *pbtesting.Peer) error { return nil })
	addr := srv.Addr()
	srv.Close()
	return addr
}
