package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/client"
	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/server"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
	"github.com/ValentinKolb/pbwire/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	msgUpperReq  common.MessageCode = 100
	msgUpperResp common.MessageCode = 101
	msgFailReq   common.MessageCode = 102
)

// freeAddr reserves a loopback port and releases it again
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startServer(t *testing.T, config common.ServerConfig) *server.RPCServer {
	t.Helper()

	config.Endpoint = "127.0.0.1:0"
	config.TimeoutSecond = 2
	config.Users = map[string]string{"u": "p"}
	config.NodeName = "node-1"
	config.ServerVersion = "1.0.0"

	s := server.NewRPCServer(config, tcp.NewTCPServerTransport())
	s.Handle(msgUpperReq, func(req common.Frame) common.Frame {
		return common.NewFrame(msgUpperResp, []byte(strings.ToUpper(string(req.Payload))))
	})
	s.Handle(msgFailReq, func(req common.Frame) common.Frame {
		return server.ErrorFrame(base.ErrCodeGeneric, "refused")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})

	_ = s.Addr()
	return s
}

func newClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.NewClient(common.ClientConfig{
		TimeoutSecond: 2,
		Credentials:   common.Credentials{Username: "u", Password: "p"},
		Transport:     common.ClientTransportConfig{Endpoints: []string{addr}},
	}, tcp.NewTCPClientTransport())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDispatch(t *testing.T) {
	s := startServer(t, common.ServerConfig{})
	c := newClient(t, s.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Exchange(ctx, msgUpperReq, []byte("hello"), msgUpperResp)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(resp))

	require.NoError(t, c.Ping(ctx))
	info, err := c.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-1", info.Node)
}

func TestHandlerError(t *testing.T) {
	s := startServer(t, common.ServerConfig{})
	c := newClient(t, s.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Exchange(ctx, msgFailReq, nil, msgUpperResp)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRemote)

	var e *common.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, base.ErrCodeGeneric, e.Code)
	assert.Equal(t, "refused", e.Msg)
}

func TestUnknownCode(t *testing.T) {
	s := startServer(t, common.ServerConfig{})
	c := newClient(t, s.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Exchange(ctx, 150, nil, 151)
	var e *common.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, common.KindRemoteError, e.Kind)
	assert.Equal(t, base.ErrCodeUnknownMessage, e.Code)

	// the connection stays usable
	require.NoError(t, c.Ping(ctx))
}

func TestHandlerReplaced(t *testing.T) {
	s := startServer(t, common.ServerConfig{})
	s.Handle(msgUpperReq, func(req common.Frame) common.Frame {
		return common.NewFrame(msgUpperResp, []byte("replaced"))
	})
	c := newClient(t, s.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Exchange(ctx, msgUpperReq, []byte("x"), msgUpperResp)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(resp))
}

func TestMetricsEndpoint(t *testing.T) {
	metricsAddr := freeAddr(t)
	s := startServer(t, common.ServerConfig{MetricsEndpoint: metricsAddr})
	c := newClient(t, s.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Exchange(ctx, msgUpperReq, []byte("a"), msgUpperResp)
	require.NoError(t, err)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + metricsAddr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return true
	}, 3*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, `pbwire_server_requests_total{code="100"}`)
	assert.Contains(t, body, `pbwire_handshakes_total{result="success"}`)
}
