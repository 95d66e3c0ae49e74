package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
	"github.com/ValentinKolb/pbwire/rpc/transport"
)

// Client sends protocol requests over a connected client transport.
// Every connection of the transport has completed the security handshake
// before the first request is sent on it.
type Client struct {
	rpcClientAdapter
}

// NewClient connects the transport with config and returns a client using it
func NewClient(config common.ClientConfig, transport transport.IRPCClientTransport) (*Client, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	Logger.Debugf("client connected: %s", config.String())

	return &Client{
		rpcClientAdapter{
			config:    config,
			transport: transport,
		},
	}, nil
}

// Ping checks that the server is alive and answers on an authenticated connection
func (c *Client) Ping(ctx context.Context) error {
	_, err := invokeRPCRequest(ctx, common.NewFrame(common.MsgCPingReq, nil), c.transport, common.MsgCPingResp)
	return err
}

// ServerInfo returns the node name and version reported by the server
func (c *Client) ServerInfo(ctx context.Context) (serializer.ServerInfo, error) {
	resp, err := invokeRPCRequest(ctx, common.NewFrame(common.MsgCGetServerInfoReq, nil), c.transport, common.MsgCGetServerInfoResp)
	if err != nil {
		return serializer.ServerInfo{}, err
	}

	var info serializer.ServerInfo
	if err := info.Deserialize(resp.Payload); err != nil {
		return serializer.ServerInfo{}, common.NewProtocolViolation("malformed server info: %v", err)
	}
	return info, nil
}

// Exchange sends one raw request and expects a response with the code expect.
// It is the escape hatch for request types this package does not model.
func (c *Client) Exchange(ctx context.Context, code common.MessageCode, payload []byte, expect common.MessageCode) ([]byte, error) {
	resp, err := invokeRPCRequest(ctx, common.NewFrame(code, payload), c.transport, expect)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	return resp.Payload, nil
}

// Close closes all connections of the underlying transport
func (c *Client) Close() error {
	return c.transport.Close()
}
