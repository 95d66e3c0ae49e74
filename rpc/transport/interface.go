package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/pbwire/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer for every request frame
// it does not answer itself (handshake and liveness frames are answered by the transport)
type ServerHandleFunc func(req common.Frame) (resp common.Frame)

// IRPCServerTransport is the interface for the server side transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves incoming connections until Close is called
	Listen(config common.ServerConfig) error
	// Addr blocks until the listener is bound and returns its address
	Addr() net.Addr
	// Close stops listening and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect opens the connections and runs the security handshake on each of them
	Connect(config common.ClientConfig) error
	// Send sends a request frame to the server and returns the response frame
	// An ErrorResp answer is returned as a *common.Error of kind KindRemoteError
	Send(ctx context.Context, req common.Frame) (resp common.Frame, err error)
	// Close closes the transport connections
	Close() error
}
