package client

import (
	"context"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores everything needed to send requests over a connected transport
type rpcClientAdapter struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// invokeRPCRequest sends req over the transport and checks the response.
// An ErrorResp frame has already been turned into a RemoteError by the transport;
// any other code than expect is a protocol violation.
func invokeRPCRequest(ctx context.Context, req common.Frame, transport transport.IRPCClientTransport, expect common.MessageCode) (common.Frame, error) {
	// Send the request
	resp, err := transport.Send(ctx, req)
	if err != nil {
		return common.Frame{}, err
	}

	// Check if the code of the response is the expected one
	if resp.Code != expect {
		return common.Frame{}, common.NewUnexpectedCode(resp.Code, expect)
	}

	return resp, nil
}
