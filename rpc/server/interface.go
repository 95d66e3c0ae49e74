package server

import (
	"github.com/ValentinKolb/pbwire/rpc/common"
)

// HandlerFunc answers one request frame of an authenticated connection.
// An ErrorResp frame (see ErrorFrame) signals a failure to the client.
type HandlerFunc func(req common.Frame) (resp common.Frame)
