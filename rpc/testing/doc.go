// Package testing provides helpers for testing clients of the protocol against
// controlled peers.
//
// The package contains:
//   - Authority: a throwaway certificate authority issuing server and client
//     certificates as PEM files (usable through common.TLSConf) or ready tls.Configs
//   - ScriptedServer: a loopback TCP server running a Script per connection, used to
//     play well behaved servers as well as servers that answer with errors,
//     unexpected codes, garbage or not at all
//
// Example usage:
//
//	srv := testing.NewScriptedServer(t, func(p *testing.Peer) error {
//		if _, err := p.Expect(common.MsgCAuthReq); err != nil {
//			return err
//		}
//		return p.Reply(common.MsgCAuthResp)
//	})
//	conn := base.NewConn(srv.Dial(t), base.ConnOptions{Timeout: time.Second})
//	_, err := handshake.Perform(conn, creds, nil).Wait(ctx)
package testing
