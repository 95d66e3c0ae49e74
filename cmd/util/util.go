package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/ValentinKolb/pbwire/rpc/transport/tcp"
	"github.com/ValentinKolb/pbwire/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The read timeout in seconds for every exchange, including each handshake step"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8087", WrapString("The address of the server. Multiple endpoints can be specified as a comma-separated list, unreachable endpoints are skipped"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request on a closed connection"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp, 0 keeps the system default)"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("Username sent in the AuthReq frame. Required if tls is enabled"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password sent in the AuthReq frame"))

	SetupTLSFlags(cmd)

	key = "tls-server-name"
	cmd.PersistentFlags().String(key, "", WrapString("Name used to verify the server certificate (defaults to the endpoint host)"))

	key = "tls-insecure"
	cmd.PersistentFlags().Bool(key, false, WrapString("Skip verification of the server certificate (testing only)"))
}

// SetupTLSFlags adds the TLS flags shared by the client and the server commands
func SetupTLSFlags(cmd *cobra.Command) {
	key := "tls"
	cmd.PersistentFlags().Bool(key, false, WrapString("Secure the connection with TLS before authenticating"))

	key = "starttls"
	cmd.PersistentFlags().Bool(key, true, WrapString("Negotiate TLS in-band with a StartTLS frame. If false the TLS handshake starts as soon as the connection is open"))

	key = "tls-ca"
	cmd.PersistentFlags().String(key, "", WrapString("PEM file with the CA certificates used to verify the peer"))

	key = "tls-cert"
	cmd.PersistentFlags().String(key, "", WrapString("PEM file with the own certificate"))

	key = "tls-key"
	cmd.PersistentFlags().String(key, "", WrapString("PEM file with the private key of the own certificate"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("pbwire")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetTLSConf reads the TLS settings from viper
func GetTLSConf() common.TLSConf {
	return common.TLSConf{
		Enabled:            viper.GetBool("tls"),
		StartTLS:           viper.GetBool("starttls"),
		CAFile:             viper.GetString("tls-ca"),
		CertFile:           viper.GetString("tls-cert"),
		KeyFile:            viper.GetString("tls-key"),
		ServerName:         viper.GetString("tls-server-name"),
		InsecureSkipVerify: viper.GetBool("tls-insecure"),
	}
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Credentials: common.Credentials{
			Username: viper.GetString("user"),
			Password: viper.GetString("password"),
		},
		TLS: GetTLSConf(),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}

	return conf
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// ParseUsers parses a comma-separated list of user=password pairs
func ParseUsers(list string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, password, ok := strings.Cut(entry, "=")
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid user format: %s (expected USER=PASSWORD)", entry)
		}
		users[user] = password
	}
	return users, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
