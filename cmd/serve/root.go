package serve

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/pbwire/cmd/util"
	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a protocol server",
		Long:    `Start a protocol server that performs the security handshake (StartTLS or implicit TLS, then authentication) and answers Ping and GetServerInfo. The configuration can be set via command line flags or environment variables. The format of the environment variables is PBWIRE_<flag> (e.g. PBWIRE_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

// Version is reported by GetServerInfo unless --server-version is set
var Version = "dev"

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8087", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8087, /tmp/pbwire.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Read and write timeout per frame in seconds (0 disables it)"))

	key = "users"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of accepted credentials in the format 'user=password,...'. Empty disables authentication"))

	cmdUtil.SetupTLSFlags(ServeCmd)

	key = "node-name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Node name reported by GetServerInfo (defaults to the hostname)"))

	key = "server-version"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Server version reported by GetServerInfo"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Uint32(key, 0, cmdUtil.WrapString("Largest accepted frame in bytes (0 uses the default)"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Socket write buffer of accepted connections in KB (0 keeps the system default)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Socket read buffer of accepted connections in KB (0 keeps the system default)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on accepted connections"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Keepalive interval of accepted connections in seconds"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus metrics endpoint (e.g. :9090). Empty disables it"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	users, err := cmdUtil.ParseUsers(viper.GetString("users"))
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Users = users
	serveCmdConfig.TLS = cmdUtil.GetTLSConf()
	serveCmdConfig.NodeName = viper.GetString("node-name")
	serveCmdConfig.ServerVersion = viper.GetString("server-version")
	serveCmdConfig.MaxFrameSize = viper.GetUint32("max-frame-size")
	serveCmdConfig.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
	serveCmdConfig.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
	}
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.NodeName == "" {
		if host, err := os.Hostname(); err == nil {
			serveCmdConfig.NodeName = host
		}
	}
	if serveCmdConfig.ServerVersion == "" {
		serveCmdConfig.ServerVersion = Version
	}

	// tls without credentials would let clients skip authentication
	if serveCmdConfig.TLS.Enabled && len(serveCmdConfig.Users) == 0 {
		return common.ErrTLSRequiresAuth
	}
	return serveCmdConfig.TLS.ValidateServer()
}

// run starts the protocol server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(*serveCmdConfig, t)
	return serv.Serve(ctx)
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("pbwire")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
