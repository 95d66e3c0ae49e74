package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/pbwire/cmd/probe"
	"github.com/ValentinKolb/pbwire/cmd/serve"
	"github.com/ValentinKolb/pbwire/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pbwire",
		Short: "client and server for the framed protobuf wire protocol",
		Long: fmt.Sprintf(`pbwire (v%s)

Client side of a length-prefixed binary protocol with a security handshake
(optional StartTLS or implicit TLS, then username/password authentication),
plus a small server for development and tests.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pbwire",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pbwire v%s\n", Version)
		},
	}
)

func init() {
	serve.Version = Version

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(probe.PingCmd)
	RootCmd.AddCommand(probe.InfoCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
