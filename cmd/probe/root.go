package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/pbwire/cmd/util"
	"github.com/ValentinKolb/pbwire/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// PingCmd sends Ping requests over an authenticated connection
	PingCmd = &cobra.Command{
		Use:               "ping",
		Short:             "Check that the server answers on an authenticated connection",
		PersistentPreRunE: setupClient,
		PersistentPostRun: closeClient,
		RunE:              runPing,
	}

	// InfoCmd prints the node name and version of the server
	InfoCmd = &cobra.Command{
		Use:               "info",
		Short:             "Print the node name and version reported by the server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: closeClient,
		RunE:              runInfo,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to both commands
	util.SetupRPCClientFlags(PingCmd)
	util.SetupRPCClientFlags(InfoCmd)

	PingCmd.Flags().Int("count", 1, util.WrapString("Number of Ping requests to send"))
	PingCmd.Flags().Duration("interval", time.Second, util.WrapString("Pause between two Ping requests"))
}

// setupClient connects the client, the security handshake runs on every connection
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	if err := config.Validate(); err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcClient, err = client.NewClient(*config, t)
	return err
}

func closeClient(_ *cobra.Command, _ []string) {
	if rpcClient != nil {
		_ = rpcClient.Close()
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(viper.GetInt("timeout")+1)*time.Second)
}

func runPing(_ *cobra.Command, _ []string) error {
	count := viper.GetInt("count")
	interval := viper.GetDuration("interval")

	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}

		ctx, cancel := requestContext()
		start := time.Now()
		err := rpcClient.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping %d: %w", i+1, err)
		}
		fmt.Printf("pong seq=%d time=%s\n", i+1, time.Since(start).Round(time.Microsecond))
	}
	return nil
}

func runInfo(_ *cobra.Command, _ []string) error {
	ctx, cancel := requestContext()
	defer cancel()

	info, err := rpcClient.ServerInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("node:    %s\nversion: %s\n", info.Node, info.ServerVersion)
	return nil
}
