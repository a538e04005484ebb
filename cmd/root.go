package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSync/cmd/lock"
	"github.com/ValentinKolb/dSync/cmd/record"
	"github.com/ValentinKolb/dSync/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dsync",
		Short: "distributed record synchronization core",
		Long: fmt.Sprintf(`dSync (v%s)

A distributed synchronization core for per-entity records written in Go:
TTL-based distributed locks, heartbeat liveness tracking, pub/sub cache
coherence and write-behind caching on top of a Redis-compatible store.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSync v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(record.RecordCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
