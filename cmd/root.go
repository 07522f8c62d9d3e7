package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/statesync/cmd/perf"
	"github.com/ValentinKolb/statesync/cmd/run"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "statesync",
		Short: "real-time state synchronization core",
		Long: fmt.Sprintf(`statesync (v%s)

An in-process optimistic-replication core written in Go: a registry of
independently-owned subsystem states kept consistent through conflict
detection and resolution, periodic snapshotting and rollback.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of statesync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("statesync v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(run.RunCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
