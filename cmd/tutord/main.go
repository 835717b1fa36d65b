package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "tutord",
	Short: "On-device tutoring daemon",
	Long: `tutord routes tutoring requests across cloud, edge, and on-device
LLM providers and manages the local model lifecycle.

Run "tutord serve" to start the daemon, then talk to it with the other
commands.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyColorEnv()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tutord version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tutord version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
