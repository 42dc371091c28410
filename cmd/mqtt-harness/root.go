package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	projectRoot string
	environment string
	host        string
	port        int
	logLevel    string
	metricsAddr string
}

var rootOpts rootOptions

var rootCmd = &cobra.Command{
	Use:   "mqtt-harness",
	Short: "Exercise an MQTT broker over mutual TLS",
	Long: `mqtt-harness connects to an MQTT broker with client certificates and
checks that messages make it through: roundtrip runs a single publish/receive
round-trip, listen prints whatever arrives on a set of topic filters.`,
	SilenceUsage: true,
}

func setVersion(v string) {
	rootCmd.Version = v
}

func execute() {
	rootCmd.SetVersionTemplate(`{{printf "mqtt-harness version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootOpts.configPath, "config", "c", "", "path to config file (default: <root>/config/environments/<env>.yaml)")
	flags.StringVar(&rootOpts.projectRoot, "root", ".", "project root used to locate environment configs")
	flags.StringVarP(&rootOpts.environment, "env", "e", "", "environment name (default: $TEST_ENV or dev)")
	flags.StringVar(&rootOpts.host, "host", "", "override broker host")
	flags.IntVar(&rootOpts.port, "port", 0, "override broker port (0 = use config)")
	flags.StringVar(&rootOpts.logLevel, "log-level", "", "override log level")
	flags.StringVar(&rootOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newRoundtripCmd())
	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mqtt-harness",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqtt-harness version %s\n", rootCmd.Version)
		},
	}
}
