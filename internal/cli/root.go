// Package cli implements the hisab command line: a ledger store server
// (serve) and client commands driving the transaction engine against it.
package cli

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hisab-network/hisab/internal/client"
	"github.com/hisab-network/hisab/internal/daemon"
	"github.com/hisab-network/hisab/internal/infra/observability"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "hisab",
	Short: "Double-entry party ledger with Monday Final settlement",
	Long: `hisab records bilateral obligations between named parties as
double-entry ledger transactions, derives running balances, and manages
periodic Monday Final settlement. 'hisab serve' runs the ledger store;
the remaining commands drive the client engine against it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config.toml (default ~/.hisab/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the effective configuration for the current command.
func loadConfig() (daemon.Config, error) {
	return daemon.Load(cfgPath)
}

// newClient builds the HTTP store client from config.
func newClient(cfg daemon.Config) *client.Client {
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	c := client.New(cfg.Store.URL, cfg.CoordinatorConfig(), metrics, nil)
	if cfg.Store.Token != "" {
		c.SetToken(cfg.Store.Token)
	}
	return c
}
