package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hisab-network/hisab/internal/api"
	"github.com/hisab-network/hisab/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger store server",
	Long:  `Start the HTTP ledger store backed by SQLite. Data lives under [api].data_dir.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.API.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	server := api.NewServer(db)
	if cfg.API.Metrics {
		server.EnableMetrics()
	}

	addr := cfg.ListenAddr()
	slog.Info("Ledger store listening", "addr", addr, "data_dir", cfg.API.DataDir)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
