package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web UI",
	Long: `Start a read-only browser UI on localhost showing stored runs, their
patches and ledger history. /metrics exposes run outcomes for Prometheus and
/run/<id>/stream follows a run's trajectory live.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg.Agent.Log)
		if err != nil {
			return err
		}
		defer logger.Close()

		var ledger web.Ledger
		if url := cfg.Agent.Ledger.DatabaseURL; url != "" {
			d, cleanup, err := openDB(cmd.Context(), url)
			if err != nil {
				return err
			}
			defer cleanup()
			ledger = d
		}

		store := artifacts.NewStore(cfg.Agent.Paths.Output)
		return web.NewServer(store, ledger, fmt.Sprintf(":%d", port), logger.Logger).Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
}
