package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and exit",
	Run:   runValidate,
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Invalid config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	for _, r := range cfg.Routes {
		slog.Info("Route",
			"name", r.Name,
			"prefix", r.Prefix,
			"upstream", r.Upstream.Endpoint,
			"protocol", r.Upstream.Protocol,
			"backoff", r.Retry.Backoff.Type,
			"budget", r.Retry.Budget.Type,
			"classification_timeout", r.Retry.Deadline(),
		)
	}
	slog.Info("Config OK", "path", cfgPath, "routes", len(cfg.Routes))
}
