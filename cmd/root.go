// Package cmd provides the revcluster command line.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/adalundhe/revcluster/core/config"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

// settings and logger are set by the root pre-run hook.
var (
	settings *config.Config
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "revcluster",
	Short: "Vectorize wiki revision dumps and cluster the vectors",
	Long: `revcluster turns compressed wiki revision dumps into mean word-embedding
feature vectors, then picks the cluster count with the best silhouette score
and assigns every revision to a cluster.

Examples:
  revcluster vectorize dumps/ vectors/ enwiki.vec -w 4
  revcluster cluster vectors/ assignments.json -k 2,20,2 --scores scores.json
  revcluster embeddings import enwiki.vec enwiki.db`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadSettings resolves the layered config and installs the logger.
func loadSettings(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return err
	}

	settings = cfg
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}
