package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/revcluster/core/embedding"
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Manage embedding stores",
}

var embeddingsImportCmd = &cobra.Command{
	Use:   "import <src.vec> <dst.db>",
	Short: "Convert a text embedding file to a sqlite store",
	Long: `Convert a word2vec text file into a sqlite store that vectorize can open
without loading the whole vocabulary into memory. The first occurrence of a
token wins.`,
	Args: cobra.ExactArgs(2),
	RunE: runEmbeddingsImport,
}

func init() {
	rootCmd.AddCommand(embeddingsCmd)
	embeddingsCmd.AddCommand(embeddingsImportCmd)
}

type importOutput struct {
	RunID    string        `json:"run_id"`
	Source   string        `json:"source"`
	Database string        `json:"database"`
	Tokens   int           `json:"tokens"`
	Duration time.Duration `json:"duration"`
}

func runEmbeddingsImport(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	out := importOutput{RunID: newRunID(), Source: src, Database: dst}
	logger.Info("import started", "run_id", out.RunID, "source", src, "database", dst)

	n, err := embedding.ImportText(ctx, src, dst)
	if err != nil {
		return err
	}
	out.Tokens = n
	out.Duration = time.Since(start)

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	p := newPalette(w)
	fmt.Fprintln(w, p.paint(colorBold+colorCyan, "Embeddings import"))
	field(w, p, "Run", out.RunID)
	field(w, p, "Database", out.Database)
	field(w, p, "Tokens", out.Tokens)
	field(w, p, "Duration", formatDuration(out.Duration))
	return nil
}
