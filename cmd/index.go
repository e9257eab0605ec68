package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the face recognition index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the persisted HNSW person index from the database",
	Long: `Read every embedding of an active person and write a fresh HNSW index
to HNSW_INDEX_PATH. Running servers pick the new file up on their next start;
a live server can be refreshed with POST /api/superadmin/index/rebuild.`,
	RunE: runIndexRebuild,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recognition index and enrollment counts",
	RunE:  runIndexStats,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatsCmd)

	indexRebuildCmd.Flags().String("path", "", "Index file path (defaults to HNSW_INDEX_PATH)")
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	path := mustGetString(cmd, "path")
	if path == "" {
		path = cfg.Database.HNSWIndexPath
	}
	if path == "" {
		return errors.New("no index path: set HNSW_INDEX_PATH or pass --path")
	}

	pool, persons, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	rows, err := persons.Embeddings(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No enrolled embeddings, nothing to index")
		return nil
	}

	fmt.Printf("Indexing %d embeddings\n\n", len(rows))
	index, err := buildIndex(ctx, rows, os.Stderr)
	if err != nil {
		return err
	}

	metadata := database.HNSWIndexMetadata{
		EmbeddingCount: int64(index.Count()),
		MaxEmbeddingID: index.MaxID(),
	}
	if err := index.Save(path, metadata); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	fmt.Printf("\nIndex with %d embeddings written to %s\n", index.Count(), path)
	return nil
}

// buildIndex adds rows one at a time so progress can be reported.
func buildIndex(ctx context.Context, rows []database.PersonEmbedding, out io.Writer) (*database.HNSWIndex, error) {
	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Building index"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("vectors"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	index := database.NewHNSWIndex()
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		index.Add(row)
		bar.Add(1)
	}
	bar.Finish()
	return index, nil
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	pool, persons, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	initPersonHNSW(ctx, persons, cfg.Database.HNSWIndexPath)
	recognizer := faceservice.NewRecognizer(persons, persons, cfg.Face.Threshold, cfg.Face.StrictThreshold)
	stats, err := recognizer.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	printStats(os.Stdout, stats)
	return nil
}

func printStats(w io.Writer, s faceservice.Stats) {
	t := newTable(w, "Metric", "Value")
	t.AppendRow([]any{"Persons", s.Persons})
	t.AppendRow([]any{"Embeddings", s.Embeddings})
	t.AppendRow([]any{"Index enabled", s.IndexEnabled})
	t.AppendRow([]any{"Indexed vectors", s.IndexedVectors})
	t.AppendRow([]any{"Match threshold", fmt.Sprintf("%.2f", s.Threshold)})
	t.AppendRow([]any{"Attendance threshold", fmt.Sprintf("%.2f", s.StrictThreshold)})
	t.Render()
}
