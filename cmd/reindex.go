package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/postgres"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the descriptor index from the database",
	Long: `Rebuild the in-memory descriptor search index from all enrolled
descriptors and persist it to HNSW_INDEX_PATH. Run after bulk enrollment
imports so the serve command starts with a warm index.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Database.HNSWIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH environment variable is required")
	}

	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	repo := postgres.NewDescriptorRepository(pool)

	all, err := repo.ListAll(ctx, database.DescriptorScope{})
	if err != nil {
		return fmt.Errorf("loading descriptors: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No descriptors enrolled, nothing to index")
		return nil
	}

	bar := progressbar.NewOptions(len(all),
		progressbar.OptionSetDescription("Indexing descriptors"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("descriptors"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	index := database.NewDescriptorIndex()
	for i := range all {
		index.Add(&all[i])
		bar.Add(1)
	}
	fmt.Println()

	index.SetPath(cfg.Database.HNSWIndexPath)
	if err := index.Save(); err != nil {
		return fmt.Errorf("saving descriptor index: %w", err)
	}

	fmt.Printf("Descriptor index with %d descriptors saved to %s\n", index.Count(), cfg.Database.HNSWIndexPath)
	return nil
}
