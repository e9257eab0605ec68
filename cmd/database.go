package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/postgres"
)

// openDatabase connects, migrates and registers the PostgreSQL stores. The
// person repository is returned separately because it owns the HNSW index.
func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.PersonRepository, database.Stores, error) {
	if cfg.Database.URL == "" {
		return nil, nil, database.Stores{}, errors.New("DATABASE_URL environment variable is required")
	}
	if err := cfg.Database.CheckReachable(); err != nil {
		return nil, nil, database.Stores{}, err
	}

	fmt.Printf("Connecting to PostgreSQL database (%s)...\n", cfg.Database.Redacted())
	if err := postgres.Initialize(ctx, &cfg.Database); err != nil {
		return nil, nil, database.Stores{}, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	persons := postgres.NewPersonRepository(pool)
	stores := postgres.NewStores(pool, persons)
	database.RegisterPersonHNSWRebuilder(persons)
	return pool, persons, stores, nil
}

// initPersonHNSW builds or loads the person HNSW index for fast recognition.
func initPersonHNSW(ctx context.Context, persons *postgres.PersonRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading person HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for recognition...\n")
	}
	if err := persons.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build person HNSW index: %v\n", err)
		fmt.Printf("Recognition will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Person HNSW index ready with %d embeddings (persisted to %s)\n", persons.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Person HNSW index built with %d embeddings (in-memory only)\n", persons.HNSWCount())
	}
}

// saveHNSWIndex saves the person index to disk during shutdown.
func saveHNSWIndex() {
	rebuilder := database.GetPersonHNSWRebuilder()
	if rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		fmt.Printf("Warning: failed to save person HNSW index: %v\n", err)
	} else {
		fmt.Println("Person HNSW index saved to disk")
	}
}
