package main

import (
	"log"

	"github.com/rrbip/batirama-connect-sub002/internal/config"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/pkg/database"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore/pgstore"
)

func main() {
	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{Verbose: cfg.Database.Verbose})
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting GORM migration...")

	models := model.All()
	if cfg.VectorStore.Backend == "pgvector" {
		models = append(models, pgstore.Models()...)
	}

	if err := database.Migrate(db, models...); err != nil {
		log.Fatalf("Error: Migration failed: %v", err)
	}

	// Partial index for the pending-indexing scan.
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_pending ON chunks (document_id) WHERE is_indexed = false`).Error; err != nil {
		log.Printf("Warn: Failed to create pending chunk index: %v", err)
	}

	log.Printf("Success: migrated %d tables", len(models))
}
