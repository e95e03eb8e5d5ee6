package main

import (
	"log"

	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/config"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/pkg/database"
)

func main() {
	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{})
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Seeding agents...")
	SeedAgents(db, cfg.VectorStore.DocumentCollection)

	log.Println("Seeding webhook targets...")
	SeedWebhookTargets(db)

	log.Println("Seeding completed!")
}

func SeedAgents(db *gorm.DB, collection string) {
	agents := []model.Agent{
		{
			Name:                  "support-technique",
			SystemPrompt:          "Tu es un assistant technique pour les artisans du bâtiment. Réponds de façon précise en t'appuyant sur la documentation fournie.",
			Collection:            collection,
			ScoreThreshold:        0.5,
			MaxResults:            5,
			UseCategoryFilter:     true,
			LearnedThreshold:      0.85,
			DirectAnswerThreshold: 0.95,
			HistoryWindow:         6,
		},
		{
			Name:                  "catalogue-produits",
			SystemPrompt:          "Tu aides à trouver les produits du catalogue adaptés au chantier décrit.",
			Collection:            collection,
			ScoreThreshold:        0.45,
			MaxResults:            8,
			IterativeSearch:       true,
			LearnedThreshold:      0.9,
			DirectAnswerThreshold: 0.97,
			HistoryWindow:         4,
			ChunkStrategy:         "paragraph",
		},
	}

	for _, a := range agents {
		var existing model.Agent
		if err := db.Where("name = ?", a.Name).First(&existing).Error; err == nil {
			log.Printf("Agent '%s' already exists, skipping...", a.Name)
			continue
		}

		if err := db.Create(&a).Error; err != nil {
			log.Printf("Error creating agent '%s': %v", a.Name, err)
		} else {
			log.Printf("Created agent: %s (%s)", a.Name, a.Id)
		}
	}
}
