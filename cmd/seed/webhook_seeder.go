package main

import (
	"encoding/json"
	"log"
	"os"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
)

// SeedWebhookTargets registers WEBHOOK_URL for every event. Nothing is seeded when it is unset.
func SeedWebhookTargets(db *gorm.DB) {
	url := os.Getenv("WEBHOOK_URL")
	if url == "" {
		log.Println("WEBHOOK_URL not set, skipping webhook targets")
		return
	}

	subscribed, _ := json.Marshal([]string{
		events.DocumentIndexed,
		events.DocumentFailed,
		events.QueryAnswered,
		events.ResponseLearned,
	})

	var existing model.WebhookTarget
	if err := db.Where("url = ?", url).First(&existing).Error; err == nil {
		log.Printf("Webhook target '%s' already exists, skipping...", url)
		return
	}

	target := model.WebhookTarget{
		Name:     "default",
		Url:      url,
		Secret:   os.Getenv("WEBHOOK_SECRET"),
		Events:   datatypes.JSON(subscribed),
		IsActive: true,
	}
	if err := db.Create(&target).Error; err != nil {
		log.Printf("Error creating webhook target: %v", err)
		return
	}
	log.Printf("Created webhook target: %s", target.Id)
}
