package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"agromarket/internal/adapter/repository"
	"agromarket/pkg/config"
	"agromarket/pkg/logger"
)

// migrate rewrites chats stored with the legacy field names into the
// canonical schema.
func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	prune := flag.Bool("prune", false, "delete legacy fields after copying them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var opt option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opt = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	} else {
		opt = option.WithCredentialsFile(cfg.ServiceAccountPath)
	}

	client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer client.Close()

	migrator := repository.NewChatMigrator(client)
	migrator.DryRun = *dryRun
	migrator.Prune = *prune

	report, err := migrator.Run(ctx)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}
