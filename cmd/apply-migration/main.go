package main

import (
	"fmt"
	"log"
	"os"

	"wisefido-iotcore/internal/config"
	"wisefido-iotcore/owl-common/database"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "", "optional YAML config file")
	pflag.Parse()

	if pflag.NArg() < 1 {
		log.Fatalf("Usage: %s [--config file.yaml] <migration_file.sql>", os.Args[0])
	}
	migrationFile := pflag.Arg(0)

	sqlContent, err := os.ReadFile(migrationFile)
	if err != nil {
		log.Fatalf("Failed to read migration file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer database.Close(db)

	fmt.Printf("Connected to database: %s\n", cfg.Database.Database)

	// whole file in one transaction; lib/pq runs multi-statement text without args
	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	if _, err := tx.Exec(string(sqlContent)); err != nil {
		_ = tx.Rollback()
		log.Fatalf("Failed to apply %s: %v", migrationFile, err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit migration: %v", err)
	}

	fmt.Println("Migration completed successfully")
}
