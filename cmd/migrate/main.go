package main

import (
	"flag"
	"log"
	"strings"
	"time"

	"github.com/damoang/angple-contrib/internal/config"
	"github.com/damoang/angple-contrib/internal/database"
	"github.com/damoang/angple-contrib/internal/migration"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Migration target constants
const (
	targetSchema = "schema"
	targetSeed   = "seed"
	targetSample = "sample"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	target := flag.String("target", "all", "migration target: all, schema, seed, sample")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	loaded := config.LoadDotEnv()
	if len(loaded) == 0 {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	db, err := database.Open(cfg.Database, logLevel)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	if err := runMigration(db, *target); err != nil {
		log.Fatalf("[migrate] %v", err)
	}
}

func runMigration(db *gorm.DB, target string) error {
	start := time.Now()

	for _, t := range parseTargets(target) {
		log.Printf("[migrate] Starting: %s", t)
		tStart := time.Now()

		var err error
		switch t {
		case targetSchema:
			err = db.AutoMigrate(migration.Models()...)
		case targetSeed:
			err = migration.SeedReferences(db)
		case targetSample:
			err = migration.SeedSample(db)
		default:
			log.Printf("[migrate] Unknown target: %s", t)
			continue
		}

		if err != nil {
			log.Printf("[migrate] FAILED %s: %v", t, err)
			return err
		}
		log.Printf("[migrate] Completed %s in %v", t, time.Since(tStart))
	}

	log.Printf("[migrate] All migrations completed in %v", time.Since(start))
	return nil
}

func parseTargets(target string) []string {
	if target == "all" {
		return []string{targetSchema, targetSeed}
	}
	return strings.Split(target, ",")
}
