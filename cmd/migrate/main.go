// migrate creates or updates the scheduler's Postgres schema.
// Run: go run ./cmd/migrate
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/KAR2812/CaaS/internal/infrastructure/postgres"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL, postgres.DefaultPoolConfig())
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	for i, stmt := range postgres.Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("migrate statement %d: %v", i+1, err)
		}
	}

	fmt.Println("Migration complete")
	fmt.Println()
	fmt.Println("  Tables:  jobs, job_attempts")
	fmt.Println("  Indexes: jobs_dedup_key_live, jobs_pending_due, jobs_active_heartbeat, job_attempts_job_id")
}
