package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"relay-backend/internal/config"

	_ "github.com/lib/pq"
)

// Verifies the configured DSN is reachable and the ledger tables exist with
// the expected shapes before a deploy flips traffic over.
func main() {
	fmt.Println("🔍 Verifying database connection and ledger schema...")

	if err := config.LoadConfig(os.Getenv("CONFIG_PATH")); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	for _, table := range []string{"gas_tanks", "submission_records"} {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to query table %s: %v", table, err)
		}
		if !exists {
			log.Fatalf("❌ Table %s does not exist (run the server once to migrate)", table)
		}
		fmt.Printf("✅ Table %s exists\n", table)
	}

	var size sql.NullInt64
	err = sqlDB.QueryRow(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = 'gas_tanks'
		AND column_name = 'account'
	`).Scan(&size)
	if err != nil {
		log.Fatalf("Failed to query column size: %v", err)
	}
	if size.Valid && size.Int64 < 42 {
		log.Fatalf("❌ gas_tanks.account is varchar(%d), needs at least 42", size.Int64)
	}
	fmt.Println("✅ gas_tanks.account column size OK")

	fmt.Println("✅ Database verification complete")
}
