package main

import (
	"fmt"
	"os"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/common/database"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"

	_ "github.com/lib/pq"
)

// 执行 scripts/init_database.sql 建表
// 用法: initdb [sql_file]
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	sqlFile := "scripts/init_database.sql"
	if len(os.Args) > 1 {
		sqlFile = os.Args[1]
	}

	sqlBytes, err := os.ReadFile(sqlFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read SQL file: %v\n", err)
		os.Exit(1)
	}

	if _, err := db.Exec(string(sqlBytes)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute SQL: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ secureheart tables created successfully!")
}
