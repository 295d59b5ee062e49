package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"mrv/database"
	"mrv/logger"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	list := flag.Bool("list", false, "print the embedded migrations and exit")
	flag.Parse()

	_ = godotenv.Load()
	log := logger.New(os.Getenv("LOG_LEVEL"))

	if *list {
		migrations, err := database.Migrations()
		if err != nil {
			log.Error("failed to read migrations", "error", err)
			os.Exit(1)
		}
		for _, m := range migrations {
			fmt.Println(m.Name)
		}
		return
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Error("DATABASE_URL not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		log.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer conn.Close(context.Background())

	err = database.Migrate(ctx, conn, func(name string) {
		log.Info("migration applied", "name", name)
	})
	if err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	log.Info("all migrations completed")
}
