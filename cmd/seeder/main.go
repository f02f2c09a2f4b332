// cmd/seeder/main.go
package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/config"
	"github.com/komi12345/ChatbotFrance-sub000/internal/db"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "seeder").Logger()
	cfg := config.Load()

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	files := []string{
		"migrations/001_init.sql",
		"seed/recipients.sql",
		"seed/campaigns.sql",
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read SQL file")
		}
		if _, err := conn.Exec(string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute SQL file")
		}
		log.Info().Str("file", file).Msg("applied")
	}

	log.Info().Msg("database seeding completed")
}
