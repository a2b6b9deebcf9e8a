// seed inserts development users for local testing.
// Idempotent: skips users whose email already exists.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/config"
	"authsessions/backend/internal/db"
	"authsessions/backend/internal/security"
	"authsessions/backend/internal/user/domain"
	userrepo "authsessions/backend/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []domain.User{
	{Username: "admin", Email: "admin@example.com", FullName: "Dev Admin", Role: domain.RoleAdmin},
	{Username: "moderator", Email: "moderator@example.com", FullName: "Dev Moderator", Role: domain.RoleModerator},
	{Username: "dev", Email: "dev@example.com", FullName: "Dev User", Role: domain.RoleUser},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	hash, err := security.NewHasher(cfg.BcryptCost).Hash(devPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("hash password")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	for _, u := range devUsers {
		existing, err := users.GetByEmail(ctx, u.Email)
		if err != nil {
			log.Fatal().Err(err).Str("email", u.Email).Msg("seed check")
		}
		if existing != nil {
			log.Info().Str("email", u.Email).Msg("already seeded, skipping")
			continue
		}
		u.ID = uuid.New().String()
		u.PasswordHash = hash
		u.Status = domain.UserStatusActive
		u.CreatedAt, u.UpdatedAt = now, now
		if err := users.Create(ctx, &u); err != nil {
			log.Fatal().Err(err).Str("email", u.Email).Msg("create user")
		}
		fmt.Printf("%s login: %s / %s\n", u.Role, u.Email, devPassword)
	}
	log.Info().Msg("seed completed")
}
