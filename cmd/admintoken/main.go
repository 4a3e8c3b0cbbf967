// Command admintoken prints a bearer token for the admin API, signed with
// ADMIN_JWT_SECRET (read from the environment or .env).
//
//	go run ./cmd/admintoken -sub ops -ttl 12h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tbourn/go-api-endpoints/internal/auth"
	"github.com/tbourn/go-api-endpoints/internal/sysutil"
)

func main() {
	sub := flag.String("sub", "admin", "token subject, recorded in admin request logs")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	log := sysutil.ConfigureLogger(os.Stderr, "info", true)

	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		log.Fatal().Msg("ADMIN_JWT_SECRET is not set")
	}
	if *ttl <= 0 {
		log.Fatal().Dur("ttl", *ttl).Msg("ttl must be positive")
	}

	tok, err := auth.IssueToken(secret, *sub, *ttl, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("issue token")
	}
	fmt.Println(tok)
}
