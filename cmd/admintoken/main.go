// Command admintoken mints an admin bearer token signed with the configured
// JWT key. Admin accounts live outside this system.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"campusvote/internal/auth"
	"campusvote/internal/config"
)

func main() {
	subject := flag.String("subject", "", "admin identity recorded as election creator")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: admintoken -subject <name> [-ttl 8h]")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	tok, err := auth.Issue(*subject, auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.AccessToken)
}
