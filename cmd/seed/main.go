// seed inserts development sample data for local testing: a firebase gateway
// configuration named fb1, an enrollment policy binding push tokens to it,
// and an authentication policy. It also prints a short-lived operator token.
// Idempotent: skips inserts if the gateway already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"credential-server/backend/internal/config"
	"credential-server/backend/internal/db"
	gwdomain "credential-server/backend/internal/gateway/domain"
	gatewayrepo "credential-server/backend/internal/gateway/repository"
	policydomain "credential-server/backend/internal/policy/domain"
	policyrepo "credential-server/backend/internal/policy/repository"
	"credential-server/backend/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run against APP_ENV=production")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gateways := gatewayrepo.NewPostgresRepository(database)
	existing, err := gateways.GetByName(ctx, "fb1")
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Println("seed: gateway fb1 already present, nothing to do")
		return
	}

	if err := gateways.Create(ctx, &gwdomain.Gateway{
		ID:        uuid.New().String(),
		Name:      "fb1",
		Provider:  "firebase",
		CreatedAt: time.Now().UTC(),
		Options: map[string]string{
			gwdomain.OptionRegistrationURL: cfg.RegistrationURLBase + "/ttype/push",
			gwdomain.OptionTTL:             "10",
			gwdomain.OptionProjectID:       "dev-project",
			gwdomain.OptionAPIKey:          "dev-api-key",
		},
	}); err != nil {
		log.Fatalf("seed gateway: %v", err)
	}

	policies := policyrepo.NewPostgresRepository(database)
	seedPolicies := []*policydomain.Policy{
		{
			ID:        uuid.New().String(),
			Name:      "push-enroll",
			Scope:     policydomain.ScopeEnrollment,
			Action:    policydomain.ActionFirebaseConfig + "=fb1",
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		},
		{
			ID:        uuid.New().String(),
			Name:      "push-text",
			Scope:     policydomain.ScopeAuthentication,
			Action:    policydomain.ActionPushText + "=Please confirm the login",
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, p := range seedPolicies {
		if err := policies.Create(ctx, p); err != nil {
			log.Fatalf("seed policy %s: %v", p.Name, err)
		}
	}

	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("JWT_PRIVATE_KEY: %v", err)
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("JWT_PUBLIC_KEY: %v", err)
		}
		provider := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.OperatorTokenTTL())
		token, expires, err := provider.Issue("dev-operator", "realm1", "admin")
		if err != nil {
			log.Fatalf("operator token: %v", err)
		}
		fmt.Printf("operator token (expires %s):\n%s\n", expires.Format(time.RFC3339), token)
	}

	log.Println("seed: done")
}
