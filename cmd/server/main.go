package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credential-server/backend/internal/audit"
	auditrepo "credential-server/backend/internal/audit/repository"
	challengerepo "credential-server/backend/internal/challenge/repository"
	"credential-server/backend/internal/config"
	"credential-server/backend/internal/db"
	gatewayrepo "credential-server/backend/internal/gateway/repository"
	"credential-server/backend/internal/notify"
	policyengine "credential-server/backend/internal/policy/engine"
	policyrepo "credential-server/backend/internal/policy/repository"
	"credential-server/backend/internal/security"
	"credential-server/backend/internal/server"
	"credential-server/backend/internal/token"
	tokenhandler "credential-server/backend/internal/token/handler"
	"credential-server/backend/internal/token/push"
	tokenrepo "credential-server/backend/internal/token/repository"
	"credential-server/backend/internal/token/totp"
	"credential-server/backend/internal/validate"
	validatehandler "credential-server/backend/internal/validate/handler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	privKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("JWT_PRIVATE_KEY: %v", err)
	}
	pubKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("JWT_PUBLIC_KEY: %v", err)
	}
	tokenProvider := security.NewTokenProvider(privKey, pubKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.OperatorTokenTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	tokens := tokenrepo.NewPostgresRepository(database)
	challenges := challengerepo.NewPostgresRepository(database)
	policies := policyrepo.NewPostgresRepository(database)
	gateways := gatewayrepo.NewPostgresRepository(database)
	audits := auditrepo.NewPostgresRepository(database)

	evaluator, err := policyengine.NewOPAEvaluator(policies)
	if err != nil {
		log.Fatalf("policy engine: %v", err)
	}
	auditor := audit.NewLogger(audits, server.ClientIP)

	pushVariant := push.New(tokens, challenges, gateways, evaluator, notify.NewFirebaseClient(), push.Config{
		KeyBits:         cfg.EnrollKeyBits,
		ChallengeTTL:    cfg.PushChallengeTTL(),
		RegistrationURL: cfg.RegistrationURLBase,
	})
	totpVariant := totp.New(tokens, cfg.JWTIssuer)
	engine := token.NewEngine(tokens, hasher, pushVariant, totpVariant)
	validator := validate.NewService(engine, challenges, hasher, evaluator, auditor)

	router := server.NewRouter(server.Deps{
		Tokens:    tokenProvider,
		TokenH:    tokenhandler.NewTokenHandler(engine, pushVariant, challenges, auditor),
		ValidateH: validatehandler.NewValidateHandler(validator),
		DB:        database,
		Policy:    evaluator,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
