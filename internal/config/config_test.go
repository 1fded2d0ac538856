package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "credsrv-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "credsrv-auth")
	}
	if cfg.JWTAudience != "credsrv-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "credsrv-api")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.ChallengeTTL != "2m" {
		t.Errorf("ChallengeTTL = %q, want %q", cfg.ChallengeTTL, "2m")
	}
	if cfg.EnrollKeyBits != 4096 {
		t.Errorf("EnrollKeyBits = %d, want 4096", cfg.EnrollKeyBits)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("CHALLENGE_TTL", "5m")
	os.Setenv("BCRYPT_COST", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.BcryptCost != 6 {
		t.Errorf("BcryptCost = %d, want 6", cfg.BcryptCost)
	}
	if got := cfg.PushChallengeTTL(); got != 5*time.Minute {
		t.Errorf("PushChallengeTTL = %v, want 5m", got)
	}
}

func TestLoad_RejectsBadBcryptCost(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("BCRYPT_COST", "50")

	if _, err := Load(); err == nil {
		t.Error("Load accepted BCRYPT_COST=50, want error")
	}
}

func TestLoad_RejectsWeakKeyBits(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("ENROLL_KEY_BITS", "512")

	if _, err := Load(); err == nil {
		t.Error("Load accepted ENROLL_KEY_BITS=512, want error")
	}
}

func TestDurationAccessors_FallBack(t *testing.T) {
	cfg := &Config{JWTTTL: "bogus", ChallengeTTL: ""}
	if got := cfg.OperatorTokenTTL(); got != time.Hour {
		t.Errorf("OperatorTokenTTL = %v, want 1h", got)
	}
	if got := cfg.PushChallengeTTL(); got != 2*time.Minute {
		t.Errorf("PushChallengeTTL = %v, want 2m", got)
	}
}
